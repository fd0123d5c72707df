// Package geo looks up the public IP address and approximate location of the
// dashboard's clients over HTTP.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

const (
	DefaultIPURL     = "https://api.ipify.org"
	DefaultLocateURL = "https://ipapi.co"
	defaultTimeout   = 5 * time.Second
)

type Client struct {
	http      *http.Client
	ipURL     *url.URL
	locateURL *url.URL
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithIPURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.ipURL = u
		}
	}
}

func WithLocateURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.locateURL = u
		}
	}
}

func New(opts ...Option) *Client {
	ip, _ := url.Parse(DefaultIPURL)
	loc, _ := url.Parse(DefaultLocateURL)
	c := &Client{
		http:      &http.Client{Timeout: defaultTimeout},
		ipURL:     ip,
		locateURL: loc,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LookupIP asks the IP echo service for the caller's public address.
func (c *Client) LookupIP(ctx context.Context) (string, error) {
	u := *c.ipURL
	u.RawQuery = url.Values{"format": {"json"}}.Encode()

	var out struct {
		IP string `json:"ip"`
	}
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return "", fmt.Errorf("lookup ip: %w", err)
	}
	if out.IP == "" {
		return "", errors.New("lookup ip: empty response")
	}
	return out.IP, nil
}

// Locate returns the geolocation record of ip, or of the caller when ip is
// empty.
func (c *Client) Locate(ctx context.Context, ip string) (map[string]any, error) {
	u := *c.locateURL
	if ip == "" {
		u.Path = path.Join(u.Path, "json") + "/"
	} else {
		u.Path = path.Join(u.Path, ip, "json") + "/"
	}

	var out map[string]any
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return nil, fmt.Errorf("locate %s: %w", ip, err)
	}
	if failed, _ := out["error"].(bool); failed {
		return nil, fmt.Errorf("locate %s: %v", ip, out["reason"])
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package backend

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/retry"
)

// locateTimeout bounds the geolocation lookup of CreateSession.
var locateTimeout = 5 * time.Second

// ClientInfo describes the end user's client as seen by the HTTP layer.
type ClientInfo struct {
	IP        string
	URL       string
	UserAgent string
}

type clientInfoKey struct{}

// WithClientInfo attaches the caller's client details to ctx.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the client details attached to ctx.
func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info, ok
}

// IPLookup reports the public IP address of the client.
type IPLookup interface {
	LookupIP(ctx context.Context) (string, error)
}

// Locator reports an approximate location for the client.
type Locator interface {
	Locate(ctx context.Context, ip string) (map[string]any, error)
}

// CreateSession records a new login session with a random token and
// best-effort IP and location details. Lookup failures leave those fields
// empty instead of failing the call.
func (f *Facade) CreateSession(ctx context.Context, userID string, deviceInfo map[string]any) (*remote.Session, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if deviceInfo == nil {
		deviceInfo = map[string]any{}
	}

	ns := remote.NewSession{
		UserID:       userID,
		SessionToken: uuid.NewString(),
		DeviceInfo:   deviceInfo,
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return demoSession(ns, f.now()), nil
	case Configured:
		ip := f.clientIP(ctx)
		if ip != "" {
			ns.IPAddress = &ip
		}
		ns.LocationData = f.locate(ctx, ip)

		s, err := retry.Do(ctx, f.retry, "createSession", func(ctx context.Context) (*remote.Session, error) {
			return c.Remote.InsertSession(ctx, ns)
		})
		if err != nil {
			return nil, &RemoteError{Op: "createSession", Err: err}
		}
		f.track(ctx, "session_created", userID, map[string]any{"userId": userID})
		return s, nil
	}
	return nil, errUnknownConnection
}

func (f *Facade) clientIP(ctx context.Context) string {
	if info, ok := ClientInfoFrom(ctx); ok && info.IP != "" {
		return info.IP
	}
	if f.ip == nil {
		return ""
	}
	ip, err := f.ip.LookupIP(ctx)
	if err != nil {
		f.log.Debug().Err(err).Msg("client IP lookup failed")
		return ""
	}
	return ip
}

// locate never takes longer than locateTimeout, even if the Locator ignores
// its context.
func (f *Facade) locate(ctx context.Context, ip string) map[string]any {
	empty := map[string]any{}
	if f.locator == nil {
		return empty
	}
	ctx, cancel := context.WithTimeout(ctx, locateTimeout)
	defer cancel()

	type result struct {
		loc map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := f.locator.Locate(ctx, ip)
		done <- result{loc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil || r.loc == nil {
			if r.err != nil {
				f.log.Debug().Err(r.err).Msg("location lookup failed")
			}
			return empty
		}
		return r.loc
	case <-ctx.Done():
		f.log.Debug().Err(ctx.Err()).Msg("location lookup timed out")
		return empty
	}
}

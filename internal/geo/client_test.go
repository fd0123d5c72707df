package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	c := New(WithIPURL(srv.URL), WithHTTPClient(srv.Client()))
	ip, err := c.LookupIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ip)
}

func TestLookupIP_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(WithIPURL(srv.URL))
	_, err := c.LookupIP(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 503")
}

func TestLocate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"city":"Berlin","country_code":"DE"}`))
	}))
	defer srv.Close()

	c := New(WithLocateURL(srv.URL))
	loc, err := c.Locate(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "/203.0.113.7/json/", gotPath)
	assert.Equal(t, "Berlin", loc["city"])

	_, err = c.Locate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/json/", gotPath)
}

func TestLocate_ErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":true,"reason":"Reserved IP Address"}`))
	}))
	defer srv.Close()

	c := New(WithLocateURL(srv.URL))
	_, err := c.Locate(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reserved IP Address")
}

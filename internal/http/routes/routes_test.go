package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuecx/dashboard/internal/auth"
	"github.com/queuecx/dashboard/internal/backend"
	"github.com/queuecx/dashboard/internal/email"
	"github.com/queuecx/dashboard/internal/interest"
	"github.com/queuecx/dashboard/internal/remote"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (r *recordingSender) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func newDemoServer(t *testing.T) (*Server, *recordingSender) {
	t.Helper()
	f := backend.New(backend.Unconfigured{})
	t.Cleanup(f.Close)
	sender := &recordingSender{}
	s := New(ServerOptions{
		Backend:  f,
		Interest: &interest.Service{Sender: sender, Log: zerolog.Nop()},
		Log:      zerolog.Nop(),
	})
	return s, sender
}

func do(t *testing.T, h http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_Demo(t *testing.T) {
	s, _ := newDemoServer(t)
	rec := do(t, s.Router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var h map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h["status"])
	assert.Equal(t, "demo", h["mode"])
}

func TestAPI_Demo(t *testing.T) {
	s, _ := newDemoServer(t)

	rec := do(t, s.Router, http.MethodGet, "/api/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"demo"`)

	rec = do(t, s.Router, http.MethodPatch, "/api/profile", map[string]any{"display_name": strings.Repeat("x", 40)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"display name must be between 1 and 32 characters","field":"display_name"}`, rec.Body.String())

	rec = do(t, s.Router, http.MethodPatch, "/api/profile", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Router, http.MethodPut, "/api/context", map[string]any{"system_prompt": "Be brief.", "notes": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"system_prompt":"Be brief."`)

	rec = do(t, s.Router, http.MethodGet, "/api/files/batch?apps=QCX,Fluid&app=Other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = do(t, s.Router, http.MethodGet, "/api/activity?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Router, http.MethodPost, "/api/sessions", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadFile_Demo(t *testing.T) {
	s, _ := newDemoServer(t)

	body, ct := multipartBody(t, map[string]string{"app": "QCX"}, "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"app_name":"QCX"`)

	body, ct = multipartBody(t, map[string]string{"app": "../etc"}, "notes.txt", []byte("hello"))
	req = httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInterestForm(t *testing.T) {
	s, sender := newDemoServer(t)

	rec := do(t, s.Router, http.MethodPost, "/api/submit-interest-form", map[string]string{
		"email":             "jane@example.com",
		"identity":          "Customer",
		"message":           "Hello",
		"submissionContext": "Demo Request",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "New QCX Demo Request from jane@example.com", sender.sent[0].Subject)

	rec = do(t, s.Router, http.MethodPost, "/api/submit-interest-form", map[string]string{
		"email":             "jane@example.com",
		"identity":          "Robot",
		"message":           "Hello",
		"submissionContext": "Demo Request",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"identity"`)
}

func TestAuth_DemoMode(t *testing.T) {
	s, _ := newDemoServer(t)

	rec := do(t, s.Router, http.MethodPost, "/auth/login", map[string]string{"email": "x@y.z", "password": "whatever"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"demo"`)

	rec = do(t, s.Router, http.MethodGet, "/auth/oauth/github", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s.Router, http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestActivityStream_Demo(t *testing.T) {
	s, _ := newDemoServer(t)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/activity/stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, conn.Close())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&backend.ValidationError{Field: "x", Message: "bad"}, http.StatusBadRequest},
		{&backend.AuthError{Err: remote.ErrNotAuthenticated}, http.StatusUnauthorized},
		{fmt.Errorf("sign in: %w", auth.ErrInvalidCredentials), http.StatusUnauthorized},
		{auth.ErrEmailTaken, http.StatusConflict},
		{auth.ErrWeakPassword, http.StatusBadRequest},
		{&backend.UploadError{Path: "p", Err: errors.New("disk full")}, http.StatusBadGateway},
		{&backend.RemoteError{Op: "getUser", Err: errors.New("timeout")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSafeRedirect(t *testing.T) {
	for in, want := range map[string]string{
		"":                     "/",
		"/settings":            "/settings",
		"//evil.example":       "/",
		"https://evil.example": "/",
		`/\evil.example`:       "/",
	} {
		assert.Equal(t, want, safeRedirect(in), in)
	}
}

package auth

import (
	"testing"
	"time"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := Signer{Secret: []byte("secret")}
	tok := s.Sign(KindAccess, "user-1", time.Now().Add(time.Hour))

	got, err := s.Verify(KindAccess, tok)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if got != "user-1" {
		t.Errorf("Expected subject user-1, got %s", got)
	}
}

func TestSigner_SubjectWithSeparator(t *testing.T) {
	s := Signer{Secret: []byte("secret")}
	tok := s.Sign(KindState, "github|/settings?tab=a|b", time.Now().Add(time.Hour))
	got, err := s.Verify(KindState, tok)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if got != "github|/settings?tab=a|b" {
		t.Errorf("Unexpected subject %q", got)
	}
}

func TestSigner_Rejects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := Signer{Secret: []byte("secret"), Now: func() time.Time { return now }}
	good := s.Sign(KindAccess, "user-1", now.Add(time.Minute))

	tests := []struct {
		name  string
		kind  string
		token string
		want  error
	}{
		{"no separator", KindAccess, "abc", ErrBadToken},
		{"bad base64", KindAccess, "!!!." + "sig", ErrBadToken},
		{"other secret", KindAccess, Signer{Secret: []byte("other")}.Sign(KindAccess, "user-1", now.Add(time.Minute)), ErrBadSig},
		{"wrong kind", KindRefresh, good, ErrBadPayload},
		{"expired", KindAccess, s.Sign(KindAccess, "user-1", now.Add(-time.Second)), ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.kind, tt.token)
			if err != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadToken   = errors.New("bad token")
	ErrBadSig     = errors.New("invalid signature")
	ErrExpired    = errors.New("expired")
	ErrBadPayload = errors.New("bad payload")
)

// Token kinds. A token only verifies as the kind it was signed for.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
	KindState   = "state"
)

// Signer issues and checks HMAC-signed tokens of the form
// base64(kind|subject|exp).base64(sig).
type Signer struct {
	Secret []byte
	Now    func() time.Time
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Signer) mac(msg []byte) []byte {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Sign returns a token for subject that expires at exp.
func (s Signer) Sign(kind, subject string, exp time.Time) string {
	msg := strings.Join([]string{kind, subject, strconv.FormatInt(exp.Unix(), 10)}, "|")
	sig := base64.RawURLEncoding.EncodeToString(s.mac([]byte(msg)))
	payload := base64.RawURLEncoding.EncodeToString([]byte(msg))
	return payload + "." + sig
}

// Verify checks signature, kind and expiry and returns the subject.
func (s Signer) Verify(kind, token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", ErrBadToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrBadToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrBadToken
	}
	if !hmac.Equal(sig, s.mac(payload)) {
		return "", ErrBadSig
	}

	// subject may itself contain '|', so split kind off the front and exp off the back
	msg := string(payload)
	i, j := strings.Index(msg, "|"), strings.LastIndex(msg, "|")
	if i < 0 || i == j {
		return "", ErrBadPayload
	}
	if msg[:i] != kind {
		return "", ErrBadPayload
	}
	subject := msg[i+1 : j]
	expUnix, err := strconv.ParseInt(msg[j+1:], 10, 64)
	if err != nil || subject == "" {
		return "", ErrBadPayload
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", ErrExpired
	}
	return subject, nil
}

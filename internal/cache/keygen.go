package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Key joins a key family prefix and its parts with "-", e.g.
// Key("profile", "u1") == "profile-u1".
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + "-" + strings.Join(parts, "-")
}

// SetKey builds a key whose last part is an order-insensitive set of names.
func SetKey(prefix, owner string, names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return Key(prefix, owner, strings.Join(sorted, ","))
}

// SearchKey builds the key of a cached search page.
func SearchKey(userID, query string, limit int) string {
	return Key("search", userID, query, strconv.Itoa(limit))
}

// Fingerprint shortens a secret (such as a bearer token) into a stable key
// part that does not reveal it.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

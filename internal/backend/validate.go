package backend

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/queuecx/dashboard/internal/remote"
)

const (
	MaxDisplayName  = 32
	MaxAvatarURL    = 2048
	MaxSystemPrompt = 1000
	MaxNotes        = 2000
	MaxAvatarSize   = 2 << 20
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// ValidEmail applies the loose address check used across the dashboard.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func validateProfileUpdate(upd remote.ProfileUpdate) error {
	if len(upd.Fields()) == 0 {
		return invalid("", "no profile fields to update")
	}
	if upd.DisplayName != nil {
		n := utf8.RuneCountInString(strings.TrimSpace(*upd.DisplayName))
		if n < 1 || n > MaxDisplayName {
			return invalid("display_name", "display name must be between 1 and %d characters", MaxDisplayName)
		}
	}
	if upd.AvatarURL != nil && *upd.AvatarURL != "" {
		if len(*upd.AvatarURL) > MaxAvatarURL {
			return invalid("avatar_url", "avatar URL must be %d characters or less", MaxAvatarURL)
		}
		u, err := url.Parse(*upd.AvatarURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "") {
			return invalid("avatar_url", "avatar URL must be an http(s) URL or a storage path")
		}
	}
	if upd.Email != nil && !ValidEmail(*upd.Email) {
		return invalid("email", "invalid email format")
	}
	return nil
}

func validateContext(systemPrompt, notes string) error {
	if utf8.RuneCountInString(systemPrompt) > MaxSystemPrompt {
		return invalid("system_prompt", "system prompt must be %d characters or less", MaxSystemPrompt)
	}
	if utf8.RuneCountInString(notes) > MaxNotes {
		return invalid("notes", "notes must be %d characters or less", MaxNotes)
	}
	return nil
}

func validateFile(file File, maxSize int64, types []string) error {
	if file.Name == "" || len(file.Data) == 0 {
		return invalid("file", "no file selected")
	}
	if int64(len(file.Data)) > maxSize {
		return invalid("file", "file size must be less than %s", humanSize(maxSize))
	}
	if len(types) == 0 {
		return nil
	}
	for _, prefix := range types {
		if strings.HasPrefix(file.ContentType, prefix) {
			return nil
		}
	}
	return invalid("file", "file type %q is not allowed", file.ContentType)
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid(field, "%s is required", field)
	}
	return nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "MB"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "KB"
	default:
		return strconv.FormatInt(n, 10) + " bytes"
	}
}

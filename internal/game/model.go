package game

import (
	"crypto/rand"
	"errors"
	"strings"
)

var (
	// ErrUnavailable marks a feature whose backend is not configured.
	ErrUnavailable  = errors.New("feature unavailable")
	ErrNoPackage    = errors.New("no active package")
	ErrSelfReferral = errors.New("cannot refer yourself")

	errNoChange = errors.New("no change")
)

const maxKeyGrant = 100

func generateInviteCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}

func normalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func usernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	parts := strings.Split(email, "@")
	if len(parts) == 0 || parts[0] == "" {
		return "investor"
	}
	return sanitizeUsername(parts[0])
}

func sanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "investor"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "investor_" + res
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return strings.TrimRight(res, "_")
}

package session

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// AccessCode is the 14-character credential issued to a registrant:
// three groups of letters and digits joined by dashes. It doubles as the
// Basic-auth password on every backend call and, split into its groups,
// as the input sequence for the token provider's credential entry.
type AccessCode string

const (
	codeLength  = 14
	groupLength = 4
)

// ParseAccessCode normalizes raw to uppercase and validates its shape.
func ParseAccessCode(raw string) (AccessCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != codeLength {
		return "", fmt.Errorf("access code must be %d characters, got %d", codeLength, len(code))
	}
	groups := strings.Split(code, "-")
	if len(groups) != 3 {
		return "", fmt.Errorf("access code must have 3 dash-separated groups")
	}
	for _, group := range groups {
		if len(group) != groupLength {
			return "", fmt.Errorf("access code group %q must have %d characters", group, groupLength)
		}
		for _, r := range group {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return "", fmt.Errorf("access code contains invalid character %q", r)
			}
		}
	}
	return AccessCode(code), nil
}

// Groups returns the three code groups without dashes.
func (c AccessCode) Groups() [3]string {
	parts := strings.SplitN(string(c), "-", 3)
	var groups [3]string
	copy(groups[:], parts)
	return groups
}

// Suffix returns the last group, used to tag log output without exposing
// the full credential.
func (c AccessCode) Suffix() string {
	return c.Groups()[2]
}

// BasicAuth returns the Authorization header value: Basic auth with an
// empty username and the raw code as password.
func (c AccessCode) BasicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+string(c)))
}

// Slot is one appointment offered by the backend.
type Slot struct {
	ID           string `json:"slotId"`
	Begin        int64  `json:"begin"`
	LocationCode string `json:"bsnr"`
}

// BeginTime converts the epoch-millisecond begin stamp to local time.
func (s Slot) BeginTime() time.Time {
	return time.UnixMilli(s.Begin)
}

// SlotPair is the two linked appointments (first and second dose)
// returned together by search and booked atomically. Ephemeral: valid
// only until booked or superseded by the next search.
type SlotPair [2]Slot

// SearchResult is the outcome of one search call. StatusCode lets the
// caller tell "no slots yet" (200) from a rejected session (>=400).
type SearchResult struct {
	Found      bool
	Pair       SlotPair
	StatusCode int
}

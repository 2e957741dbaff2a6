package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SessionKind distinguishes interactive sessions from service-issued ones.
type SessionKind string

const (
	SessionKindUser   SessionKind = "user"
	SessionKindSystem SessionKind = "system"
)

// ParseSessionKind normalises a stored or user-supplied kind.
func ParseSessionKind(value string) (SessionKind, error) {
	switch SessionKind(strings.ToLower(strings.TrimSpace(value))) {
	case SessionKindUser:
		return SessionKindUser, nil
	case SessionKindSystem:
		return SessionKindSystem, nil
	default:
		return "", fmt.Errorf("models: unknown session kind %q", value)
	}
}

// Valid reports whether the kind is one of the supported values.
func (k SessionKind) Valid() bool {
	return k == SessionKindUser || k == SessionKindSystem
}

// Session is the projection of a stored session record. SessionID is the
// opaque identifier clients present; ID is the internal row key and never
// leaves the process.
type Session struct {
	ID        int64       `json:"-"`
	SessionID string      `json:"sessionId"`
	Kind      SessionKind `json:"type"`
	IPAddress *string     `json:"ipAddress"`
	UserAgent *string     `json:"userAgent"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// User is the projection of a stored user record.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column bounds of the users table.
const (
	MaxEmailLength       = 255
	MaxUserID      int64 = math.MaxInt32
)

// NormalizeEmail trims surrounding whitespace. Addresses are otherwise stored
// as supplied and compared exactly.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// StringPtr returns nil for blank values so optional columns stay NULL.
func StringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Truncate bounds a value to max runes, matching varchar(255) columns.
func Truncate(value string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}

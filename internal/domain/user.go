// Package domain contains wire entities and identifiers, no transport logic
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen    = 64
	MaxPushTokenLen = 4096
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrPushTokenTooBig = errors.New("push token too long")
)

// UserID is the logical identifier a room is keyed by.
type UserID string

// PushToken is an opaque push-delivery token. It may be stale or empty.
type PushToken string

func (id UserID) String() string { return string(id) }

func (t PushToken) String() string { return string(t) }

// Empty reports whether no token was ever supplied.
func (t PushToken) Empty() bool { return strings.TrimSpace(string(t)) == "" }

// ParseUserID trims and validates a user id coming off the wire.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// ParsePushToken trims a push token. Empty input is valid.
func ParsePushToken(raw string) (PushToken, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxPushTokenLen {
		return "", ErrPushTokenTooBig
	}
	return PushToken(raw), nil
}

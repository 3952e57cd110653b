package oauthkit

import (
	"context"
	"time"
)

// SessionState is the token material held for one browser session.
type SessionState struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// HasAccessToken reports whether the session carries an access token.
func (state SessionState) HasAccessToken() bool {
	return state.AccessToken != ""
}

// HasRefreshToken reports whether the user completed authorization at least once.
func (state SessionState) HasRefreshToken() bool {
	return state.RefreshToken != ""
}

// ExpiredAt reports whether the access token must be treated as invalid at the given instant.
func (state SessionState) ExpiredAt(now time.Time) bool {
	return now.After(state.ExpiresAt)
}

// SessionStore persists token material keyed by session identifier.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (SessionState, error)
	Save(ctx context.Context, state SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

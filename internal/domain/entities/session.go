package entities

import "time"

// Session is the record a handle maps to in the session store. Timestamps
// are seconds since epoch, UTC.
type Session struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
	ExpiresOn int64  `json:"expires_on"`
}

// NewSession builds a session record for a freshly issued token.
func NewSession(token, email string, createdAt, expiresOn time.Time) *Session {
	return &Session{
		Token:     token,
		Email:     email,
		CreatedAt: createdAt.Unix(),
		ExpiresOn: expiresOn.Unix(),
	}
}

// TTL returns the remaining lifetime of the record, never negative.
func (s *Session) TTL(now time.Time) time.Duration {
	remaining := time.Unix(s.ExpiresOn, 0).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the record is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresOn <= now.Unix()
}

package model

import "time"

// Token is a credential issued by the identity provider for one user.
type Token struct {
	// UserID identifies the user this token belongs to.
	UserID string `json:"user_id"`

	// Username is the login name presented to the mail server.
	Username string `json:"username"`

	// AccessToken is the secret used to authenticate API and IMAP calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is kept for providers that issue one. It may be empty.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is when AccessToken stops being accepted.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token has expired at the given instant.
func (t Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// FresherThan reports whether t expires strictly later than other.
func (t Token) FresherThan(other Token) bool {
	return t.ExpiresAt.After(other.ExpiresAt)
}

// Account pairs a user identity with its current token.
type Account struct {
	UserID      string    `json:"user_id"`
	Token       Token     `json:"token"`
	ActivatedAt time.Time `json:"activated_at"`
}

// NewAccount wraps a token into an account activated at now.
func NewAccount(token Token, now time.Time) *Account {
	return &Account{
		UserID:      token.UserID,
		Token:       token,
		ActivatedAt: now,
	}
}

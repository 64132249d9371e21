package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	// UserIDHeader carries the account id on every upstream call
	UserIDHeader = "X-USER-ID"
)

var (
	ErrMissingAPIKey = errors.New("auth: PLAY_HT_API_KEY is not set")
	ErrMissingUserID = errors.New("auth: PLAY_HT_USER_ID is not set")
)

// Credentials holds the upstream API key and user id. It is built once at
// startup and only read afterwards, so it is safe to share between
// requests.
type Credentials struct {
	apiKey string
	userID string
}

// NewCredentials returns credentials for the upstream provider. Both
// values are required; a blank one is an error rather than an
// unauthenticated client.
func NewCredentials(apiKey, userID string) (Credentials, error) {
	apiKey = strings.TrimSpace(apiKey)
	userID = strings.TrimSpace(userID)

	var errs []error
	if apiKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if userID == "" {
		errs = append(errs, ErrMissingUserID)
	}
	if len(errs) > 0 {
		return Credentials{}, errors.Join(errs...)
	}
	return Credentials{apiKey: apiKey, userID: userID}, nil
}

// Valid reports whether c came from NewCredentials
func (c Credentials) Valid() bool {
	return c.apiKey != "" && c.userID != ""
}

// UserID returns the upstream account id
func (c Credentials) UserID() string {
	return c.userID
}

// Apply sets the bearer token and user id headers on req.
func (c Credentials) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(UserIDHeader, c.userID)
}

// String redacts the API key so credentials can go into logs.
func (c Credentials) String() string {
	return "user=" + c.userID + " key=" + redact(c.apiKey)
}

func redact(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

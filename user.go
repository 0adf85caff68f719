package datasift

import (
	"github.com/pkg/errors"
)

const (
	// DefaultUserAgent is sent with every request unless the User says
	// otherwise.
	DefaultUserAgent = "DataSiftGo/1.0.0"

	// DefaultAPIHost is where REST calls go.
	DefaultAPIHost = "api.datasift.com"

	// DefaultStreamHost is where streaming connections go.
	DefaultStreamHost = "stream.datasift.com"
)

// User holds the credentials and connection settings shared by the REST
// client and the stream consumers.
type User struct {
	Username   string
	APIKey     string
	UseSSL     bool
	UserAgent  string
	APIHost    string
	StreamHost string
}

// NewUser gets a User with the default hosts and user agent, using SSL.
func NewUser(username, apiKey string) (*User, error) {
	if username == "" || apiKey == "" {
		return nil, errors.Wrap(ErrInvalidData, "a username and API key are required")
	}
	return &User{
		Username:   username,
		APIKey:     apiKey,
		UseSSL:     true,
		UserAgent:  DefaultUserAgent,
		APIHost:    DefaultAPIHost,
		StreamHost: DefaultStreamHost,
	}, nil
}

// AuthHeader is the value of the Auth header DataSift expects on every
// request.
func (u *User) AuthHeader() string {
	return u.Username + ":" + u.APIKey
}

// Scheme is "https" or "http" depending on UseSSL.
func (u *User) Scheme() string {
	if u.UseSSL {
		return "https"
	}
	return "http"
}

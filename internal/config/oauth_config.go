package config

import (
	"strings"
	"time"
)

const (
	loginURLVar        = "LOGIN_URL"
	clientIDVar        = "CLIENT_ID"
	callbackURLVar     = "CALLBACK_URL"
	scopesVar          = "SCOPES"
	identityTimeoutVar = "IDENTITY_TIMEOUT"
)

type OAuthConfig interface {
	GetLoginURL() string
	GetClientID() string
	GetCallbackURL() string
	GetScopes() []string
	GetIdentityTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetLoginURL() string {
	return strings.TrimRight(GetEnv(loginURLVar, "https://login.salesforce.com"), "/")
}

func (OAuth) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (OAuth) GetCallbackURL() string {
	return GetEnv(callbackURLVar, "http://localhost:8765/oauth/callback")
}

// GetScopes reads a space or comma separated scope list.
func (OAuth) GetScopes() []string {
	raw := GetEnv(scopesVar, "api refresh_token")
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

func (OAuth) GetIdentityTimeout() time.Duration {
	d, err := time.ParseDuration(GetEnv(identityTimeoutVar, "30s"))
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

package manager

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-account-manager/accounts"
)

// IdentityVerifier resolves a bearer token to the identity the service holds for it.
// It returns a complete response or an error, never a partial response.
type IdentityVerifier interface {
	Verify(ctx context.Context, identityURL, accessToken string) (*accounts.IdentityResponse, error)
}

// SessionPolicy is the PIN and inactivity timer policy.
type SessionPolicy interface {
	ResetTimer()
	Wipe()
}

// LoginFlow starts an interactive login. Fire-and-forget.
type LoginFlow interface {
	StartLoginFlow()
}

// CookieManager keeps transport cookies in line with the current account.
type CookieManager interface {
	ClearCookies(options accounts.LoginOptions)
	RefreshCookies(ctx context.Context) error
}

// ClientProvider returns the network client for the current account, nil when there is none.
type ClientProvider interface {
	PeekClient(ctx context.Context) (*http.Client, error)
}

// Deps are the collaborators of a Manager. All are required.
type Deps struct {
	Store    accounts.Store
	Verifier IdentityVerifier
	Session  SessionPolicy
	Login    LoginFlow
	Cookies  CookieManager
	Clients  ClientProvider
}

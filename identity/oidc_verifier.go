package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-account-manager/accounts"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"golang.org/x/oauth2"
)

var _ Verifier = (*OIDCVerifier)(nil)

// OIDCVerifier resolves identity through an OpenID Connect provider's userinfo
// endpoint. Without WithIssuer the identity URL passed to Verify is taken as the
// issuer URL. Discovered providers are cached per issuer.
type OIDCVerifier struct {
	issuer    string
	providers map[string]*oidc.Provider
	lock      sync.RWMutex
}

type OIDCVerifierOption func(*OIDCVerifier)

// WithIssuer pins discovery to issuerURL. Verify then ignores the per-account
// identity URL, which for token responses is a user resource and not an issuer.
func WithIssuer(issuerURL string) OIDCVerifierOption {
	return func(v *OIDCVerifier) {
		v.issuer = strings.TrimRight(issuerURL, "/")
	}
}

// NewOIDCVerifier returns a verifier with an empty provider cache.
func NewOIDCVerifier(options ...OIDCVerifierOption) *OIDCVerifier {
	v := &OIDCVerifier{
		providers: make(map[string]*oidc.Provider),
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

type userInfoClaims struct {
	Subject           string                 `json:"sub"`
	UserID            string                 `json:"user_id"`
	PreferredUsername string                 `json:"preferred_username"`
	Email             string                 `json:"email"`
	Name              string                 `json:"name"`
	OrganizationID    string                 `json:"organization_id"`
	MobilePolicy      *accounts.MobilePolicy `json:"mobile_policy"`
}

// Verify fetches userinfo with accessToken as the bearer credential. The user id
// falls back to the subject and the user name to the email claim.
func (v *OIDCVerifier) Verify(ctx context.Context, identityURL, accessToken string) (*accounts.IdentityResponse, error) {
	issuerURL := identityURL
	if v.issuer != "" {
		issuerURL = v.issuer
	}
	provider, err := v.provider(ctx, issuerURL)
	if err != nil {
		return nil, err
	}

	info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("[OIDCVerifier Verify] %w: userinfo: %w", apperrors.ErrIdentityVerification, err)
	}

	var claims userInfoClaims
	if err := info.Claims(&claims); err != nil {
		return nil, malformed("claims: %v", err)
	}

	identity := &accounts.IdentityResponse{
		UserID:         claims.UserID,
		UserName:       claims.PreferredUsername,
		OrganizationID: claims.OrganizationID,
		Email:          claims.Email,
		DisplayName:    claims.Name,
		MobilePolicy:   claims.MobilePolicy,
	}
	if identity.UserID == "" {
		identity.UserID = claims.Subject
	}
	if identity.UserName == "" {
		identity.UserName = claims.Email
	}
	if err := validate(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (v *OIDCVerifier) provider(ctx context.Context, issuerURL string) (*oidc.Provider, error) {
	v.lock.RLock()
	provider, exists := v.providers[issuerURL]
	v.lock.RUnlock()
	if exists {
		return provider, nil
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[OIDCVerifier provider] %w: discovery: %w", apperrors.ErrIdentityVerification, err)
	}

	v.lock.Lock()
	v.providers[issuerURL] = provider
	v.lock.Unlock()
	return provider, nil
}

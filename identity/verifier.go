// Package identity resolves a bearer token to the canonical user id, user name
// and mobile policy the identity service holds for it.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-account-manager/accounts"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"golang.org/x/oauth2"
)

const maxIdentityBody = 1 << 20

// Verifier calls the identity service. It returns either a complete response or an
// error wrapping ErrIdentityVerification, never a partially populated response.
type Verifier interface {
	Verify(ctx context.Context, identityURL, accessToken string) (*accounts.IdentityResponse, error)
}

var _ Verifier = (*HTTPVerifier)(nil)

// HTTPVerifier GETs the identity URL with the access token as a bearer credential.
type HTTPVerifier struct {
	base    *http.Client
	timeout time.Duration
}

type HTTPVerifierOption func(*HTTPVerifier)

// WithHTTPClient sets the client whose transport carries the identity call.
func WithHTTPClient(c *http.Client) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.base = c
	}
}

// WithTimeout bounds one identity round trip.
func WithTimeout(d time.Duration) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.timeout = d
	}
}

// NewHTTPVerifier returns a verifier on http.DefaultClient with a 30s timeout.
func NewHTTPVerifier(options ...HTTPVerifierOption) *HTTPVerifier {
	v := &HTTPVerifier{
		base:    http.DefaultClient,
		timeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

func (v *HTTPVerifier) Verify(ctx context.Context, identityURL, accessToken string) (*accounts.IdentityResponse, error) {
	if identityURL == "" || accessToken == "" {
		return nil, fmt.Errorf("%w: identity url and access token are required", apperrors.ErrIdentityVerification)
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, v.base),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("[HTTPVerifier Verify] request: %w: %w", apperrors.ErrIdentityVerification, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[HTTPVerifier Verify] call: %w: %w", apperrors.ErrIdentityVerification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("[HTTPVerifier Verify] %w: identity service returned %d", apperrors.ErrIdentityVerification, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return nil, fmt.Errorf("[HTTPVerifier Verify] read: %w: %w", apperrors.ErrIdentityVerification, err)
	}
	return decodeIdentity(body)
}

func decodeIdentity(body []byte) (*accounts.IdentityResponse, error) {
	var identity accounts.IdentityResponse
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, malformed("decode: %v", err)
	}
	if err := validate(&identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func validate(identity *accounts.IdentityResponse) error {
	if identity.UserID == "" {
		return malformed("missing user id")
	}
	if identity.UserName == "" {
		return malformed("missing user name")
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %w: "+format, append([]any{apperrors.ErrIdentityVerification, apperrors.ErrMalformedResponse}, args...)...)
}

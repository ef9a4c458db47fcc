package accounts

import (
	"slices"

	"github.com/jrsteele09/go-account-manager/internal/utils"
	"github.com/rs/zerolog"
)

// Account holds the credentials and identity metadata of one authenticated session.
// UserID, UserName and Policy stay empty until an identity verification succeeds.
type Account struct {
	LoginURL    string   `json:"login_url"`
	ClientID    string   `json:"client_id"`
	CallbackURL string   `json:"callback_url"`
	Scopes      []string `json:"scopes,omitempty"`
	InstanceURL string   `json:"instance_url"`
	IdentityURL string   `json:"identity_url"`

	// Secrets. Persisted by the stores, never logged.
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	CommunityID  *string `json:"community_id,omitempty"`  // nil for the default org
	CommunityURL *string `json:"community_url,omitempty"` // nil for the default org

	UserID   string        `json:"user_id,omitempty"`
	UserName string        `json:"user_name,omitempty"`
	Policy   *MobilePolicy `json:"policy,omitempty"`
}

// NewAccount builds an unverified account from the login configuration and a token exchange.
func NewAccount(options LoginOptions, auth AuthResponse) *Account {
	return &Account{
		LoginURL:     options.LoginURL,
		ClientID:     options.ClientID,
		CallbackURL:  options.CallbackURL,
		Scopes:       slices.Clone(options.Scopes),
		InstanceURL:  auth.InstanceURL,
		IdentityURL:  auth.IdentityURL,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		CommunityID:  utils.CopyPtr(auth.CommunityID),
		CommunityURL: utils.CopyPtr(auth.CommunityURL),
	}
}

// Key is the store key of the account.
func (a *Account) Key() string {
	return Key(a.UserName, a.UserID)
}

// Key addresses an account by user name and user id.
func Key(userName, userID string) string {
	return userName + ":" + userID
}

// LoginOptions returns the options the account was logged in with.
func (a *Account) LoginOptions() LoginOptions {
	return LoginOptions{
		LoginURL:    a.LoginURL,
		ClientID:    a.ClientID,
		CallbackURL: a.CallbackURL,
		Scopes:      slices.Clone(a.Scopes),
	}
}

// Verified reports whether an identity verification has populated the account.
func (a *Account) Verified() bool {
	return a != nil && a.UserID != ""
}

// HasTokens reports whether both tokens are present.
func (a *Account) HasTokens() bool {
	return a != nil && a.AccessToken != "" && a.RefreshToken != ""
}

// ApplyIdentity overwrites the identity fields as a unit from one verification response.
func (a *Account) ApplyIdentity(identity *IdentityResponse) {
	a.UserID = identity.UserID
	a.UserName = identity.UserName
	a.Policy = identity.MobilePolicy.Clone()
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Scopes = slices.Clone(a.Scopes)
	c.CommunityID = utils.CopyPtr(a.CommunityID)
	c.CommunityURL = utils.CopyPtr(a.CommunityURL)
	c.Policy = a.Policy.Clone()
	return &c
}

// MarshalZerologObject logs the non-secret fields.
func (a *Account) MarshalZerologObject(e *zerolog.Event) {
	e.Str("user_id", a.UserID).
		Str("user_name", a.UserName).
		Str("instance_url", a.InstanceURL)
	if a.CommunityID != nil {
		e.Str("community_id", *a.CommunityID)
	}
}

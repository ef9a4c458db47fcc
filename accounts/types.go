package accounts

// LoginOptions is the client configuration used to log in.
type LoginOptions struct {
	LoginURL    string
	ClientID    string
	CallbackURL string
	Scopes      []string
}

// AuthResponse is the result of an OAuth2 token exchange.
type AuthResponse struct {
	InstanceURL  string
	IdentityURL  string
	AccessToken  string
	RefreshToken string
	CommunityID  *string
	CommunityURL *string
}

// IdentityResponse is what the identity service reports for a bearer token.
type IdentityResponse struct {
	UserID         string        `json:"user_id"`
	UserName       string        `json:"username"`
	OrganizationID string        `json:"organization_id,omitempty"`
	Email          string        `json:"email,omitempty"`
	DisplayName    string        `json:"display_name,omitempty"`
	MobilePolicy   *MobilePolicy `json:"mobile_policy,omitempty"`
}

// MobilePolicy is the session policy the identity provider sets for a user.
type MobilePolicy struct {
	PinLength         int `json:"pin_length"`
	ScreenLockTimeout int `json:"screen_lock"` // minutes
}

func (p *MobilePolicy) Clone() *MobilePolicy {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

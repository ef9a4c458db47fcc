// Package loginflow drives the OAuth2 authorization code flow (with PKCE) that
// produces the token exchange a new account is created from.
package loginflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-account-manager/accounts"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"github.com/jrsteele09/go-account-manager/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	authorizePath = "/services/oauth2/authorize"
	tokenPath     = "/services/oauth2/token"

	pendingLoginTimeout = 10 * time.Minute
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Launcher presents the authorization URL to the user, e.g. by opening a browser.
type Launcher func(authURL string)

// Config maps login options onto an oauth2 client configuration.
func Config(options accounts.LoginOptions) *oauth2.Config {
	loginURL := strings.TrimRight(options.LoginURL, "/")
	return &oauth2.Config{
		ClientID:    options.ClientID,
		RedirectURL: options.CallbackURL,
		Scopes:      options.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   loginURL + authorizePath,
			TokenURL:  loginURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

type pendingLogin struct {
	verifier  string
	createdAt time.Time
}

// Flow starts logins and completes them when the callback arrives.
type Flow struct {
	options    accounts.LoginOptions
	launch     Launcher
	httpClient *http.Client
	log        zerolog.Logger

	lock    sync.Mutex
	pending map[string]pendingLogin // state -> login
}

type Option func(*Flow)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) {
		f.httpClient = c
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = log
	}
}

func New(options accounts.LoginOptions, launch Launcher, opts ...Option) (*Flow, error) {
	if options.LoginURL == "" {
		return nil, errors.New("[loginflow New] login url is required")
	}
	if options.ClientID == "" {
		return nil, errors.New("[loginflow New] client id is required")
	}
	if launch == nil {
		return nil, errors.New("[loginflow New] launcher is required")
	}
	f := &Flow{
		options: options,
		launch:  launch,
		log:     zerolog.Nop(),
		pending: make(map[string]pendingLogin),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// StartLoginFlow registers a new pending login and hands its authorization URL to the
// launcher on its own goroutine. It does not wait for the user.
func (f *Flow) StartLoginFlow() {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	f.lock.Lock()
	f.prune()
	f.pending[state] = pendingLogin{verifier: verifier, createdAt: NowTimeFunc()}
	f.lock.Unlock()

	authURL := Config(f.options).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	f.log.Info().Str("login_url", f.options.LoginURL).Msg("starting login flow")
	go f.launch(authURL)
}

// Complete exchanges the authorization code of a pending login for tokens.
func (f *Flow) Complete(ctx context.Context, state, code string) (*accounts.AuthResponse, error) {
	f.lock.Lock()
	login, ok := f.pending[state]
	delete(f.pending, state)
	f.lock.Unlock()

	if !ok {
		return nil, fmt.Errorf("[loginflow Complete] %w: unknown state", apperrors.ErrInvalidState)
	}
	if NowTimeFunc().Sub(login.createdAt) > pendingLoginTimeout {
		return nil, fmt.Errorf("[loginflow Complete] %w: login expired", apperrors.ErrInvalidState)
	}
	if code == "" {
		return nil, errors.New("[loginflow Complete] code is required")
	}

	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}
	token, err := Config(f.options).Exchange(ctx, code, oauth2.VerifierOption(login.verifier))
	if err != nil {
		return nil, fmt.Errorf("[loginflow Complete] exchange: %w", err)
	}
	return authResponse(token)
}

// Pending returns the number of logins waiting for a callback.
func (f *Flow) Pending() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.pending)
}

func (f *Flow) prune() {
	now := NowTimeFunc()
	for state, login := range f.pending {
		if now.Sub(login.createdAt) > pendingLoginTimeout {
			delete(f.pending, state)
		}
	}
}

func authResponse(token *oauth2.Token) (*accounts.AuthResponse, error) {
	extra := func(name string) string {
		s, _ := token.Extra(name).(string)
		return s
	}

	resp := &accounts.AuthResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		InstanceURL:  extra("instance_url"),
		IdentityURL:  extra("id"),
	}
	if id := extra("sfdc_community_id"); id != "" {
		resp.CommunityID = utils.Ptr(id)
	}
	if u := extra("sfdc_community_url"); u != "" {
		resp.CommunityURL = utils.Ptr(u)
	}

	if resp.AccessToken == "" || resp.InstanceURL == "" || resp.IdentityURL == "" {
		return nil, errors.New("[loginflow] token response missing access_token, instance_url or id")
	}
	return resp, nil
}

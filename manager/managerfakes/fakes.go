// Package managerfakes provides recording fakes of the manager's collaborators.
// Fakes sharing an Events log record their calls in one ordered sequence.
package managerfakes

import (
	"context"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-account-manager/accounts"
)

// Events is an ordered, concurrency-safe call log.
type Events struct {
	lock   sync.Mutex
	events []string
}

func (e *Events) Record(event string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.events = append(e.events, event)
}

func (e *Events) List() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.events...)
}

func (e *Events) Reset() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.events = nil
}

// RecordingStore wraps a store and records its mutating calls.
type RecordingStore struct {
	accounts.Store
	Events *Events
}

func (s *RecordingStore) Persist(ctx context.Context, account *accounts.Account) error {
	s.Events.Record("store.persist:" + account.Key())
	return s.Store.Persist(ctx, account)
}

func (s *RecordingStore) Delete(ctx context.Context, userName, userID string) error {
	s.Events.Record("store.delete:" + accounts.Key(userName, userID))
	return s.Store.Delete(ctx, userName, userID)
}

func (s *RecordingStore) DeleteAll(ctx context.Context) error {
	s.Events.Record("store.delete-all")
	return s.Store.DeleteAll(ctx)
}

// Verifier returns Err when set, else the ByToken entry for the access token,
// else Response.
type Verifier struct {
	Events   *Events
	Response *accounts.IdentityResponse
	ByToken  map[string]*accounts.IdentityResponse
	Err      error

	lock  sync.Mutex
	calls []VerifyCall
}

type VerifyCall struct {
	IdentityURL string
	AccessToken string
}

func (v *Verifier) Verify(_ context.Context, identityURL, accessToken string) (*accounts.IdentityResponse, error) {
	v.Events.Record("verify")
	v.lock.Lock()
	v.calls = append(v.calls, VerifyCall{IdentityURL: identityURL, AccessToken: accessToken})
	v.lock.Unlock()
	if v.Err != nil {
		return nil, v.Err
	}
	resp := v.Response
	if byToken, ok := v.ByToken[accessToken]; ok {
		resp = byToken
	}
	c := *resp
	return &c, nil
}

func (v *Verifier) Calls() []VerifyCall {
	v.lock.Lock()
	defer v.lock.Unlock()
	return append([]VerifyCall(nil), v.calls...)
}

type Session struct {
	Events *Events
}

func (s *Session) ResetTimer() { s.Events.Record("session.reset-timer") }
func (s *Session) Wipe()       { s.Events.Record("session.wipe") }

type Login struct {
	Events *Events
}

func (l *Login) StartLoginFlow() { l.Events.Record("login.start") }

type Cookies struct {
	Events     *Events
	RefreshErr error
}

func (c *Cookies) ClearCookies(options accounts.LoginOptions) {
	c.Events.Record("cookies.clear:" + options.LoginURL)
}

func (c *Cookies) RefreshCookies(context.Context) error {
	c.Events.Record("cookies.refresh")
	return c.RefreshErr
}

// Clients returns a client whenever the store has a current account, unless NoClient is set.
type Clients struct {
	Store    accounts.Store
	NoClient bool
}

func (c *Clients) PeekClient(ctx context.Context) (*http.Client, error) {
	if c.NoClient {
		return nil, nil
	}
	current, err := c.Store.RetrieveCurrent(ctx)
	if err != nil || current == nil {
		return nil, err
	}
	return http.DefaultClient, nil
}

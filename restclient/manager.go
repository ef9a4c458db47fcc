// Package restclient hands out authenticated HTTP clients for the current account.
// Clients refresh their access token through the oauth2 transport.
package restclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-account-manager/accounts"
	"github.com/jrsteele09/go-account-manager/loginflow"
	"golang.org/x/oauth2"
)

type cachedClient struct {
	accessToken string
	client      *http.Client
}

type Manager struct {
	store accounts.Store
	jar   http.CookieJar

	lock    sync.Mutex
	clients map[string]cachedClient // account key -> client
}

type Option func(*Manager)

// WithCookieJar gives every client the same cookie jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(m *Manager) {
		m.jar = jar
	}
}

func NewManager(store accounts.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[restclient NewManager] store is required")
	}
	m := &Manager{store: store, clients: make(map[string]cachedClient)}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PeekClient returns the client for the current account, building it on first use.
// It returns nil when no account is current.
func (m *Manager) PeekClient(ctx context.Context) (*http.Client, error) {
	account, err := m.store.RetrieveCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("[restclient PeekClient] %w", err)
	}
	if account == nil || account.AccessToken == "" {
		return nil, nil
	}
	return m.ClientFor(account), nil
}

// ClientFor returns the cached client for account, rebuilding it when the account's
// access token changed since it was built.
func (m *Manager) ClientFor(account *accounts.Account) *http.Client {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := account.Key()
	if c, ok := m.clients[key]; ok && c.accessToken == account.AccessToken {
		return c.client
	}

	base := &http.Client{Jar: m.jar}
	token := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenType:    "Bearer",
	}
	client := loginflow.Config(account.LoginOptions()).Client(context.WithValue(context.Background(), oauth2.HTTPClient, base), token)
	m.clients[key] = cachedClient{accessToken: account.AccessToken, client: client}
	return client
}

// Reset drops every cached client.
func (m *Manager) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clients = make(map[string]cachedClient)
}

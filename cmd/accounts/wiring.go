package main

import (
	"fmt"
	"path/filepath"

	"github.com/jrsteele09/go-account-manager/accounts"
	"github.com/jrsteele09/go-account-manager/accounts/filestore"
	accountrepofake "github.com/jrsteele09/go-account-manager/accounts/repofake"
	"github.com/jrsteele09/go-account-manager/accounts/redisstore"
	"github.com/jrsteele09/go-account-manager/cookies"
	"github.com/jrsteele09/go-account-manager/identity"
	"github.com/jrsteele09/go-account-manager/internal/config"
	"github.com/jrsteele09/go-account-manager/internal/logging"
	"github.com/jrsteele09/go-account-manager/internal/metrics"
	"github.com/jrsteele09/go-account-manager/internal/sealbox"
	"github.com/jrsteele09/go-account-manager/loginflow"
	"github.com/jrsteele09/go-account-manager/manager"
	"github.com/jrsteele09/go-account-manager/pincode"
	"github.com/jrsteele09/go-account-manager/restclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is everything a command needs, built once per process.
type app struct {
	config   config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	store    accounts.Store
	flow     *loginflow.Flow
	manager  *manager.Manager
	closers  []func() error
}

func loginOptions(c config.OAuthConfig) accounts.LoginOptions {
	return accounts.LoginOptions{
		LoginURL:    c.GetLoginURL(),
		ClientID:    c.GetClientID(),
		CallbackURL: c.GetCallbackURL(),
		Scopes:      c.GetScopes(),
	}
}

func newApp(c config.Config, launch loginflow.Launcher, useOIDC bool) (*app, error) {
	a := &app{
		config:   c,
		log:      logging.New(c),
		registry: prometheus.NewRegistry(),
	}

	store, err := a.newStore()
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	a.flow, err = loginflow.New(loginOptions(c), launch, loginflow.WithLogger(a.log))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("[newApp] login flow: %w", err)
	}

	cookieManager, err := cookies.NewManager(store, nil)
	if err != nil {
		a.close()
		return nil, err
	}
	clients, err := restclient.NewManager(store, restclient.WithCookieJar(cookieManager.Jar()))
	if err != nil {
		a.close()
		return nil, err
	}

	verifier := newVerifier(c, useOIDC)

	m, err := metrics.New(a.registry)
	if err != nil {
		a.close()
		return nil, err
	}

	a.manager, err = manager.New(manager.Deps{
		Store:    store,
		Verifier: verifier,
		Session:  pincode.NewManager(),
		Login:    a.flow,
		Cookies:  cookieManager,
		Clients:  clients,
	}, manager.WithLogger(a.log.With().Str("component", "manager").Logger()), manager.WithMetrics(m))
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// newVerifier calls the account's identity URL directly, or with useOIDC the
// userinfo endpoint of the provider discovered at LOGIN_URL.
func newVerifier(c config.OAuthConfig, useOIDC bool) manager.IdentityVerifier {
	if useOIDC {
		return identity.NewOIDCVerifier(identity.WithIssuer(c.GetLoginURL()))
	}
	return identity.NewHTTPVerifier(identity.WithTimeout(c.GetIdentityTimeout()))
}

func (a *app) newStore() (accounts.Store, error) {
	c := a.config
	key, err := a.storeKey()
	if err != nil {
		return nil, err
	}

	switch c.GetStoreBackend() {
	case config.RedisBackend:
		client := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		a.closers = append(a.closers, client.Close)
		return redisstore.New(client, key)
	case config.MemoryBackend:
		return accountrepofake.NewFakeAccountStore(), nil
	default:
		return filestore.New(filepath.Join(c.GetDataFolder(), "accounts.json"), key)
	}
}

// storeKey prefers STORE_KEY and falls back to a key file in the data folder.
func (a *app) storeKey() (*sealbox.Key, error) {
	if encoded := a.config.GetStoreKey(); encoded != "" {
		return sealbox.ParseKey(encoded)
	}
	return sealbox.LoadOrCreateKey(filepath.Join(a.config.GetDataFolder(), "store.key"))
}

func (a *app) close() {
	for _, closeFn := range a.closers {
		_ = closeFn()
	}
}

// Package manager owns the account lifecycle: which account is current, and how
// creating, switching, deleting and wiping accounts are sequenced against the
// credential store and the identity service.
//
// Identity verification failures never fail an operation; the account keeps its
// previous (possibly empty) identity fields. Credential store errors are returned
// to the caller unmodified.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-account-manager/accounts"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"github.com/jrsteele09/go-account-manager/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	opCreate = "create"
	opSwitch = "switch"
	opDelete = "delete"
	opWipe   = "wipe"
)

// Manager sequences account lifecycle operations against its collaborators.
// It is safe for concurrent use.
type Manager struct {
	deps    Deps
	log     zerolog.Logger
	metrics *metrics.Metrics

	// writeLock serializes store writes of Create, Switch, Delete and Wipe.
	// It is never held across an identity round trip.
	writeLock sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger, default zerolog.Nop().
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithMetrics counts operations and verification failures. Without it nothing is counted.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// New returns a Manager. Every collaborator in deps is required.
func New(deps Deps, options ...Option) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("[manager New] Store is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("[manager New] Verifier is required")
	}
	if deps.Session == nil {
		return nil, errors.New("[manager New] Session is required")
	}
	if deps.Login == nil {
		return nil, errors.New("[manager New] Login is required")
	}
	if deps.Cookies == nil {
		return nil, errors.New("[manager New] Cookies is required")
	}
	if deps.Clients == nil {
		return nil, errors.New("[manager New] Clients is required")
	}

	m := &Manager{
		deps: deps,
		log:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// GetCurrentAccount returns the current account, or nil when none is persisted.
func (m *Manager) GetCurrentAccount(ctx context.Context) (*accounts.Account, error) {
	return m.deps.Store.RetrieveCurrent(ctx)
}

// GetAllAccounts returns every persisted account keyed by accounts.Key.
func (m *Manager) GetAllAccounts(ctx context.Context) (map[string]*accounts.Account, error) {
	all, err := m.deps.Store.RetrieveAll(ctx)
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = map[string]*accounts.Account{}
	}
	m.log.Debug().Int("count", len(all)).Msg("[Manager GetAllAccounts] retrieved accounts")
	return all, nil
}

// CreateAccount builds an account from a completed login and verifies its identity once.
// A verified account is persisted and becomes current. When verification fails the
// account is returned unpersisted, with empty identity fields and the exchanged tokens.
// Only credential store errors are returned.
func (m *Manager) CreateAccount(ctx context.Context, options accounts.LoginOptions, auth accounts.AuthResponse) (*accounts.Account, error) {
	account := accounts.NewAccount(options, auth)

	identity, err := m.deps.Verifier.Verify(ctx, account.IdentityURL, account.AccessToken)
	if err != nil {
		m.log.Warn().Err(err).Str("instance_url", account.InstanceURL).
			Msg("[Manager CreateAccount] identity verification failed, account not persisted")
		m.metrics.VerificationFailed(opCreate)
		m.metrics.Operation(opCreate, metrics.ResultSkipped)
		return account, nil
	}
	account.ApplyIdentity(identity)

	m.writeLock.Lock()
	err = m.deps.Store.Persist(ctx, account)
	m.writeLock.Unlock()
	if err != nil {
		m.log.Error().Err(err).Object("account", account).Msg("[Manager CreateAccount] persist failed")
		m.metrics.Operation(opCreate, metrics.ResultError)
		return account, err
	}

	m.log.Info().Object("account", account).Msg("[Manager CreateAccount] account created")
	m.metrics.Operation(opCreate, metrics.ResultOK)
	return account, nil
}

// SwitchToAccount makes account current, then re-verifies its identity. The account is
// persisted before the identity round trip so a failure there still leaves it current.
// On successful verification account's identity fields are updated in place and
// persisted again.
//
// It returns false, with no side effects, for a nil account, one without a user id or
// one missing either token. It returns false when no network client exists for the
// new current account.
func (m *Manager) SwitchToAccount(ctx context.Context, account *accounts.Account) (bool, error) {
	if !account.Verified() || !account.HasTokens() {
		m.log.Info().Msg("[Manager SwitchToAccount] account missing, unverified or without tokens, not switched")
		m.metrics.Operation(opSwitch, metrics.ResultSkipped)
		return false, nil
	}

	m.deps.Session.ResetTimer()

	if err := m.persist(ctx, account); err != nil {
		m.log.Error().Err(err).Object("account", account).Msg("[Manager SwitchToAccount] persist failed")
		m.metrics.Operation(opSwitch, metrics.ResultError)
		return false, err
	}

	client, err := m.deps.Clients.PeekClient(ctx)
	if err != nil {
		m.metrics.Operation(opSwitch, metrics.ResultError)
		return false, err
	}
	if client == nil {
		m.log.Warn().Object("account", account).Msg("[Manager SwitchToAccount] no network client for current account")
		m.metrics.Operation(opSwitch, metrics.ResultSkipped)
		return false, nil
	}

	m.deps.Cookies.ClearCookies(account.LoginOptions())

	identity, err := m.deps.Verifier.Verify(ctx, account.IdentityURL, account.AccessToken)
	if err != nil {
		m.log.Warn().Err(err).Object("account", account).Msg("[Manager SwitchToAccount] identity verification failed, keeping stored identity")
		m.metrics.VerificationFailed(opSwitch)
	} else if err := m.applyAndPersist(ctx, account, identity); err != nil {
		m.log.Error().Err(err).Object("account", account).Msg("[Manager SwitchToAccount] persist after verification failed")
		m.metrics.Operation(opSwitch, metrics.ResultError)
		return false, err
	}

	if err := m.deps.Cookies.RefreshCookies(ctx); err != nil {
		m.log.Warn().Err(err).Msg("[Manager SwitchToAccount] cookie refresh failed")
	}

	m.log.Info().Object("account", account).Msg("[Manager SwitchToAccount] switched")
	m.metrics.Operation(opSwitch, metrics.ResultOK)
	return true, nil
}

// DeleteAccount removes the current account's record. Calling it with no current
// account is a caller error and returns ErrNoCurrentAccount.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	m.writeLock.Lock()
	defer m.writeLock.Unlock()

	account, err := m.deps.Store.RetrieveCurrent(ctx)
	if err != nil {
		m.metrics.Operation(opDelete, metrics.ResultError)
		return err
	}
	if account == nil {
		m.metrics.Operation(opDelete, metrics.ResultError)
		return fmt.Errorf("[Manager DeleteAccount] %w", apperrors.ErrNoCurrentAccount)
	}

	if err := m.deps.Store.Delete(ctx, account.UserName, account.UserID); err != nil {
		m.metrics.Operation(opDelete, metrics.ResultError)
		return err
	}
	m.log.Info().Object("account", account).Msg("[Manager DeleteAccount] deleted")
	m.metrics.Operation(opDelete, metrics.ResultOK)
	return nil
}

// WipeAllAccounts removes every account, then wipes the PIN state, then starts a
// login flow. A store failure stops it before the PIN wipe.
func (m *Manager) WipeAllAccounts(ctx context.Context) error {
	m.writeLock.Lock()
	defer m.writeLock.Unlock()

	if err := m.deps.Store.DeleteAll(ctx); err != nil {
		m.log.Error().Err(err).Msg("[Manager WipeAllAccounts] delete failed")
		m.metrics.Operation(opWipe, metrics.ResultError)
		return err
	}
	m.deps.Session.Wipe()
	m.deps.Login.StartLoginFlow()

	m.log.Info().Msg("[Manager WipeAllAccounts] wiped")
	m.metrics.Operation(opWipe, metrics.ResultOK)
	return nil
}

// SwitchToDefaultFlow starts a login flow without touching the store.
func (m *Manager) SwitchToDefaultFlow() {
	m.deps.Login.StartLoginFlow()
}

func (m *Manager) persist(ctx context.Context, account *accounts.Account) error {
	m.writeLock.Lock()
	defer m.writeLock.Unlock()
	return m.deps.Store.Persist(ctx, account)
}

// applyAndPersist persists the account under the new identity and, once that
// succeeded, updates account in place. When the new identity moves the record to
// another key the old record is removed. The new record is already current at that
// point, so a failed removal is logged and leaves a stale record behind.
func (m *Manager) applyAndPersist(ctx context.Context, account *accounts.Account, identity *accounts.IdentityResponse) error {
	verified := account.Clone()
	verified.ApplyIdentity(identity)

	m.writeLock.Lock()
	defer m.writeLock.Unlock()
	if err := m.deps.Store.Persist(ctx, verified); err != nil {
		return err
	}
	oldName, oldID := account.UserName, account.UserID
	account.ApplyIdentity(identity)
	if accounts.Key(oldName, oldID) != account.Key() {
		if err := m.deps.Store.Delete(ctx, oldName, oldID); err != nil {
			m.log.Warn().Err(err).Str("stale_key", accounts.Key(oldName, oldID)).
				Msg("[Manager applyAndPersist] removing record under previous identity failed")
		}
	}
	return nil
}

package accountrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-account-manager/accounts"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
)

var _ accounts.Store = (*FakeAccountStore)(nil)

// FakeAccountStore is an in-memory credential store. It records every write
// and can be told to fail, for tests that check sequencing.
type FakeAccountStore struct {
	accounts map[string]*accounts.Account
	current  string // key of the current account, "" when none
	lock     sync.RWMutex

	writes  []string // "persist:<key>", "delete:<key>", "delete-all"
	failErr error
}

// NewFakeAccountStore returns an empty store with nothing current.
func NewFakeAccountStore() *FakeAccountStore {
	return &FakeAccountStore{
		accounts: make(map[string]*accounts.Account),
	}
}

// FailWith makes every following call return err wrapped as a storage failure. nil resets.
func (s *FakeAccountStore) FailWith(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failErr = err
}

// Writes returns the recorded mutating calls in order.
func (s *FakeAccountStore) Writes() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]string(nil), s.writes...)
}

// CurrentKey returns the key of the current account, "" when none.
func (s *FakeAccountStore) CurrentKey() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.current
}

// Persist upserts a copy of account and makes it current.
func (s *FakeAccountStore) Persist(_ context.Context, account *accounts.Account) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failErr != nil {
		return apperrors.Storagef(s.failErr, "[FakeAccountStore Persist]")
	}

	key := account.Key()
	s.accounts[key] = account.Clone()
	s.current = key
	s.writes = append(s.writes, "persist:"+key)
	return nil
}

// RetrieveCurrent returns a copy of the current account, nil when none.
func (s *FakeAccountStore) RetrieveCurrent(_ context.Context) (*accounts.Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.failErr != nil {
		return nil, apperrors.Storagef(s.failErr, "[FakeAccountStore RetrieveCurrent]")
	}

	if s.current == "" {
		return nil, nil
	}
	return s.accounts[s.current].Clone(), nil
}

// RetrieveAll returns copies of every account keyed by accounts.Key.
func (s *FakeAccountStore) RetrieveAll(_ context.Context) (map[string]*accounts.Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.failErr != nil {
		return nil, apperrors.Storagef(s.failErr, "[FakeAccountStore RetrieveAll]")
	}

	all := make(map[string]*accounts.Account, len(s.accounts))
	for k, v := range s.accounts {
		all[k] = v.Clone()
	}
	return all, nil
}

// Delete removes one account and clears the current pointer if it matched.
func (s *FakeAccountStore) Delete(_ context.Context, userName, userID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failErr != nil {
		return apperrors.Storagef(s.failErr, "[FakeAccountStore Delete]")
	}

	key := accounts.Key(userName, userID)
	delete(s.accounts, key)
	if s.current == key {
		s.current = ""
	}
	s.writes = append(s.writes, "delete:"+key)
	return nil
}

// DeleteAll removes every account.
func (s *FakeAccountStore) DeleteAll(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failErr != nil {
		return apperrors.Storagef(s.failErr, "[FakeAccountStore DeleteAll]")
	}

	s.accounts = make(map[string]*accounts.Account)
	s.current = ""
	s.writes = append(s.writes, "delete-all")
	return nil
}

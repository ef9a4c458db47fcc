// Package filestore persists accounts in a single JSON document on disk.
// Each account record is sealed with NaCl secretbox; the current-account
// pointer is stored alongside the records so both change in one atomic write.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/jrsteele09/go-account-manager/accounts"
	"github.com/jrsteele09/go-account-manager/internal/atomicwrite"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"github.com/jrsteele09/go-account-manager/internal/sealbox"
)

var _ accounts.Store = (*Store)(nil)

type document struct {
	Current  string            `json:"current,omitempty"`
	Accounts map[string]string `json:"accounts"` // key -> sealed account JSON
}

// Store is a Credential Store backed by one file. It is safe for concurrent use
// within a process.
type Store struct {
	path string
	key  *sealbox.Key
	lock sync.RWMutex
}

// New returns a store over path, sealing records with key. The file is created on
// first write.
func New(path string, key *sealbox.Key) (*Store, error) {
	if path == "" {
		return nil, errors.New("[filestore New] path is required")
	}
	if key == nil {
		return nil, errors.New("[filestore New] key is required")
	}
	return &Store{path: path, key: key}, nil
}

func (s *Store) Persist(_ context.Context, account *accounts.Account) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		return apperrors.Storagef(err, "[filestore Persist] load")
	}
	plaintext, err := json.Marshal(account)
	if err != nil {
		return apperrors.Storagef(err, "[filestore Persist] marshal")
	}
	sealed, err := sealbox.Seal(s.key, plaintext)
	if err != nil {
		return apperrors.Storagef(err, "[filestore Persist] seal")
	}

	key := account.Key()
	doc.Accounts[key] = sealed
	doc.Current = key
	return s.save(doc, "[filestore Persist] save")
}

func (s *Store) RetrieveCurrent(_ context.Context) (*accounts.Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, apperrors.Storagef(err, "[filestore RetrieveCurrent] load")
	}
	if doc.Current == "" {
		return nil, nil
	}
	sealed, ok := doc.Accounts[doc.Current]
	if !ok {
		return nil, apperrors.Storagef(apperrors.ErrNotFound, "[filestore RetrieveCurrent] current %q", doc.Current)
	}
	return s.decode(sealed)
}

func (s *Store) RetrieveAll(_ context.Context) (map[string]*accounts.Account, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, apperrors.Storagef(err, "[filestore RetrieveAll] load")
	}
	all := make(map[string]*accounts.Account, len(doc.Accounts))
	for key, sealed := range doc.Accounts {
		a, err := s.decode(sealed)
		if err != nil {
			return nil, err
		}
		all[key] = a
	}
	return all, nil
}

func (s *Store) Delete(_ context.Context, userName, userID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		return apperrors.Storagef(err, "[filestore Delete] load")
	}
	key := accounts.Key(userName, userID)
	delete(doc.Accounts, key)
	if doc.Current == key {
		doc.Current = ""
	}
	return s.save(doc, "[filestore Delete] save")
}

func (s *Store) DeleteAll(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.save(&document{Accounts: map[string]string{}}, "[filestore DeleteAll] save")
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Accounts: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]string{}
	}
	return &doc, nil
}

func (s *Store) save(doc *document, op string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return apperrors.Storagef(err, "%s marshal", op)
	}
	if err := atomicwrite.WriteFile(s.path, data, 0o600); err != nil {
		return apperrors.Storagef(err, "%s", op)
	}
	return nil
}

func (s *Store) decode(sealed string) (*accounts.Account, error) {
	plaintext, err := sealbox.Open(s.key, sealed)
	if err != nil {
		return nil, apperrors.Storagef(err, "[filestore] open record")
	}
	var a accounts.Account
	if err := json.Unmarshal(plaintext, &a); err != nil {
		return nil, apperrors.Storagef(err, "[filestore] unmarshal record")
	}
	return &a, nil
}

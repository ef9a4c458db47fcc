// Package redisstore keeps sealed account records in a Redis hash and the
// current-account pointer in a string key under the same prefix.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jrsteele09/go-account-manager/accounts"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"github.com/jrsteele09/go-account-manager/internal/sealbox"
	"github.com/redis/go-redis/v9"
)

var _ accounts.Store = (*Store)(nil)

const defaultPrefix = "accounts:"

// KEYS[1] records hash, KEYS[2] current key
var (
	// nil when nothing is current, {key} when the record is missing, else {key, record}
	retrieveCurrentScript = redis.NewScript(`
local key = redis.call('GET', KEYS[2])
if not key then return false end
local record = redis.call('HGET', KEYS[1], key)
if not record then return {key} end
return {key, record}
`)

	deleteScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
if redis.call('GET', KEYS[2]) == ARGV[1] then
	redis.call('DEL', KEYS[2])
end
return 1
`)
)

// Store is a Credential Store on Redis. Each call is atomic on the server.
type Store struct {
	client redis.UniversalClient
	key    *sealbox.Key
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces the Redis keys, default "accounts:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New wraps an existing client. The client's lifecycle stays with the caller.
func New(client redis.UniversalClient, key *sealbox.Key, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore New] client is required")
	}
	if key == nil {
		return nil, errors.New("[redisstore New] key is required")
	}
	s := &Store{client: client, key: key, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) recordsKey() string { return s.prefix + "records" }
func (s *Store) currentKey() string { return s.prefix + "current" }

func (s *Store) Persist(ctx context.Context, account *accounts.Account) error {
	plaintext, err := json.Marshal(account)
	if err != nil {
		return apperrors.Storagef(err, "[redisstore Persist] marshal")
	}
	sealed, err := sealbox.Seal(s.key, plaintext)
	if err != nil {
		return apperrors.Storagef(err, "[redisstore Persist] seal")
	}

	key := account.Key()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordsKey(), key, sealed)
		pipe.Set(ctx, s.currentKey(), key, 0)
		return nil
	})
	if err != nil {
		return apperrors.Storagef(err, "[redisstore Persist] exec")
	}
	return nil
}

func (s *Store) RetrieveCurrent(ctx context.Context) (*accounts.Account, error) {
	reply, err := retrieveCurrentScript.Run(ctx, s.client, []string{s.recordsKey(), s.currentKey()}).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storagef(err, "[redisstore RetrieveCurrent]")
	}
	if len(reply) != 2 {
		return nil, apperrors.Storagef(apperrors.ErrNotFound, "[redisstore RetrieveCurrent] current %q", reply)
	}
	return s.decode(reply[1])
}

func (s *Store) RetrieveAll(ctx context.Context) (map[string]*accounts.Account, error) {
	records, err := s.client.HGetAll(ctx, s.recordsKey()).Result()
	if err != nil {
		return nil, apperrors.Storagef(err, "[redisstore RetrieveAll]")
	}
	all := make(map[string]*accounts.Account, len(records))
	for key, sealed := range records {
		a, err := s.decode(sealed)
		if err != nil {
			return nil, err
		}
		all[key] = a
	}
	return all, nil
}

func (s *Store) Delete(ctx context.Context, userName, userID string) error {
	key := accounts.Key(userName, userID)
	if err := deleteScript.Run(ctx, s.client, []string{s.recordsKey(), s.currentKey()}, key).Err(); err != nil {
		return apperrors.Storagef(err, "[redisstore Delete]")
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.client.Del(ctx, s.recordsKey(), s.currentKey()).Err(); err != nil {
		return apperrors.Storagef(err, "[redisstore DeleteAll]")
	}
	return nil
}

func (s *Store) decode(sealed string) (*accounts.Account, error) {
	plaintext, err := sealbox.Open(s.key, sealed)
	if err != nil {
		return nil, apperrors.Storagef(err, "[redisstore] open record")
	}
	var a accounts.Account
	if err := json.Unmarshal(plaintext, &a); err != nil {
		return nil, apperrors.Storagef(err, "[redisstore] unmarshal record")
	}
	return &a, nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/CUknot/locshare/logging"
)

const revokedKeyPrefix = "revoked:"

// RevocationStore remembers signed-out token ids until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Close() error
}

// BadgerRevocations keeps revoked token ids in BadgerDB with a TTL, so
// entries disappear on their own once the token would have expired anyway.
type BadgerRevocations struct {
	db *badger.DB
}

// OpenBadgerRevocations opens the store at path, or in memory when path is empty.
func OpenBadgerRevocations(path string) (*BadgerRevocations, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open revocation store: %w", err)
	}
	logging.Info().Str("path", path).Bool("in_memory", path == "").Msg("Revocation store opened")
	return &BadgerRevocations{db: db}, nil
}

func (s *BadgerRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(revokedKeyPrefix+tokenID), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

func (s *BadgerRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(revokedKeyPrefix + tokenID))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("get revocation: %w", err)
	}
}

func (s *BadgerRevocations) Close() error {
	return s.db.Close()
}

// Package store persists trade events in pebble: an immutable archive
// keyed by trade sequence, and an outbox that tracks delivery of each
// event to the external feed.
package store

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// keys: trade/<20-digit-seq>, outbox/<20-digit-seq>
func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("trade/%020d", seq))
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("outbox/%020d", seq))
}

// PutTrade archives one encoded trade event. Trades are never mutated or
// deleted.
func (s *Store) PutTrade(seq uint64, payload []byte) error {
	return s.db.Set(tradeKey(seq), payload, pebble.Sync)
}

// GetTrade returns the archived payload, or ok=false.
func (s *Store) GetTrade(seq uint64) ([]byte, bool, error) {
	val, closer, err := s.db.Get(tradeKey(seq))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	return out, true, nil
}

// ScanTrades visits archived trades in sequence order.
func (s *Store) ScanTrades(fn func(seq uint64, payload []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("trade/"),
		UpperBound: []byte("trade/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseSeq(iter.Key(), "trade/")
		if err != nil {
			return err
		}
		if err := fn(seq, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func parseSeq(key []byte, prefix string) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &seq); err != nil {
		return 0, fmt.Errorf("store: malformed key %q: %w", key, err)
	}
	return seq, nil
}

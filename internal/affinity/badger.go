// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

package affinity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Key layout:
//
//	a:<userID>:<tagID> -> Row (JSON)
//	i:<interactionID>  -> seen marker (TTL-bounded)
const (
	affinityPrefix = "a:"
	seenPrefix     = "i:"

	// seenTTL bounds idempotency markers; interaction-log replays
	// older than this are expected to be rare.
	seenTTL = 30 * 24 * time.Hour

	// updateRetries bounds optimistic transaction retries.
	updateRetries = 5
)

// BadgerStore is a Badger-backed Store. Per-row serialization comes
// from Badger's SSI transactions: conflicting updates are retried.
type BadgerStore struct {
	db           *badger.DB
	decayPerWeek float64
	logger       zerolog.Logger
}

// OpenBadgerStore opens (or creates) the affinity database at path.
// decayPerWeek is applied when reading similarity vectors; see
// Config.DecayPerWeek.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func OpenBadgerStore(path string, decayPerWeek float64, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open affinity store: %w", err)
	}

	return &BadgerStore{
		db:           db,
		decayPerWeek: decayPerWeek,
		logger:       logger.With().Str("component", "affinity_store").Logger(),
	}, nil
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, userID, tagID string, fn func(row Row, exists bool) Row) error {
	key := []byte(affinityPrefix + userID + ":" + tagID)

	for attempt := 0; attempt < updateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			var row Row
			exists := false

			item, err := txn.Get(key)
			switch {
			case err == nil:
				exists = true
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &row)
				}); err != nil {
					return fmt.Errorf("decode affinity row: %w", err)
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				// First interaction with this tag.
			default:
				return err
			}

			next := fn(row, exists)
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode affinity row: %w", err)
			}
			return txn.Set(key, data)
		})

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("affinity update for %s/%s: %w", userID, tagID, badger.ErrConflict)
}

// ListByUser implements Store.
func (s *BadgerStore) ListByUser(ctx context.Context, userID string) ([]Row, error) {
	prefix := []byte(affinityPrefix + userID + ":")
	var rows []Row

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var row Row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				s.logger.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping undecodable affinity row")
				continue
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

// Vectors implements Store.
func (s *BadgerStore) Vectors(ctx context.Context, floor float64, now time.Time) (map[string]map[string]float64, error) {
	out := make(map[string]map[string]float64)
	prefix := []byte(affinityPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 256})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			key := string(it.Item().Key())
			userID, tagID, ok := splitAffinityKey(key)
			if !ok {
				continue
			}

			var row Row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				continue
			}

			score := DecayedScore(row.Score, row.LastInteractionAt, now, s.decayPerWeek)
			if score < floor {
				continue
			}
			if out[userID] == nil {
				out[userID] = make(map[string]float64)
			}
			out[userID][tagID] = score
		}
		return nil
	})
	return out, err
}

// MarkSeen implements Store.
func (s *BadgerStore) MarkSeen(_ context.Context, interactionID string) (bool, error) {
	key := []byte(seenPrefix + interactionID)
	first := false

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil // already processed
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		first = true
		entry := badger.NewEntry(key, nil).WithTTL(seenTTL)
		return txn.SetEntry(entry)
	})
	return first, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// splitAffinityKey parses "a:<userID>:<tagID>". Tag IDs may not
// contain ':'; user IDs may (UUIDs and opaque upstream IDs do not,
// but the parse is defensive either way).
func splitAffinityKey(key string) (userID, tagID string, ok bool) {
	rest, found := strings.CutPrefix(key, affinityPrefix)
	if !found {
		return "", "", false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

var _ Store = (*BadgerStore)(nil)

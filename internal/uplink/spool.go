// Waypost - Personal Location Tracking and History
// Copyright 2026 Waypost Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waypost/waypost

package uplink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/waypost/waypost/internal/geo"
	"github.com/waypost/waypost/internal/logging"
	"github.com/waypost/waypost/internal/metrics"
)

var spoolPrefix = []byte("sample:")

// errCorruptRecord marks a spooled value that no longer decodes.
var errCorruptRecord = errors.New("corrupt spool record")

// Spool persists samples that could not be delivered so they survive
// agent restarts. Entries expire after the retention period; a sample
// old enough to have aged out is not worth replaying.
type Spool struct {
	db        *badger.DB
	retention time.Duration
	seq       atomic.Uint64
}

// OpenSpool opens (or creates) a BadgerDB spool at path.
func OpenSpool(path string, retention time.Duration) (*Spool, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool at %s: %w", path, err)
	}

	s := &Spool{db: db, retention: retention}
	metrics.UplinkSpoolDepth.Set(float64(s.Depth()))
	return s, nil
}

// makeKey builds a time-ordered key so iteration replays oldest-first.
// The sequence counter breaks ties within one nanosecond tick.
func (s *Spool) makeKey() []byte {
	key := fmt.Sprintf("%020d:%06d", time.Now().UnixNano(), s.seq.Add(1))
	return append(append([]byte{}, spoolPrefix...), key...)
}

// Put stores one sample with the retention TTL.
func (s *Spool) Put(sample geo.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.makeKey(), data).WithTTL(s.retention)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to spool sample: %w", err)
	}

	metrics.UplinkSpoolDepth.Set(float64(s.Depth()))
	return nil
}

// Depth returns the number of samples waiting in the spool.
func (s *Spool) Depth() int {
	count := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = spoolPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Drain replays spooled samples oldest-first through send, deleting
// each one send accepts. It stops at the first send failure or when
// ctx is cancelled, and returns the number of samples delivered.
func (s *Spool) Drain(ctx context.Context, send func(geo.Sample) error) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		key, sample, ok, err := s.oldest()
		if err != nil {
			if !errors.Is(err, errCorruptRecord) {
				return delivered, err
			}
			// Left in place it would block everything behind it until
			// its TTL expires.
			logging.Warn().Err(err).Msg("dropping undecodable spool record")
			if delErr := s.delete(key); delErr != nil {
				return delivered, delErr
			}
			continue
		}
		if !ok {
			break
		}

		if err := send(sample); err != nil {
			if IsRejected(err) {
				// The server will never take this one; discard it
				// and keep draining.
				if delErr := s.delete(key); delErr != nil {
					return delivered, delErr
				}
				continue
			}
			metrics.UplinkSpoolDepth.Set(float64(s.Depth()))
			return delivered, err
		}

		if err := s.delete(key); err != nil {
			return delivered, err
		}
		delivered++
	}

	metrics.UplinkSpoolDepth.Set(float64(s.Depth()))
	return delivered, nil
}

// oldest reads the first spooled sample without removing it.
func (s *Spool) oldest() ([]byte, geo.Sample, bool, error) {
	var (
		key    []byte
		sample geo.Sample
		found  bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = spoolPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		key = item.KeyCopy(nil)
		found = true
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &sample); err != nil {
				return fmt.Errorf("%w: %v", errCorruptRecord, err)
			}
			return nil
		})
	})
	if err != nil {
		// The key comes back even on failure so the caller can discard
		// a corrupt record.
		return key, geo.Sample{}, false, fmt.Errorf("failed to read spool: %w", err)
	}
	return key, sample, found, nil
}

func (s *Spool) delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("failed to remove spooled sample: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (s *Spool) Close() error {
	return s.db.Close()
}

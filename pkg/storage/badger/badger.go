package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/storage"
)

const (
	keySize         = 16
	slowQuery       = 5 * time.Second
	ctxCheckEvery   = 1000
	writeCheckEvery = 100
)

// Store implements storage.Store using BadgerDB (LSM tree)
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop defaults)
	MaxMemoryMB int64
}

// New opens a BadgerDB archive
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// 16 MB memtable unless a budget is given; below that badger flushes
	// to disk far too often.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // badger's minimum
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // default is 2 GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Write stores readings. Keys are device hash + timestamp, so a repeated
// reading overwrites the stored one.
func (s *Store) Write(ctx context.Context, readings []reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, r := range readings {
				if i%writeCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				value, err := json.Marshal(r)
				if err != nil {
					return fmt.Errorf("failed to encode reading: %w", err)
				}
				if err := txn.Set(makeKey(r.DeviceID, r.Timestamp), value); err != nil {
					return fmt.Errorf("failed to write reading: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves readings matching the request. With DeviceIDs set each
// device is a bounded range scan over its key prefix.
func (s *Store) Query(ctx context.Context, req storage.QueryRequest) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []reading.Reading
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		startTime := time.Now()
		results := make([]reading.Reading, 0)
		var iterCount int

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			it := txn.NewIterator(opts)
			defer it.Close()

			full := func(r reading.Reading) bool {
				results = append(results, r)
				return req.Limit > 0 && len(results) >= req.Limit
			}

			scan := func(seek []byte, stop func(key []byte) bool) (bool, error) {
				for it.Seek(seek); it.Valid(); it.Next() {
					iterCount++
					if iterCount%ctxCheckEvery == 0 {
						if err := ctx.Err(); err != nil {
							return true, err
						}
					}
					item := it.Item()
					if stop != nil && stop(item.Key()) {
						return false, nil
					}
					var r reading.Reading
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &r)
					}); err != nil {
						return true, fmt.Errorf("failed to decode reading: %w", err)
					}
					if !req.Matches(r) {
						continue
					}
					if full(r) {
						return true, nil
					}
				}
				return false, nil
			}

			if len(req.DeviceIDs) == 0 {
				_, err := scan(nil, nil)
				return err
			}
			for _, id := range req.DeviceIDs {
				end := makeKey(id, req.End)
				stopped, err := scan(makeKey(id, req.Start), func(key []byte) bool {
					return bytes.Compare(key, end) > 0
				})
				if err != nil || stopped {
					return err
				}
			}
			return nil
		})

		if elapsed := time.Since(startTime); elapsed > slowQuery {
			log.Printf("Slow archive query: %v (%d iterations, %d results)", elapsed, iterCount, len(results))
		}
		done <- queryResult{results: results, err: err}
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes readings older than before
func (s *Store) Delete(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%ctxCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if _, ts := parseKey(it.Item().Key()); ts.Before(before) {
					keys = append(keys, it.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			done <- err
			return
		}

		// WriteBatch splits large deletes across transactions.
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				done <- err
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs value log garbage collection. badger.ErrNoRewrite means
// nothing was worth rewriting.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns archive statistics
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &storage.Stats{}
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			devices := make(map[uint64]bool)
			for it.Rewind(); it.Valid(); it.Next() {
				stats.TotalReadings++
				if stats.TotalReadings%ctxCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				hash, ts := parseKey(it.Item().Key())
				devices[hash] = true
				if stats.Oldest.IsZero() || ts.Before(stats.Oldest) {
					stats.Oldest = ts
				}
				if stats.Newest.IsZero() || ts.After(stats.Newest) {
					stats.Newest = ts
				}
			}
			stats.TotalDevices = uint64(len(devices))
			return nil
		})
		if err == nil {
			lsm, vlog := s.db.Size()
			stats.SizeBytes = uint64(lsm + vlog)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key.
// Format: [xxhash(deviceID) (8 bytes)][timestamp offset (8 bytes)]
func makeKey(deviceID string, ts time.Time) []byte {
	key := make([]byte, keySize)
	binary.BigEndian.PutUint64(key[0:8], xxhash.Sum64String(deviceID))
	binary.BigEndian.PutUint64(key[8:16], encodeTime(ts))
	return key
}

func parseKey(key []byte) (uint64, time.Time) {
	if len(key) < keySize {
		return 0, time.Time{}
	}
	hash := binary.BigEndian.Uint64(key[0:8])
	nanos := int64(binary.BigEndian.Uint64(key[8:16]) ^ (1 << 63))
	return hash, time.Unix(0, nanos)
}

// encodeTime flips the sign bit so pre-1970 instants sort before later ones.
// The zero time saturates to the smallest key.
func encodeTime(ts time.Time) uint64 {
	if ts.IsZero() {
		return 0
	}
	nanos := ts.UnixNano()
	if ts.Year() > 2262 {
		nanos = math.MaxInt64
	}
	return uint64(nanos) ^ (1 << 63)
}

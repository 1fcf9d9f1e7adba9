package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/storage"
)

func sample(id string, ts time.Time, inCount float64) reading.Reading {
	return reading.Reading{
		DeviceID:    id,
		CounterName: "PIZZA",
		Timestamp:   ts,
		Fields:      map[string]any{"inCount": inCount},
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_WriteAndQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	err := store.Write(ctx, []reading.Reading{
		sample("dev-a", now, 5),
		sample("dev-a", now.Add(time.Minute), 7),
		sample("dev-b", now, 3),
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{
		Start: now.Add(-1 * time.Hour),
		End:   now.Add(1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(results))
	}

	results, err = store.Query(ctx, storage.QueryRequest{
		Start:     now.Add(-1 * time.Hour),
		End:       now.Add(1 * time.Hour),
		DeviceIDs: []string{"dev-a"},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 dev-a readings, got %d", len(results))
	}
	if !results[0].Timestamp.Equal(now) || !results[1].Timestamp.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected timestamp order, got %v then %v", results[0].Timestamp, results[1].Timestamp)
	}
	if results[0].CounterName != "PIZZA" {
		t.Errorf("CounterName = %q, want PIZZA", results[0].CounterName)
	}
	if v, ok := reading.Extract(results[1], reading.DefaultFields); !ok || v != 7 {
		t.Errorf("Expected inCount 7 after round trip, got %v (%v)", v, ok)
	}
}

func TestBadgerStore_DeviceRangeScan(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	var batch []reading.Reading
	for i := 0; i < 48; i++ {
		batch = append(batch, sample("dev-a", base.Add(time.Duration(i)*time.Hour), float64(i)))
		batch = append(batch, sample("dev-b", base.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	if err := store.Write(ctx, batch); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{
		Start:     base.Add(24 * time.Hour),
		End:       base.Add(47 * time.Hour),
		DeviceIDs: []string{"dev-b"},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 24 {
		t.Errorf("Expected 24 readings in second day, got %d", len(results))
	}
	for _, r := range results {
		if r.DeviceID != "dev-b" {
			t.Fatalf("Unexpected device %s", r.DeviceID)
		}
	}

	limited, err := store.Query(ctx, storage.QueryRequest{
		Start:     base,
		End:       base.Add(48 * time.Hour),
		DeviceIDs: []string{"dev-a", "dev-b"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 10 {
		t.Errorf("Expected limit of 10, got %d", len(limited))
	}
}

func TestBadgerStore_OverwriteSameTimestamp(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	store.Write(ctx, []reading.Reading{sample("dev-a", now, 1)})
	store.Write(ctx, []reading.Reading{sample("dev-a", now, 4)})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalReadings != 1 {
		t.Errorf("Expected 1 reading after overwrite, got %d", stats.TotalReadings)
	}
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	{
		store, err := New(Config{Path: dir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		if err := store.Write(ctx, []reading.Reading{sample("dev-p", now, 12)}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		store.Close()
	}

	store, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	results, err := store.Query(ctx, storage.QueryRequest{
		Start: now.Add(-1 * time.Hour),
		End:   now.Add(1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].DeviceID != "dev-p" {
		t.Fatalf("Expected the persisted dev-p reading, got %+v", results)
	}
}

func TestBadgerStore_DeleteAndStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	err := store.Write(ctx, []reading.Reading{
		sample("dev-a", now.Add(-3*time.Hour), 1),
		sample("dev-b", now.Add(-2*time.Hour), 2),
		sample("dev-a", now, 3),
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := store.Delete(ctx, now.Add(-1*time.Hour)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalReadings != 1 {
		t.Errorf("Expected 1 reading after deletion, got %d", stats.TotalReadings)
	}
	if stats.TotalDevices != 1 {
		t.Errorf("Expected 1 device after deletion, got %d", stats.TotalDevices)
	}
	if stats.Newest.Before(now.Add(-time.Second)) || stats.Newest.After(now.Add(time.Second)) {
		t.Errorf("Newest timestamp out of expected range: %v", stats.Newest)
	}
}

func TestBadgerStore_ConcurrentWrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			store.Write(ctx, []reading.Reading{sample("dev-c", now.Add(time.Duration(id)*time.Second), float64(id))})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	results, err := store.Query(ctx, storage.QueryRequest{
		Start: now.Add(-1 * time.Hour),
		End:   now.Add(1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Final query failed: %v", err)
	}
	if len(results) != 10 {
		t.Errorf("Expected 10 readings after concurrent writes, got %d", len(results))
	}
}

func TestKeyOrdering(t *testing.T) {
	early := makeKey("dev", time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC))
	late := makeKey("dev", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if string(early) >= string(late) {
		t.Error("Expected pre-epoch key to sort first")
	}

	_, ts := parseKey(late)
	if !ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseKey timestamp = %v", ts)
	}
}

func TestBadgerStore_OpensWithMemoryBudget(t *testing.T) {
	store, err := New(Config{Path: t.TempDir(), MaxMemoryMB: 64})
	if err != nil {
		t.Fatalf("Failed to open storage with a memory budget: %v", err)
	}
	defer store.Close()

	if err := store.RunGC(0.5); err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		t.Errorf("RunGC failed: %v", err)
	}
}

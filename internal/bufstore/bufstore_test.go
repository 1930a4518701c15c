package bufstore

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/storetest"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

func TestBufstoreConformance(t *testing.T) {
	below := storetest.NewMemStore()

	storetest.Exercise(t, 30, func(prev store.Store) store.Store {
		// A fresh Store over the same below stands in for a process
		// restart: only what made it through Flush should survive.
		return New(below, 0, zerolog.Nop())
	})
}

func TestBufstoreWriteNotVisibleBelowBeforeFlush(t *testing.T) {
	below := storetest.NewMemStore()
	s := New(below, 0, zerolog.Nop())

	if err := s.Write(1, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok, _ := below.Exists(1); ok {
		t.Fatalf("write reached below before Flush")
	}
	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ok, _ := below.Exists(1); !ok {
		t.Fatalf("write did not reach below after Flush")
	}
}

func TestBufstoreCacheServesReadsWithoutHittingBelow(t *testing.T) {
	below := storetest.NewMemStore()
	if err := below.Write(1, []byte("from below")); err != nil {
		t.Fatalf("below.Write: %v", err)
	}

	counting := &countingStore{MemStore: below}
	s := New(counting, 0, zerolog.Nop())

	if _, err := s.Read(1); err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if _, err := s.Read(1); err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if counting.reads != 1 {
		t.Fatalf("below.Read called %d times, want 1 (second read should hit cache)", counting.reads)
	}
}

func TestBufstoreCacheEvictionOnLimit(t *testing.T) {
	below := storetest.NewMemStore()
	rec := &recorderStub{}
	s := New(below, 16, zerolog.Nop())
	s.SetRecorder(rec)

	if err := below.Write(1, bytes.Repeat([]byte("a"), 10)); err != nil {
		t.Fatalf("below.Write: %v", err)
	}
	if err := below.Write(2, bytes.Repeat([]byte("b"), 10)); err != nil {
		t.Fatalf("below.Write: %v", err)
	}

	if _, err := s.Read(1); err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if _, err := s.Read(2); err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if rec.evictions == 0 {
		t.Fatalf("expected at least one cache eviction once the 16-byte limit was exceeded")
	}
}

func TestBufstoreRemoveThenReadIsNotFound(t *testing.T) {
	below := storetest.NewMemStore()
	s := New(below, 0, zerolog.Nop())

	if err := s.Write(1, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Remove(1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Read(1); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ok, _ := below.Exists(1); ok {
		t.Fatalf("removed index still present below after flush")
	}
}

// countingStore wraps a *storetest.MemStore to count Read calls, letting a
// test distinguish a cache hit from a pass-through read.
type countingStore struct {
	*storetest.MemStore
	reads int
}

func (c *countingStore) Read(index uint32) ([]byte, error) {
	c.reads++
	return c.MemStore.Read(index)
}

type recorderStub struct {
	hits, misses, evictions int
}

func (r *recorderStub) CacheHit()      { r.hits++ }
func (r *recorderStub) CacheMiss()     { r.misses++ }
func (r *recorderStub) CacheEviction() { r.evictions++ }

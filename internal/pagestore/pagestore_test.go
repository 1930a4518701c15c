package pagestore

import (
	"bytes"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/vaulterr"
)

// memStore is a minimal in-memory store.Store used to exercise pagestore
// without the filesystem or encryption layers underneath it.
type memStore struct {
	mu   sync.Mutex
	data map[uint32][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[uint32][]byte)}
}

func (m *memStore) Read(index uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[index]
	if !ok {
		return nil, vaulterr.Wrap(vaulterr.ErrNotFound, "index %d not found", index)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memStore) Write(index uint32, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[index] = cp
	return nil
}

func (m *memStore) Remove(index uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[index]; !ok {
		return vaulterr.Wrap(vaulterr.ErrNotFound, "index %d not found", index)
	}
	delete(m.data, index)
	return nil
}

func (m *memStore) Exists(index uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[index]
	return ok, nil
}

func (m *memStore) Flush() error { return nil }

func openTest(t *testing.T, below *memStore, pageSize int) *Store {
	t.Helper()
	s, err := Open(below, pageSize, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPagestoreSmallValueRoundTrip(t *testing.T) {
	below := newMemStore()
	s := openTest(t, below, 256)

	if err := s.Write(1, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
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

	reopened := openTest(t, below, 256)
	got, err = reopened.Read(1)
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("after reopen: got %q, want %q", got, "hello")
	}
}

func TestPagestoreValueSpansMultiplePages(t *testing.T) {
	below := newMemStore()
	s := openTest(t, below, 64)

	value := bytes.Repeat([]byte("x"), 500)
	if err := s.Write(7, value); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened := openTest(t, below, 64)
	got, err := reopened.Read(7)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(value))
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestPagestoreOverwriteShrinksChain(t *testing.T) {
	below := newMemStore()
	s := openTest(t, below, 64)

	if err := s.Write(3, bytes.Repeat([]byte("a"), 300)); err != nil {
		t.Fatalf("Write long: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Write(3, []byte("short")); err != nil {
		t.Fatalf("Write short: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := s.Read(3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("short")) {
		t.Fatalf("got %q, want %q", got, "short")
	}
}

func TestPagestoreRemove(t *testing.T) {
	below := newMemStore()
	s := openTest(t, below, 64)

	if err := s.Write(5, []byte("value")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Remove(5); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := s.Read(5); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound after remove, got %v", err)
	}

	reopened := openTest(t, below, 64)
	if _, err := reopened.Read(5); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound after reopen, got %v", err)
	}
}

func TestPagestoreRemoveUnknownIndex(t *testing.T) {
	below := newMemStore()
	s := openTest(t, below, 64)

	if err := s.Remove(99); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPagestoreManyValuesSurviveReopen(t *testing.T) {
	below := newMemStore()
	s := openTest(t, below, 128)

	values := map[uint32][]byte{}
	for i := uint32(0); i < 40; i++ {
		v := bytes.Repeat([]byte{byte(i)}, int(i)*7+1)
		values[i] = v
		if err := s.Write(i, v); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened := openTest(t, below, 128)
	for i, want := range values {
		got, err := reopened.Read(i)
		if err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("index %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

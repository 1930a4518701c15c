package vfs

import (
	"bytes"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/vaulterr"
)

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

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(newMemStore(), zerolog.Nop())
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Put("/hello.txt", []byte("world"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get("/hello.txt", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("world")) {
		t.Fatalf("got %q, want %q", got, "world")
	}
}

func TestPutAppendAtOffset(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Put("/f", []byte("hello"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	written, err := s.Put("/f", []byte(" world"), 5)
	if err != nil {
		t.Fatalf("Put append: %v", err)
	}
	if written != 6 {
		t.Fatalf("written = %d, want 6", written)
	}
	got, err := s.Get("/f", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestMkdAndList(t *testing.T) {
	s := newTestService(t)
	if err := s.Mkd("/dir"); err != nil {
		t.Fatalf("Mkd: %v", err)
	}
	if _, err := s.Put("/dir/a.txt", []byte("a"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := s.List("/dir")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestMkdExistsRejected(t *testing.T) {
	s := newTestService(t)
	if err := s.Mkd("/dir"); err != nil {
		t.Fatalf("Mkd: %v", err)
	}
	if err := s.Mkd("/dir"); vaulterr.Classify(err) != vaulterr.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestRmdRequiresEmpty(t *testing.T) {
	s := newTestService(t)
	if err := s.Mkd("/dir"); err != nil {
		t.Fatalf("Mkd: %v", err)
	}
	if _, err := s.Put("/dir/a.txt", []byte("a"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Rmd("/dir"); vaulterr.Classify(err) != vaulterr.PermissionDenied {
		t.Fatalf("expected PermissionDenied for non-empty dir, got %v", err)
	}
	if err := s.Del("/dir/a.txt"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := s.Rmd("/dir"); err != nil {
		t.Fatalf("Rmd: %v", err)
	}
	if _, err := s.List("/dir"); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound after rmd, got %v", err)
	}
}

func TestRenameWithinSameDirectory(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Put("/a.txt", []byte("a"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Rename("/a.txt", "/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := s.Metadata("/a.txt"); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected source gone, got %v", err)
	}
	if _, err := s.Metadata("/b.txt"); err != nil {
		t.Fatalf("Metadata(/b.txt): %v", err)
	}
}

func TestRenameRejectsCycleIntoOwnDescendant(t *testing.T) {
	s := newTestService(t)
	if err := s.Mkd("/a"); err != nil {
		t.Fatalf("Mkd /a: %v", err)
	}
	if err := s.Mkd("/a/b"); err != nil {
		t.Fatalf("Mkd /a/b: %v", err)
	}
	if err := s.Rename("/a", "/a/b/a"); vaulterr.Classify(err) != vaulterr.PermissionDenied {
		t.Fatalf("expected cycle rejected with PermissionDenied, got %v", err)
	}
}

func TestRenameDestinationExists(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Put("/a.txt", []byte("a"), 0); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if _, err := s.Put("/b.txt", []byte("b"), 0); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := s.Rename("/a.txt", "/b.txt"); vaulterr.Classify(err) != vaulterr.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestPathRejectsParentDirReference(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Put("/../etc/passwd", []byte("x"), 0); vaulterr.Classify(err) != vaulterr.FileNameNotAllowed {
		t.Fatalf("expected FileNameNotAllowed, got %v", err)
	}
}

func TestPathRejectsCurrentDirReference(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Put("/a/./b", []byte("x"), 0); vaulterr.Classify(err) != vaulterr.FileNameNotAllowed {
		t.Fatalf("expected FileNameNotAllowed, got %v", err)
	}
}

func TestDelRejectsDirectory(t *testing.T) {
	s := newTestService(t)
	if err := s.Mkd("/dir"); err != nil {
		t.Fatalf("Mkd: %v", err)
	}
	if err := s.Del("/dir"); vaulterr.Classify(err) != vaulterr.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

package fsstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/storetest"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

func openTest(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestFsstoreConformance(t *testing.T) {
	dir := t.TempDir()

	storetest.Exercise(t, 20, func(prev store.Store) store.Store {
		return openTest(t, dir)
	})
}

func TestFsstoreWriteNotCommittedBeforeFlush(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir)

	if err := s.Write(1, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(s.committedPath(1)); !os.IsNotExist(err) {
		t.Fatalf("committed file exists before Flush")
	}
	if _, err := os.Stat(s.pendingPath(1)); err != nil {
		t.Fatalf("pending file missing: %v", err)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(s.committedPath(1)); err != nil {
		t.Fatalf("committed file missing after Flush: %v", err)
	}
	if _, err := os.Stat(s.pendingPath(1)); !os.IsNotExist(err) {
		t.Fatalf("pending file still present after Flush")
	}
}

func TestFsstoreRecoversFromStaleWAL(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir)

	if err := s.Write(1, []byte("value")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fsyncFile(s.pendingPath(1)); err != nil {
		t.Fatalf("fsyncFile: %v", err)
	}
	if err := writeWAL(dir, s.overlay); err != nil {
		t.Fatalf("writeWAL: %v", err)
	}
	// Simulate a crash between Flush's phase 2 (WAL published) and phase 4
	// (WAL removed): the committed file was never renamed into place, and
	// the WAL is still on disk.

	reopened := openTest(t, dir)
	got, err := reopened.Read(1)
	if err != nil {
		t.Fatalf("Read after recovery: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("got %q, want %q", got, "value")
	}
	if _, err := os.Stat(filepath.Join(dir, walName)); !os.IsNotExist(err) {
		t.Fatalf("WAL file still present after recovery")
	}
}

func TestFsstoreRemoveUnknownIndex(t *testing.T) {
	dir := t.TempDir()
	s := openTest(t, dir)

	if err := s.Remove(42); vaulterr.Classify(err) != vaulterr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFsstoreEnsureDirRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := dir + "/not-a-dir"
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := EnsureDir(file); vaulterr.Classify(err) != vaulterr.InvalidData {
		t.Fatalf("expected InvalidData, got %v", err)
	}
}

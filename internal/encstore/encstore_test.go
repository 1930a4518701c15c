package encstore

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/storetest"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

func TestEncstoreConformance(t *testing.T) {
	below := storetest.NewMemStore()
	key := [32]byte{1, 2, 3, 4, 5}

	storetest.Exercise(t, 30, func(prev store.Store) store.Store {
		// encstore carries no state of its own beyond the key, so a fresh
		// wrapper over the same below is equivalent to a process restart.
		return New(key, below, zerolog.Nop())
	})
}

func TestEncstoreCiphertextDiffersFromPlaintext(t *testing.T) {
	below := storetest.NewMemStore()
	s := New([32]byte{9}, below, zerolog.Nop())

	plaintext := bytes.Repeat([]byte("a"), 64)
	if err := s.Write(1, plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := below.Read(1)
	if err != nil {
		t.Fatalf("below.Read: %v", err)
	}
	if len(raw) != HeaderSize+len(plaintext) {
		t.Fatalf("got %d bytes below, want %d", len(raw), HeaderSize+len(plaintext))
	}
	if bytes.Equal(raw[HeaderSize:], plaintext) {
		t.Fatalf("ciphertext equals plaintext")
	}

	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestEncstoreRewriteChangesIVAndCiphertext(t *testing.T) {
	below := storetest.NewMemStore()
	s := New([32]byte{9}, below, zerolog.Nop())

	value := bytes.Repeat([]byte("b"), 32)
	if err := s.Write(1, value); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	first, err := below.Read(1)
	if err != nil {
		t.Fatalf("below.Read: %v", err)
	}

	if err := s.Write(1, value); err != nil {
		t.Fatalf("Write 2: %v", err)
	}
	second, err := below.Read(1)
	if err != nil {
		t.Fatalf("below.Read: %v", err)
	}

	if bytes.Equal(first, second) {
		t.Fatalf("rewriting identical plaintext produced identical ciphertext; counter did not bump")
	}
}

func TestEncstoreWrongKeyFailsToDecrypt(t *testing.T) {
	below := storetest.NewMemStore()
	writer := New([32]byte{1}, below, zerolog.Nop())
	if err := writer.Write(1, []byte("secret")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reader := New([32]byte{2}, below, zerolog.Nop())
	got, err := reader.Read(1)
	if err != nil {
		t.Fatalf("Read with wrong key returned an error instead of garbage: %v", err)
	}
	if bytes.Equal(got, []byte("secret")) {
		t.Fatalf("wrong key decrypted to the original plaintext")
	}
}

func TestEncstoreReadTooShortHeader(t *testing.T) {
	below := storetest.NewMemStore()
	if err := below.Write(1, []byte("short")); err != nil {
		t.Fatalf("below.Write: %v", err)
	}
	s := New([32]byte{1}, below, zerolog.Nop())
	if _, err := s.Read(1); vaulterr.Classify(err) != vaulterr.UnexpectedEOF {
		t.Fatalf("expected UnexpectedEOF, got %v", err)
	}
}

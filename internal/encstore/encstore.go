// Package encstore implements the encryption layer of the store stack:
// AES-256-CFB with a per-block IV derived from the master key, the logical
// index, and a per-write counter prepended to the ciphertext in the clear.
//
// Grounded directly on the original implementation's EncIntKv (enc.rs):
// same counter-bump policy, same Blake2s-128 IV derivation, translated from
// the aes/cfb_mode/blake2/rand crates to crypto/aes, crypto/cipher, and
// golang.org/x/crypto/blake2s.
package encstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2s"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

// HeaderSize is the size in bytes of the cleartext counter header prepended
// to every encrypted block.
const HeaderSize = 16

// Store wraps another store.Store, encrypting every payload with
// AES-256-CFB.
type Store struct {
	key   [32]byte
	below store.Store
	log   zerolog.Logger
}

// New wraps below with AES-256-CFB encryption under key. log is used as
// given; callers scope it to this layer (see
// internal/config.BuildStore's use of logger.Logger.StoreLogger).
func New(key [32]byte, below store.Store, log zerolog.Logger) *Store {
	return &Store{key: key, below: below, log: log}
}

// count is the 16-byte header: two independent 64-bit words bumped on
// every write to the same index to keep IVs from repeating.
type count struct {
	c1, c2 uint64
}

func readCount(data []byte) (count, []byte, error) {
	if len(data) < HeaderSize {
		return count{}, nil, vaulterr.Wrap(vaulterr.ErrUnexpectedEOF, "block too short to carry encryption header (%d bytes)", len(data))
	}
	return count{
		c1: binary.BigEndian.Uint64(data[0:8]),
		c2: binary.BigEndian.Uint64(data[8:16]),
	}, data[HeaderSize:], nil
}

func (c count) bytes() [HeaderSize]byte {
	var out [HeaderSize]byte
	binary.BigEndian.PutUint64(out[0:8], c.c1)
	binary.BigEndian.PutUint64(out[8:16], c.c2)
	return out
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		// crypto/rand failing means the system RNG is broken; there is no
		// safe way to continue generating IVs.
		panic("encstore: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

func randomCount() count {
	return count{c1: randomUint64(), c2: randomUint64()}
}

// bump produces the next counter for a rewrite of the same index: the
// first word advances by an odd random delta (ruling out a zero delta,
// which would let the IV repeat), the second simply increments.
func (c count) bump() count {
	delta := randomUint64() | 1
	return count{c1: c.c1 + delta, c2: c.c2 + 1}
}

// iv derives the 128-bit AES-CFB IV from the master key, the counter, and
// the logical index, per spec.md §4.2.
func (s *Store) iv(index uint32, c count) ([aes.BlockSize]byte, error) {
	h, err := blake2s.New256(nil)
	if err != nil {
		return [aes.BlockSize]byte{}, vaulterr.Wrap(vaulterr.ErrLocal, "blake2s init: %v", err)
	}
	h.Write(s.key[:])
	cb := c.bytes()
	h.Write(cb[:])
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], uint64(index))
	h.Write(idxBuf[:])
	sum := h.Sum(nil)
	var iv [aes.BlockSize]byte
	copy(iv[:], sum[:aes.BlockSize])
	return iv, nil
}

func (s *Store) cipherBlock() (cipher.Block, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrLocal, "aes key setup: %v", err)
	}
	return block, nil
}

// Read implements store.Store.
func (s *Store) Read(index uint32) ([]byte, error) {
	raw, err := s.below.Read(index)
	if err != nil {
		return nil, err
	}
	c, ciphertext, err := readCount(raw)
	if err != nil {
		return nil, err
	}
	iv, err := s.iv(index, c)
	if err != nil {
		return nil, err
	}
	block, err := s.cipherBlock()
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv[:]).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// Write implements store.Store.
func (s *Store) Write(index uint32, value []byte) error {
	exists, err := s.below.Exists(index)
	if err != nil {
		return err
	}
	var c count
	if exists {
		old, err := s.below.Read(index)
		if err != nil {
			return err
		}
		prev, _, err := readCount(old)
		if err != nil {
			return err
		}
		c = prev.bump()
	} else {
		c = randomCount()
	}

	iv, err := s.iv(index, c)
	if err != nil {
		return err
	}
	block, err := s.cipherBlock()
	if err != nil {
		return err
	}

	cb := c.bytes()
	out := make([]byte, HeaderSize+len(value))
	copy(out[:HeaderSize], cb[:])
	cipher.NewCFBEncrypter(block, iv[:]).XORKeyStream(out[HeaderSize:], value)

	return s.below.Write(index, out)
}

// Remove implements store.Store. The prior counter is not preserved: IV
// non-reuse across a delete/recreate cycle at the same index relies
// entirely on a fresh random counter being drawn on the next Write (see
// spec.md §9 open question 4).
func (s *Store) Remove(index uint32) error {
	return s.below.Remove(index)
}

// Exists implements store.Store.
func (s *Store) Exists(index uint32) (bool, error) {
	return s.below.Exists(index)
}

// Flush implements store.Store.
func (s *Store) Flush() error {
	return s.below.Flush()
}

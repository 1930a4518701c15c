// Package wire implements the fixed-size, big-endian record encoding used
// for meta pages, data pages, and directory tree blocks. It mirrors the
// original implementation's bincode configuration (big-endian,
// fixed-width integers, length-prefixed byte strings and maps) so that a
// page's serialized size is always exactly predictable from its contents,
// which the paging layer's padding and budget arithmetic depends on.
package wire

import (
	"encoding/binary"

	"github.com/nainya/vaultfs/internal/vaulterr"
)

// Writer appends fixed-width fields to an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with buf pre-allocated to size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutBytes(v []byte) {
	w.PutUint64(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

// Bytes returns the accumulated buffer, not padded.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// PadTo grows the buffer to exactly size bytes by appending zeros. It
// returns vaulterr.ErrWriteZero if the buffer already exceeds size.
func (w *Writer) PadTo(size int) ([]byte, error) {
	if len(w.buf) > size {
		return nil, vaulterr.Wrap(vaulterr.ErrWriteZero, "serialized record (%d bytes) exceeds page budget (%d bytes)", len(w.buf), size)
	}
	out := make([]byte, size)
	copy(out, w.buf)
	return out, nil
}

// Reader consumes fixed-width fields from a byte slice in order.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, vaulterr.Wrap(vaulterr.ErrUnexpectedEOF, "truncated uint64 field")
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, vaulterr.Wrap(vaulterr.ErrUnexpectedEOF, "truncated byte-string field (want %d bytes)", n)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// Remaining returns how many bytes are left unread.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Uint64Size is the encoded size of a single PutUint64 field.
const Uint64Size = 8

// BytesSize returns the encoded size of a byte string of length n,
// including its length prefix.
func BytesSize(n int) int {
	return Uint64Size + n
}

// ErrorForUnexpectedEOF wraps io-style truncation with a location hint,
// used by layers that need a named error rather than a bare sentinel.
func ErrorForUnexpectedEOF(where string) error {
	return vaulterr.Wrap(vaulterr.ErrUnexpectedEOF, "%s", where)
}

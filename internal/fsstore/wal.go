package fsstore

import (
	"os"
	"path/filepath"

	"github.com/nainya/vaultfs/internal/vaulterr"
	"github.com/nainya/vaultfs/internal/wire"
)

// walKind distinguishes a pending write from a pending removal in a
// persisted write-ahead log entry.
type walKind uint64

const (
	walModified walKind = iota
	walRemoved
)

// walName is the fixed, well-known name for the write-ahead log file inside
// a store directory.
const walName = "wal"

// encodeWAL serializes the overlay as a flat sequence of (index, kind)
// records prefixed by a count, matching the fixed-width big-endian
// convention used everywhere else on disk (see internal/wire).
func encodeWAL(overlay map[uint32]overlayEntry) []byte {
	w := wire.NewWriter(8 + len(overlay)*16)
	w.PutUint64(uint64(len(overlay)))
	for index, e := range overlay {
		w.PutUint64(uint64(index))
		if e.removed {
			w.PutUint64(uint64(walRemoved))
		} else {
			w.PutUint64(uint64(walModified))
		}
	}
	return w.Bytes()
}

// decodeWAL parses a WAL file's contents back into per-index intents.
func decodeWAL(data []byte) (map[uint32]overlayEntry, error) {
	r := wire.NewReader(data)
	count, err := r.Uint64()
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "wal: truncated header")
	}
	out := make(map[uint32]overlayEntry, count)
	for i := uint64(0); i < count; i++ {
		index, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "wal: truncated entry %d", i)
		}
		kind, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "wal: truncated entry %d", i)
		}
		out[uint32(index)] = overlayEntry{removed: walKind(kind) == walRemoved}
	}
	return out, nil
}

// writeWAL atomically publishes the overlay's intent via write-temp,
// fsync-temp, rename, matching spec.md's flush phase 2.
func writeWAL(dir string, overlay map[uint32]overlayEntry) error {
	path := filepath.Join(dir, walName)
	tmp := path + ".tmp"

	data := encodeWAL(overlay)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return vaulterr.Wrap(vaulterr.ErrIO, "wal: open temp: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return vaulterr.Wrap(vaulterr.ErrIO, "wal: write temp: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return vaulterr.Wrap(vaulterr.ErrIO, "wal: fsync temp: %v", err)
	}
	if err := f.Close(); err != nil {
		return vaulterr.Wrap(vaulterr.ErrIO, "wal: close temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return vaulterr.Wrap(vaulterr.ErrIO, "wal: rename: %v", err)
	}
	return nil
}

// readWAL loads a persisted WAL file, if present.
func readWAL(dir string) (map[uint32]overlayEntry, bool, error) {
	path := filepath.Join(dir, walName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, vaulterr.Wrap(vaulterr.ErrIO, "wal: read: %v", err)
	}
	overlay, err := decodeWAL(data)
	if err != nil {
		return nil, false, err
	}
	return overlay, true, nil
}

// removeWAL deletes the WAL file, tolerating its absence (checkpoint
// re-runs must be idempotent per spec.md's recovery semantics).
func removeWAL(dir string) error {
	err := os.Remove(filepath.Join(dir, walName))
	if err != nil && !os.IsNotExist(err) {
		return vaulterr.Wrap(vaulterr.ErrIO, "wal: remove: %v", err)
	}
	return nil
}

// Package vfs implements the directory-tree layer on top of a
// store.Store: a BTreeMap-style directory format keyed by name, FTP-style
// operations on it (metadata, list, get, put, del, mkd, rmd, rename, cwd),
// and the delayed-flush scheduler that coalesces bursts of writes.
//
// Grounded directly on the original implementation's ftpfs.rs: the same
// Tree/Meta shapes, the same IntKvFsExt helper methods generalized onto
// store.Store, and the same five-second delayed-flush timer token scheme.
package vfs

import (
	"time"

	"github.com/nainya/vaultfs/internal/wire"
)

// Unix file mode bits the original program uses to distinguish directories
// from regular files; there are no other kinds here.
const (
	modeDir  uint64 = 0o040000
	modeFile uint64 = 0o100644
)

// Meta is the per-entry metadata stored inline in a Tree, mirroring
// ftpfs.rs's Meta struct.
type Meta struct {
	Len   uint64
	Mode  uint64
	MTime time.Time
}

// NewFileMeta builds the metadata for a freshly written file.
func NewFileMeta(length uint64) Meta {
	return Meta{Len: length, Mode: modeFile, MTime: time.Now()}
}

// NewDirMeta builds the metadata for a freshly created directory.
func NewDirMeta() Meta {
	return Meta{Mode: modeDir, MTime: time.Now()}
}

// IsDir reports whether this entry is a directory.
func (m Meta) IsDir() bool { return m.Mode == modeDir }

// IsFile reports whether this entry is a regular file.
func (m Meta) IsFile() bool { return m.Mode == modeFile }

func (m Meta) encode(w *wire.Writer) {
	w.PutUint64(m.Len)
	w.PutUint64(m.Mode)
	w.PutUint64(uint64(m.MTime.UnixNano()))
}

func decodeMeta(r *wire.Reader) (Meta, error) {
	length, err := r.Uint64()
	if err != nil {
		return Meta{}, err
	}
	mode, err := r.Uint64()
	if err != nil {
		return Meta{}, err
	}
	nanos, err := r.Uint64()
	if err != nil {
		return Meta{}, err
	}
	return Meta{Len: length, Mode: mode, MTime: time.Unix(0, int64(nanos))}, nil
}

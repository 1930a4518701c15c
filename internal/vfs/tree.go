package vfs

import (
	"sort"

	"github.com/nainya/vaultfs/internal/vaulterr"
	"github.com/nainya/vaultfs/internal/wire"
)

// entry pairs a name's child block index with its metadata, matching
// ftpfs.rs's Tree.items value type (u64, Meta).
type entry struct {
	index uint32
	meta  Meta
}

// tree is one directory's contents: a name -> (child index, Meta) map,
// mirroring ftpfs.rs's Tree struct. index is the block this tree itself
// is stored at; it is not serialized.
type tree struct {
	index uint32
	items map[string]entry
}

func newTree(index uint32) *tree {
	return &tree{index: index, items: make(map[string]entry)}
}

func (t *tree) has(name string) bool {
	_, ok := t.items[name]
	return ok
}

func (t *tree) find(name string) (entry, error) {
	e, ok := t.items[name]
	if !ok {
		return entry{}, vaulterr.Wrap(vaulterr.ErrNotFound, "%q does not exist in directory %d", name, t.index)
	}
	return e, nil
}

func (t *tree) sortedNames() []string {
	names := make([]string, 0, len(t.items))
	for n := range t.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t *tree) encode() []byte {
	w := wire.NewWriter(8 + len(t.items)*32)
	w.PutUint64(uint64(len(t.items)))
	for _, name := range t.sortedNames() {
		e := t.items[name]
		w.PutBytes([]byte(name))
		w.PutUint64(uint64(e.index))
		e.meta.encode(w)
	}
	return w.Bytes()
}

func decodeTree(data []byte, index uint32) (*tree, error) {
	r := wire.NewReader(data)
	count, err := r.Uint64()
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "directory %d: truncated header", index)
	}
	t := &tree{index: index, items: make(map[string]entry, count)}
	for i := uint64(0); i < count; i++ {
		nameBytes, err := r.Bytes()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "directory %d: truncated entry name", index)
		}
		childIndex, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "directory %d: truncated entry index", index)
		}
		meta, err := decodeMeta(r)
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "directory %d: truncated entry metadata", index)
		}
		t.items[string(nameBytes)] = entry{index: uint32(childIndex), meta: meta}
	}
	return t, nil
}

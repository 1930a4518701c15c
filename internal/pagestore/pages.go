package pagestore

import (
	"sort"

	"github.com/nainya/vaultfs/internal/vaulterr"
	"github.com/nainya/vaultfs/internal/wire"
)

// chunkOverhead is the fixed per-chunk record cost: an 8-byte logical-index
// key, an 8-byte next-physical-index pointer, and an 8-byte length prefix
// for the chunk's data, all encoded as the big-endian u64 fields the wire
// format uses. This is the "overhead = 24 bytes" spec.md §4.4 specifies.
const chunkOverhead = 24

// entryOverhead is the fixed cost of one (key, value) pair in a meta
// page's index maps: two 8-byte u64 fields.
const entryOverhead = 16

// metaHeaderSize is the fixed cost of a meta page's own header fields
// (next_page_index, plus the two map-length prefixes) before any entries.
const metaHeaderSize = 24

// chunk is one slice of a logical value plus a pointer to the physical
// page holding its continuation (0 terminates the chain).
type chunk struct {
	nextPageIndex uint32
	data          []byte
}

func (c chunk) size() int {
	return chunkOverhead + len(c.data)
}

// dataPage is an ordered map from logical index to chunk, padded to the
// store's page size on disk.
type dataPage struct {
	pageIndex uint32
	chunks    map[uint32]chunk
}

func newDataPage(index uint32) *dataPage {
	return &dataPage{pageIndex: index, chunks: make(map[uint32]chunk)}
}

func (p *dataPage) serializedSize() int {
	size := 8 // chunk count
	for _, c := range p.chunks {
		size += c.size() // chunkOverhead already covers the logical key
	}
	return size
}

func (p *dataPage) sortedKeys() []uint32 {
	keys := make([]uint32, 0, len(p.chunks))
	for k := range p.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (p *dataPage) encode(pageSize int) ([]byte, error) {
	w := wire.NewWriter(pageSize)
	w.PutUint64(uint64(len(p.chunks)))
	for _, k := range p.sortedKeys() {
		c := p.chunks[k]
		w.PutUint64(uint64(k))
		w.PutUint64(uint64(c.nextPageIndex))
		w.PutBytes(c.data)
	}
	return w.PadTo(pageSize)
}

func decodeDataPage(data []byte, index uint32) (*dataPage, error) {
	r := wire.NewReader(data)
	count, err := r.Uint64()
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "data page %d: truncated header", index)
	}
	p := &dataPage{pageIndex: index, chunks: make(map[uint32]chunk, count)}
	for i := uint64(0); i < count; i++ {
		key, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "data page %d: truncated chunk key", index)
		}
		next, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "data page %d: truncated chunk next-pointer", index)
		}
		d, err := r.Bytes()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "data page %d: truncated chunk data", index)
		}
		p.chunks[uint32(key)] = chunk{nextPageIndex: uint32(next), data: d}
	}
	return p, nil
}

// metaPage is a fixed self-describing record: a link to the next meta
// page, the global logical->first-physical-page map (restricted to the
// entries packed into this particular page), and the physical data page
// size table (likewise restricted).
type metaPage struct {
	pageIndex     uint32
	nextPageIndex uint32
	mapIndex      map[uint32]uint32
	dataPageSizes map[uint32]int
}

func newMetaPage() *metaPage {
	return &metaPage{mapIndex: make(map[uint32]uint32), dataPageSizes: make(map[uint32]int)}
}

func (p *metaPage) serializedSize() int {
	return metaHeaderSize + len(p.mapIndex)*entryOverhead + len(p.dataPageSizes)*entryOverhead
}

func sortedU32Keys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (p *metaPage) encode(pageSize int) ([]byte, error) {
	w := wire.NewWriter(pageSize)
	w.PutUint64(uint64(p.nextPageIndex))
	w.PutUint64(uint64(len(p.mapIndex)))
	for _, k := range sortedU32Keys(p.mapIndex) {
		w.PutUint64(uint64(k))
		w.PutUint64(uint64(p.mapIndex[k]))
	}
	w.PutUint64(uint64(len(p.dataPageSizes)))
	for _, k := range sortedU32Keys(p.dataPageSizes) {
		w.PutUint64(uint64(k))
		w.PutUint64(uint64(p.dataPageSizes[k]))
	}
	return w.PadTo(pageSize)
}

func decodeMetaPage(data []byte, index uint32) (*metaPage, error) {
	r := wire.NewReader(data)
	next, err := r.Uint64()
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated header", index)
	}
	p := &metaPage{pageIndex: index, nextPageIndex: uint32(next)}

	mapCount, err := r.Uint64()
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated map-index count", index)
	}
	p.mapIndex = make(map[uint32]uint32, mapCount)
	for i := uint64(0); i < mapCount; i++ {
		k, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated map-index key", index)
		}
		v, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated map-index value", index)
		}
		p.mapIndex[uint32(k)] = uint32(v)
	}

	sizeCount, err := r.Uint64()
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated size-table count", index)
	}
	p.dataPageSizes = make(map[uint32]int, sizeCount)
	for i := uint64(0); i < sizeCount; i++ {
		k, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated size-table key", index)
		}
		v, err := r.Uint64()
		if err != nil {
			return nil, vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page %d: truncated size-table value", index)
		}
		p.dataPageSizes[uint32(k)] = int(v)
	}
	return p, nil
}

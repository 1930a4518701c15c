// Package pagestore implements the paging layer of the store stack: fixed
// page-sized storage backed by another store.Store, splitting values too
// large for one page into chunks chained across multiple physical pages,
// and tracking the logical -> physical mapping in a linked list of meta
// pages rooted at physical index 0.
//
// Grounded directly on the original implementation's PageIntKv (page.rs):
// the same meta-page/data-page split, the same load_metadata cycle
// detection, the same update_chunk chain-rewriting algorithm, and the same
// page-selection heuristics (reuse a chain's own pages first; for a new
// chain, the smallest under-filled page when the value cannot fit in one
// page, otherwise the first page with room for it; then allocate fresh).
package pagestore

import (
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

// metaRootIndex is the physical index always reserved for the head of the
// meta-page chain.
const metaRootIndex uint32 = 0

// Store is the paging layer: every value it writes to below is padded to
// exactly pageSize bytes (an encryption layer below adds its header on
// top of that).
type Store struct {
	below    store.Store
	log      zerolog.Logger
	pageSize int

	metaPages     []uint32          // physical indices, in chain order
	mapIndex      map[uint32]uint32 // logical -> first physical page
	dataPageSizes map[uint32]int    // physical -> serialized (unpadded) size

	dirty map[uint32]*dataPage // physical index -> page pending a Flush write
}

// Open loads the paging layer's metadata by walking the meta-page chain
// rooted at physical index 0. An empty below (index 0 absent) yields an
// empty store. log is used as given; callers scope it to this layer
// (see internal/config.BuildStore's use of logger.Logger.StoreLogger).
func Open(below store.Store, pageSize int, log zerolog.Logger) (*Store, error) {
	s := &Store{
		below:         below,
		pageSize:      pageSize,
		log:           log,
		mapIndex:      make(map[uint32]uint32),
		dataPageSizes: make(map[uint32]int),
		dirty:         make(map[uint32]*dataPage),
	}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadMetadata walks the meta-page chain from physical index 0, merging
// each page's map_index and data_page_sizes tables and rejecting a chain
// that cycles back on itself.
func (s *Store) loadMetadata() error {
	exists, err := s.below.Exists(metaRootIndex)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	visited := make(map[uint32]bool)
	index := metaRootIndex
	for {
		if visited[index] {
			return vaulterr.Wrap(vaulterr.ErrInvalidData, "meta page chain cycles back to page %d", index)
		}
		visited[index] = true
		s.metaPages = append(s.metaPages, index)

		raw, err := s.below.Read(index)
		if err != nil {
			return err
		}
		mp, err := decodeMetaPage(raw, index)
		if err != nil {
			return err
		}
		for k, v := range mp.mapIndex {
			s.mapIndex[k] = v
		}
		for k, v := range mp.dataPageSizes {
			s.dataPageSizes[k] = v
		}
		if mp.nextPageIndex == 0 {
			break
		}
		index = mp.nextPageIndex
	}
	return nil
}

func (s *Store) readDataPage(index uint32) (*dataPage, error) {
	if p, ok := s.dirty[index]; ok {
		return p, nil
	}
	raw, err := s.below.Read(index)
	if err != nil {
		return nil, err
	}
	p, err := decodeDataPage(raw, index)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) writeDataPage(p *dataPage) {
	s.dirty[p.pageIndex] = p
}

func (s *Store) pageInUse(index uint32) bool {
	if index == metaRootIndex {
		return true
	}
	if _, ok := s.dataPageSizes[index]; ok {
		return true
	}
	if _, ok := s.dirty[index]; ok {
		return true
	}
	for _, m := range s.metaPages {
		if m == index {
			return true
		}
	}
	exists, err := s.below.Exists(index)
	return err == nil && exists
}

func (s *Store) allocateIndex() (uint32, error) {
	for attempt := 0; attempt < 1<<20; attempt++ {
		candidate := rand.Uint32()
		if !s.pageInUse(candidate) {
			return candidate, nil
		}
	}
	return 0, vaulterr.Wrap(vaulterr.ErrLocal, "could not find a free page index after many attempts")
}

func (s *Store) createDataPage() (*dataPage, error) {
	idx, err := s.allocateIndex()
	if err != nil {
		return nil, err
	}
	p := newDataPage(idx)
	s.dataPageSizes[idx] = p.serializedSize()
	s.writeDataPage(p)
	return p, nil
}

// findFirstPageForSize picks the physical page to begin a fresh chain for
// a value of the given size: the smallest page with room for at least the
// chunk overhead if nothing can hold the whole value in one chunk, else
// the first existing page (by ascending physical index) with room for the
// whole value, else a freshly allocated page.
func (s *Store) findFirstPageForSize(size int) (*dataPage, error) {
	needed := size + chunkOverhead

	if needed > s.pageSize {
		// No single page can hold the whole value as its first chunk: fall
		// back to whichever existing page has the most free space, as long
		// as it has room for at least the chunk overhead, else fall through
		// to the first-fit search below.
		var best uint32
		bestSize := 0
		found := false
		for idx, sz := range s.dataPageSizes {
			if !found || sz < bestSize {
				best, bestSize, found = idx, sz, true
			}
		}
		if found && bestSize+chunkOverhead <= s.pageSize {
			return s.readDataPage(best)
		}
	}

	indices := make([]uint32, 0, len(s.dataPageSizes))
	for idx := range s.dataPageSizes {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		if s.dataPageSizes[idx]+needed <= s.pageSize {
			return s.readDataPage(idx)
		}
	}
	return s.createDataPage()
}

// updateChunk writes (or, when data is nil, removes) the chunk for
// logical in page, and reports the next page in the chain to continue
// with, if any. It mirrors the original's update_chunk: the walk continues
// into the existing chain even on pure removal, and once a write's
// remainder is fully placed the rest of the old chain is returned with no
// data, so the caller goes on removing the key's chunks from it.
func (s *Store) updateChunk(page *dataPage, logical uint32, data *[]byte) (*dataPage, *[]byte, error) {
	orig, hadOrig := page.chunks[logical]
	delete(page.chunks, logical)

	var next *dataPage
	var err error
	if hadOrig && orig.nextPageIndex != 0 {
		next, err = s.readDataPage(orig.nextPageIndex)
		if err != nil {
			return nil, nil, err
		}
	}

	var rest *[]byte
	if data != nil {
		// orig's chunk (if any) was already deleted above, so page's current
		// serialized size already excludes it.
		cur := page.serializedSize() + chunkOverhead
		if cur > s.pageSize {
			return nil, nil, vaulterr.Wrap(vaulterr.ErrWriteZero, "page %d has no room for chunk overhead", page.pageIndex)
		}
		avail := s.pageSize - cur
		n := len(*data)
		if n > avail {
			n = avail
		}
		part := make([]byte, n)
		copy(part, (*data)[:n])

		c := chunk{data: part}
		if n < len(*data) {
			r := (*data)[n:]
			rest = &r
			if next == nil {
				next, err = s.createDataPage()
				if err != nil {
					return nil, nil, err
				}
			}
			c.nextPageIndex = next.pageIndex
		}
		page.chunks[logical] = c
	}

	s.dataPageSizes[page.pageIndex] = page.serializedSize()
	s.writeDataPage(page)

	if next == nil {
		return nil, nil, nil
	}
	return next, rest, nil
}

// updateLogicalData is the shared implementation of Write (data != nil)
// and Remove (data == nil), per spec.md §4.4.
func (s *Store) updateLogicalData(index uint32, data *[]byte) error {
	first, ok := s.mapIndex[index]
	var page *dataPage
	var err error
	if !ok {
		if data == nil {
			return vaulterr.Wrap(vaulterr.ErrNotFound, "index %d not found", index)
		}
		page, err = s.findFirstPageForSize(len(*data))
		if err != nil {
			return err
		}
		s.mapIndex[index] = page.pageIndex
	} else {
		page, err = s.readDataPage(first)
		if err != nil {
			return err
		}
	}

	if data == nil {
		delete(s.mapIndex, index)
	}

	for {
		nextPage, nextData, err := s.updateChunk(page, index, data)
		if err != nil {
			return err
		}
		if nextPage == nil {
			break
		}
		page, data = nextPage, nextData
	}
	return nil
}

// Read implements store.Store.
func (s *Store) Read(index uint32) ([]byte, error) {
	first, ok := s.mapIndex[index]
	if !ok {
		return nil, vaulterr.Wrap(vaulterr.ErrNotFound, "index %d not found", index)
	}

	var out []byte
	physical := first
	for {
		page, err := s.readDataPage(physical)
		if err != nil {
			return nil, err
		}
		c, ok := page.chunks[index]
		if !ok {
			return nil, vaulterr.Wrap(vaulterr.ErrNotFound, "index %d missing from page %d", index, physical)
		}
		if out == nil && c.nextPageIndex == 0 {
			return c.data, nil
		}
		out = append(out, c.data...)
		if c.nextPageIndex == 0 {
			return out, nil
		}
		physical = c.nextPageIndex
	}
}

// Write implements store.Store.
func (s *Store) Write(index uint32, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	return s.updateLogicalData(index, &cp)
}

// Remove implements store.Store.
func (s *Store) Remove(index uint32) error {
	return s.updateLogicalData(index, nil)
}

// Exists implements store.Store.
func (s *Store) Exists(index uint32) (bool, error) {
	_, ok := s.mapIndex[index]
	return ok, nil
}

// Flush implements store.Store: dirty data pages are written (or, if left
// empty by removals, deleted), and the entire meta-page chain is rebuilt
// from scratch and written starting at physical index 0, per spec.md §4.4.
func (s *Store) Flush() error {
	for idx, p := range s.dirty {
		if len(p.chunks) == 0 {
			delete(s.dataPageSizes, idx)
			exists, err := s.below.Exists(idx)
			if err != nil {
				return err
			}
			if exists {
				if err := s.below.Remove(idx); err != nil {
					return err
				}
			}
			continue
		}
		raw, err := p.encode(s.pageSize)
		if err != nil {
			return err
		}
		if err := s.below.Write(idx, raw); err != nil {
			return err
		}
		s.dataPageSizes[idx] = p.serializedSize()
	}
	s.dirty = make(map[uint32]*dataPage)

	newMetaPages, err := s.packMetaPages()
	if err != nil {
		return err
	}

	oldMetaPages := s.metaPages
	s.metaPages = make([]uint32, len(newMetaPages))
	for i, mp := range newMetaPages {
		var idx uint32
		if i == 0 {
			idx = metaRootIndex
		} else if i < len(oldMetaPages) {
			idx = oldMetaPages[i]
		} else {
			idx, err = s.allocateIndex()
			if err != nil {
				return err
			}
		}
		mp.pageIndex = idx
		s.metaPages[i] = idx
	}
	for i, mp := range newMetaPages {
		if i+1 < len(newMetaPages) {
			mp.nextPageIndex = newMetaPages[i+1].pageIndex
		} else {
			mp.nextPageIndex = 0
		}
	}
	for _, mp := range newMetaPages {
		raw, err := mp.encode(s.pageSize)
		if err != nil {
			return err
		}
		if err := s.below.Write(mp.pageIndex, raw); err != nil {
			return err
		}
	}

	for _, idx := range oldMetaPages {
		if len(newMetaPages) > 0 && idx == metaRootIndex {
			continue
		}
		stillUsed := false
		for _, n := range s.metaPages {
			if n == idx {
				stillUsed = true
				break
			}
		}
		if stillUsed {
			continue
		}
		exists, err := s.below.Exists(idx)
		if err != nil {
			return err
		}
		if exists {
			if err := s.below.Remove(idx); err != nil {
				return err
			}
		}
	}

	return s.below.Flush()
}

// packMetaPages distributes the current map_index and data_page_sizes
// tables across as many metaPage records as needed to respect pageSize,
// always producing at least one page (possibly empty) so physical index 0
// is always written.
func (s *Store) packMetaPages() ([]*metaPage, error) {
	mapKeys := sortedU32Keys(s.mapIndex)
	sizeKeys := sortedU32Keys(s.dataPageSizes)

	var pages []*metaPage
	mi, si := 0, 0
	for {
		page := newMetaPage()
		for mi < len(mapKeys) {
			if page.serializedSize()+entryOverhead > s.pageSize {
				break
			}
			k := mapKeys[mi]
			page.mapIndex[k] = s.mapIndex[k]
			mi++
		}
		for si < len(sizeKeys) {
			if page.serializedSize()+entryOverhead > s.pageSize {
				break
			}
			k := sizeKeys[si]
			page.dataPageSizes[k] = s.dataPageSizes[k]
			si++
		}
		pages = append(pages, page)
		if mi >= len(mapKeys) && si >= len(sizeKeys) {
			break
		}
		if len(page.mapIndex) == 0 && len(page.dataPageSizes) == 0 {
			return nil, vaulterr.Wrap(vaulterr.ErrWriteZero, "page size too small to hold a single meta-page entry")
		}
	}
	return pages, nil
}

// Verify walks every logical index's chunk chain and confirms it
// terminates without revisiting a page, returning an error describing the
// first inconsistency found. Intended for the fsck command (spec.md's
// supplemented diagnostics surface), not the hot path.
func (s *Store) Verify() error {
	for logical, first := range s.mapIndex {
		visited := make(map[uint32]bool)
		physical := first
		for {
			if visited[physical] {
				return vaulterr.Wrap(vaulterr.ErrInvalidData, "logical index %d: chunk chain cycles at page %d", logical, physical)
			}
			visited[physical] = true
			page, err := s.readDataPage(physical)
			if err != nil {
				return vaulterr.Wrap(vaulterr.ErrInvalidData, "logical index %d: page %d unreadable: %v", logical, physical, err)
			}
			c, ok := page.chunks[logical]
			if !ok {
				return vaulterr.Wrap(vaulterr.ErrInvalidData, "logical index %d: missing from page %d", logical, physical)
			}
			if c.nextPageIndex == 0 {
				break
			}
			physical = c.nextPageIndex
		}
	}
	return nil
}

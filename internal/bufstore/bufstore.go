// Package bufstore implements the buffering layer of the store stack:
// in-memory write coalescing and a bounded read cache in front of a slower
// store below.
//
// Grounded directly on the original implementation's BufferedIntKv
// (buffered.rs): the same changes/cache split and the same coarse
// drop-everything eviction policy, restructured with the teacher's
// sync.RWMutex idiom so cache reads don't need to take the outer store
// lock (spec.md §5).
package bufstore

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

// cacheState is the cached knowledge bufstore holds about one index beyond
// what's in changes.
type cacheState int

const (
	cacheUnknown cacheState = iota
	cacheData
	cachePresent
)

type cacheEntry struct {
	state   cacheState
	data    []byte // valid when state == cacheData
	present bool   // valid when state == cachePresent
}

// change is a pending write (present=true) or deletion (present=false) not
// yet pushed to the layer below.
type change struct {
	data    []byte
	present bool
}

// CacheRecorder receives cache hit/miss/eviction counts. Kept narrow here
// so bufstore doesn't need to import internal/metrics.
type CacheRecorder interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

// Store buffers writes and caches reads over another store.Store.
type Store struct {
	below      store.Store
	log        zerolog.Logger
	cacheLimit int
	recorder   CacheRecorder

	mu      sync.Mutex // guards changes
	changes map[uint32]change

	cacheMu   sync.RWMutex
	cache     map[uint32]cacheEntry
	cacheSize int
}

// SetRecorder attaches a CacheRecorder for cache hit/miss/eviction
// counts. Passing nil disables recording.
func (s *Store) SetRecorder(rec CacheRecorder) {
	s.recorder = rec
}

func (s *Store) recordHit() {
	if s.recorder != nil {
		s.recorder.CacheHit()
	}
}

func (s *Store) recordMiss() {
	if s.recorder != nil {
		s.recorder.CacheMiss()
	}
}

// New wraps below with a write buffer and a read cache bounded to
// cacheLimit bytes of cached values (0 disables the bound). log is used
// as given; callers scope it to this layer (see
// internal/config.BuildStore's use of logger.Logger.StoreLogger).
func New(below store.Store, cacheLimit int, log zerolog.Logger) *Store {
	return &Store{
		below:      below,
		cacheLimit: cacheLimit,
		log:        log,
		changes:    make(map[uint32]change),
		cache:      make(map[uint32]cacheEntry),
	}
}

func (s *Store) getChange(index uint32) (change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.changes[index]
	return c, ok
}

func (s *Store) getCache(index uint32) cacheEntry {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if e, ok := s.cache[index]; ok {
		return e
	}
	return cacheEntry{state: cacheUnknown}
}

func (s *Store) setCache(index uint32, e cacheEntry) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if old, ok := s.cache[index]; ok && old.state == cacheData {
		s.cacheSize -= len(old.data)
	}
	if e.state == cacheData {
		if s.cacheLimit > 0 && s.cacheSize+len(e.data) > s.cacheLimit {
			// Coarse eviction: drop the entire cache rather than track
			// per-entry recency (spec.md §4.3).
			s.log.Debug().Int("size", s.cacheSize).Int("limit", s.cacheLimit).Msg("dropping cache")
			s.cache = make(map[uint32]cacheEntry)
			s.cacheSize = 0
			if s.recorder != nil {
				s.recorder.CacheEviction()
			}
		}
		s.cacheSize += len(e.data)
	}
	s.cache[index] = e
}

// Read implements store.Store.
func (s *Store) Read(index uint32) ([]byte, error) {
	if c, ok := s.getChange(index); ok {
		if !c.present {
			return nil, vaulterr.Wrap(vaulterr.ErrNotFound, "index %d removed", index)
		}
		return c.data, nil
	}

	switch e := s.getCache(index); e.state {
	case cachePresent:
		if !e.present {
			s.recordHit()
			return nil, vaulterr.Wrap(vaulterr.ErrNotFound, "index %d not found", index)
		}
		data, err := s.below.Read(index)
		if err != nil {
			return nil, err
		}
		s.setCache(index, cacheEntry{state: cacheData, data: data})
		return data, nil
	case cacheData:
		s.recordHit()
		return e.data, nil
	default: // cacheUnknown
		s.recordMiss()
		data, err := s.below.Read(index)
		if err != nil {
			if vaulterr.Classify(err) == vaulterr.NotFound {
				s.setCache(index, cacheEntry{state: cachePresent, present: false})
			}
			return nil, err
		}
		s.setCache(index, cacheEntry{state: cacheData, data: data})
		return data, nil
	}
}

// Write implements store.Store. The write is not visible below until
// Flush.
func (s *Store) Write(index uint32, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.changes[index] = change{data: cp, present: true}
	s.mu.Unlock()
	return nil
}

// Remove implements store.Store.
func (s *Store) Remove(index uint32) error {
	exists, err := s.Exists(index)
	if err != nil {
		return err
	}
	if !exists {
		return vaulterr.Wrap(vaulterr.ErrNotFound, "index %d not found", index)
	}
	s.mu.Lock()
	s.changes[index] = change{present: false}
	s.mu.Unlock()
	return nil
}

// Exists implements store.Store.
func (s *Store) Exists(index uint32) (bool, error) {
	if c, ok := s.getChange(index); ok {
		return c.present, nil
	}
	switch e := s.getCache(index); e.state {
	case cachePresent:
		return e.present, nil
	case cacheData:
		return true, nil
	default:
		present, err := s.below.Exists(index)
		if err != nil {
			return false, err
		}
		s.setCache(index, cacheEntry{state: cachePresent, present: present})
		return present, nil
	}
}

// Flush implements store.Store, draining pending changes to the layer
// below and updating the cache to reflect the new committed state.
func (s *Store) Flush() error {
	s.mu.Lock()
	pending := s.changes
	s.changes = make(map[uint32]change)
	s.mu.Unlock()

	for index, c := range pending {
		if !c.present {
			exists, err := s.below.Exists(index)
			if err != nil {
				return err
			}
			if exists {
				if err := s.below.Remove(index); err != nil {
					return err
				}
			}
			s.setCache(index, cacheEntry{state: cachePresent, present: false})
			continue
		}
		if err := s.below.Write(index, c.data); err != nil {
			return err
		}
		s.setCache(index, cacheEntry{state: cacheData, data: c.data})
	}

	return s.below.Flush()
}

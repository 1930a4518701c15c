package vfs

import (
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/vaultfs/internal/store"
	"github.com/nainya/vaultfs/internal/vaulterr"
)

// rootIndex is the fixed block index holding the root directory's tree,
// matching ftpfs.rs's ROOT_ID.
const rootIndex uint32 = 0

// writeDelay is how long the delayed-flush scheduler waits after the last
// mutation before flushing the store stack to disk, matching ftpfs.rs's
// WRITE_DELAY_SECS.
const writeDelay = 5 * time.Second

// DirEntry is one named child returned by List.
type DirEntry struct {
	Name string
	Meta Meta
}

// Service exposes a store.Store as a mutable directory tree with FTP-style
// operations. All mutating operations schedule a delayed flush rather than
// flushing synchronously, so bursts of writes from one session coalesce
// into a single fsync.
type Service struct {
	mu    sync.RWMutex
	store store.Store
	log   zerolog.Logger

	flushTimerID atomic.Uint64
	flushDelay   time.Duration
}

// New wraps store as a directory tree service. log is used as given;
// callers scope it to this layer (see main's use of
// logger.Logger.StoreLogger).
func New(s store.Store, log zerolog.Logger) *Service {
	return &Service{
		store:      s,
		log:        log,
		flushDelay: writeDelay,
	}
}

// splitPath breaks an FTP path into its normal name components, dropping
// empty segments (from leading, trailing, or doubled slashes) and
// rejecting "." and ".." segments the way ftpfs.rs's
// Component::CurDir/ParentDir match arm does.
func splitPath(p string) ([]string, error) {
	raw := strings.Split(p, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		switch s {
		case "":
			continue
		case ".":
			return nil, vaulterr.Wrap(vaulterr.ErrFileNameNotAllowed, "path %q contains a current-directory reference", p)
		case "..":
			return nil, vaulterr.Wrap(vaulterr.ErrFileNameNotAllowed, "path %q contains a parent-directory reference", p)
		default:
			segments = append(segments, s)
		}
	}
	return segments, nil
}

func (s *Service) readTreeByID(index uint32) (*tree, error) {
	if index == rootIndex {
		exists, err := s.store.Exists(index)
		if err != nil {
			return nil, err
		}
		if !exists {
			return newTree(rootIndex), nil
		}
	}
	data, err := s.store.Read(index)
	if err != nil {
		return nil, err
	}
	return decodeTree(data, index)
}

func (s *Service) writeTree(t *tree) error {
	return s.store.Write(t.index, t.encode())
}

func (s *Service) findFreeIndex() (uint32, error) {
	for attempt := 0; attempt < 1<<20; attempt++ {
		candidate := rand.Uint32()
		exists, err := s.store.Exists(candidate)
		if err != nil {
			return 0, err
		}
		if !exists {
			return candidate, nil
		}
	}
	return 0, vaulterr.Wrap(vaulterr.ErrLocal, "could not find a free block index after many attempts")
}

func (s *Service) createBlob(data []byte) (uint32, error) {
	index, err := s.findFreeIndex()
	if err != nil {
		return 0, err
	}
	if err := s.store.Write(index, data); err != nil {
		return 0, err
	}
	return index, nil
}

func (s *Service) createTree() (*tree, error) {
	index, err := s.findFreeIndex()
	if err != nil {
		return nil, err
	}
	t := newTree(index)
	if err := s.writeTree(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) rootTree() (*tree, error) {
	return s.readTreeByID(rootIndex)
}

// readTreeByPath resolves every segment of path as a directory, starting
// at the root.
func (s *Service) readTreeByPath(segments []string) (*tree, error) {
	t, err := s.rootTree()
	if err != nil {
		return nil, err
	}
	for _, name := range segments {
		e, err := t.find(name)
		if err != nil {
			return nil, err
		}
		if !e.meta.IsDir() {
			return nil, vaulterr.Wrap(vaulterr.ErrPermissionDenied, "%q is not a directory in directory %d", name, t.index)
		}
		t, err = s.readTreeByID(e.index)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// readTreeNameFromPath resolves path's parent directory and returns it
// alongside the final path component.
func (s *Service) readTreeNameFromPath(path string) (*tree, string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	if len(segments) == 0 {
		return nil, "", vaulterr.Wrap(vaulterr.ErrPermissionDenied, "path %q has no filename", path)
	}
	parent, err := s.readTreeByPath(segments[:len(segments)-1])
	if err != nil {
		return nil, "", err
	}
	return parent, segments[len(segments)-1], nil
}

func (s *Service) readIDMetaByPath(path string) (uint32, Meta, error) {
	t, name, err := s.readTreeNameFromPath(path)
	if err != nil {
		return 0, Meta{}, err
	}
	e, err := t.find(name)
	if err != nil {
		return 0, Meta{}, err
	}
	return e.index, e.meta, nil
}

// isWithinSubtree reports whether targetIndex names a directory reachable
// by descending from the directory at rootIndex, including rootIndex
// itself. Used by Rename to reject moving a directory into its own
// descendant (spec.md §9 open question 2: ftpfs.rs leaves this
// undetected, marked with a literal TODO).
func (s *Service) isWithinSubtree(rootIndex, targetIndex uint32) (bool, error) {
	if rootIndex == targetIndex {
		return true, nil
	}
	visited := map[uint32]bool{rootIndex: true}
	stack := []uint32{rootIndex}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, err := s.readTreeByID(idx)
		if err != nil {
			return false, err
		}
		for _, e := range t.items {
			if !e.meta.IsDir() {
				continue
			}
			if e.index == targetIndex {
				return true, nil
			}
			if !visited[e.index] {
				visited[e.index] = true
				stack = append(stack, e.index)
			}
		}
	}
	return false, nil
}

func (s *Service) scheduleFlush() {
	token := s.flushTimerID.Add(1)
	delay := s.flushDelay
	go func() {
		time.Sleep(delay)
		if s.flushTimerID.Load() == token {
			s.log.Info().Msg("writing changes to disk")
			if err := s.Flush(); err != nil {
				s.log.Error().Err(err).Msg("delayed flush failed")
			}
		}
	}()
}

// Flush forces every buffered change down through the store stack to
// stable storage.
func (s *Service) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Flush()
}

// Metadata returns the metadata for path.
func (s *Service) Metadata(path string) (Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, meta, err := s.readIDMetaByPath(path)
	return meta, err
}

// List returns the entries of the directory at path.
func (s *Service) List(path string) ([]DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	t, err := s.readTreeByPath(segments)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(t.items))
	for _, name := range t.sortedNames() {
		out = append(out, DirEntry{Name: name, Meta: t.items[name].meta})
	}
	return out, nil
}

// Get returns the content of the file at path starting at byte offset.
func (s *Service) Get(path string, offset uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, meta, err := s.readIDMetaByPath(path)
	if err != nil {
		return nil, err
	}
	if !meta.IsFile() {
		return nil, vaulterr.Wrap(vaulterr.ErrPermissionDenied, "%q is not a file", path)
	}
	blob, err := s.store.Read(index)
	if err != nil {
		return nil, err
	}
	if uint64(len(blob)) <= offset {
		return nil, nil
	}
	return blob[offset:], nil
}

// Put writes data to path starting at byte offset, creating the file if
// it doesn't already exist, and returns the number of bytes appended
// beyond offset.
func (s *Service) Put(path string, data []byte, offset uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, name, err := s.readTreeNameFromPath(path)
	if err != nil {
		return 0, err
	}

	buf := data
	if offset > 0 {
		e, err := t.find(name)
		if err != nil {
			return 0, err
		}
		existing, err := s.store.Read(e.index)
		if err != nil {
			return 0, err
		}
		if uint64(len(existing)) < offset {
			return 0, vaulterr.Wrap(vaulterr.ErrPermissionDenied, "put: %q is shorter (%d) than offset (%d)", path, len(existing), offset)
		}
		buf = append(append([]byte{}, existing[:offset]...), data...)
	}

	written := uint64(len(buf)) - offset

	var index uint32
	var meta Meta
	if existing, err := t.find(name); err == nil {
		if !existing.meta.IsFile() {
			return 0, vaulterr.Wrap(vaulterr.ErrPermissionDenied, "put: %q is not a file", path)
		}
		meta = existing.meta
		meta.Len = uint64(len(buf))
		meta.MTime = time.Now()
		if err := s.store.Write(existing.index, buf); err != nil {
			return 0, err
		}
		index = existing.index
	} else {
		meta = NewFileMeta(uint64(len(buf)))
		index, err = s.createBlob(buf)
		if err != nil {
			return 0, err
		}
	}

	t.items[name] = entry{index: index, meta: meta}
	if err := s.writeTree(t); err != nil {
		return 0, err
	}
	s.scheduleFlush()
	return written, nil
}

// Del removes the file at path.
func (s *Service) Del(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, name, err := s.readTreeNameFromPath(path)
	if err != nil {
		return err
	}
	e, err := t.find(name)
	if err != nil {
		return err
	}
	if !e.meta.IsFile() {
		return vaulterr.Wrap(vaulterr.ErrPermissionDenied, "del: %q is not a file", path)
	}
	delete(t.items, name)
	if err := s.writeTree(t); err != nil {
		return err
	}
	if err := s.store.Remove(e.index); err != nil {
		return err
	}
	s.scheduleFlush()
	return nil
}

// Mkd creates the directory at path.
func (s *Service) Mkd(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, name, err := s.readTreeNameFromPath(path)
	if err != nil {
		return err
	}
	if t.has(name) {
		return vaulterr.Wrap(vaulterr.ErrAlreadyExists, "mkd: %q exists", path)
	}
	newDir, err := s.createTree()
	if err != nil {
		return err
	}
	t.items[name] = entry{index: newDir.index, meta: NewDirMeta()}
	if err := s.writeTree(t); err != nil {
		return err
	}
	s.scheduleFlush()
	return nil
}

// Rmd removes the empty directory at path, reclaiming its tree block.
//
// REDESIGN: ftpfs.rs's rmd never removes the child tree's own block from
// the underlying store, leaking it permanently once unlinked from its
// parent. This adds the missing store.Remove call (spec.md §9 open
// question 1).
func (s *Service) Rmd(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, name, err := s.readTreeNameFromPath(path)
	if err != nil {
		return err
	}
	e, err := t.find(name)
	if err != nil {
		return err
	}
	if !e.meta.IsDir() {
		return vaulterr.Wrap(vaulterr.ErrPermissionDenied, "rmd: %q is not a directory", path)
	}
	child, err := s.readTreeByID(e.index)
	if err != nil {
		return err
	}
	if len(child.items) != 0 {
		return vaulterr.Wrap(vaulterr.ErrPermissionDenied, "rmd: %q is not empty", path)
	}
	delete(t.items, name)
	if err := s.writeTree(t); err != nil {
		return err
	}
	if e.index != rootIndex {
		exists, err := s.store.Exists(e.index)
		if err != nil {
			return err
		}
		if exists {
			if err := s.store.Remove(e.index); err != nil {
				return err
			}
		}
	}
	s.scheduleFlush()
	return nil
}

// Rename moves the entry at from to to.
//
// REDESIGN: ftpfs.rs's rename carries a literal "TODO: Detect cycles"
// comment and performs no such check. This adds the cycle check it
// describes: a directory cannot be renamed into one of its own
// descendants (spec.md §9 open question 2).
func (s *Service) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromTree, fromName, err := s.readTreeNameFromPath(from)
	if err != nil {
		return err
	}
	toTree, toName, err := s.readTreeNameFromPath(to)
	if err != nil {
		return err
	}
	if toTree.has(toName) {
		return vaulterr.Wrap(vaulterr.ErrAlreadyExists, "rename: destination %q exists", to)
	}
	fromItem, err := fromTree.find(fromName)
	if err != nil {
		return err
	}

	if fromItem.meta.IsDir() {
		within, err := s.isWithinSubtree(fromItem.index, toTree.index)
		if err != nil {
			return err
		}
		if within {
			return vaulterr.Wrap(vaulterr.ErrPermissionDenied, "rename: %q is an ancestor of destination %q", from, to)
		}
	}

	toTree.items[toName] = fromItem
	if toTree.index == fromTree.index {
		delete(toTree.items, fromName)
		if err := s.writeTree(toTree); err != nil {
			return err
		}
	} else {
		if err := s.writeTree(toTree); err != nil {
			return err
		}
		delete(fromTree.items, fromName)
		if err := s.writeTree(fromTree); err != nil {
			return err
		}
	}
	s.scheduleFlush()
	return nil
}

// Cwd validates that path names an existing directory.
func (s *Service) Cwd(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	_, err = s.readTreeByPath(segments)
	return err
}

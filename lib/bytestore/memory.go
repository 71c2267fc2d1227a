// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bytestore

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. Every mutation is reported to
// active watchers, so tests can drive change handling by editing the
// store directly.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	blobs       map[string][]byte
	metas       map[string][]byte
	directories map[string]struct{}
	writes      int
	watchers    []*memoryWatcher
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:       make(map[string][]byte),
		metas:       make(map[string][]byte),
		directories: make(map[string]struct{}),
	}
}

// Writes returns the number of Write and WriteMeta calls that
// succeeded since the store was created.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Paths returns every asset path that has a blob, sorted.
func (s *MemoryStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

func (s *MemoryStore) Read(ctx context.Context, path string) ([]byte, error) {
	return s.read(path, s.blobs)
}

func (s *MemoryStore) ReadMeta(ctx context.Context, path string) ([]byte, error) {
	return s.read(path, s.metas)
}

func (s *MemoryStore) read(path string, blobs map[string][]byte) ([]byte, error) {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := blobs[cleaned]
	if !ok {
		return nil, notFound(cleaned)
	}
	return slices.Clone(data), nil
}

func (s *MemoryStore) IsDirectory(ctx context.Context, path string) (bool, error) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return false, err
	}
	if cleaned == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.directories[cleaned]; ok {
		return true, nil
	}
	if _, ok := s.blobs[cleaned]; ok {
		return false, nil
	}
	if _, ok := s.metas[cleaned]; ok {
		return false, nil
	}
	return false, notFound(cleaned)
}

func (s *MemoryStore) ReadDirectory(ctx context.Context, dir string) (iter.Seq[string], error) {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cleaned != "" {
		if _, ok := s.directories[cleaned]; !ok {
			return nil, notFound(cleaned)
		}
	}

	children := make(map[string]struct{})
	collect := func(p string) {
		if child, ok := directChild(cleaned, p); ok {
			children[child] = struct{}{}
		}
	}
	for p := range s.blobs {
		collect(p)
	}
	for p := range s.directories {
		collect(p)
	}

	listing := make([]string, 0, len(children))
	for child := range children {
		listing = append(listing, child)
	}
	slices.Sort(listing)
	return slices.Values(listing), nil
}

// directChild returns the path of the child of dir that contains p.
func directChild(dir, p string) (string, bool) {
	rest := p
	if dir != "" {
		if !strings.HasPrefix(p, dir+"/") {
			return "", false
		}
		rest = p[len(dir)+1:]
	}
	name, _, _ := strings.Cut(rest, "/")
	if name == "" {
		return "", false
	}
	if dir == "" {
		return name, true
	}
	return dir + "/" + name, true
}

func (s *MemoryStore) Write(ctx context.Context, path string, data []byte) error {
	return s.write(path, data, s.blobs, Added, Modified)
}

func (s *MemoryStore) WriteMeta(ctx context.Context, path string, data []byte) error {
	return s.write(path, data, s.metas, AddedMeta, ModifiedMeta)
}

func (s *MemoryStore) write(path string, data []byte, blobs map[string][]byte, added, modified EventKind) error {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.directories[cleaned]; ok {
		return &pathIsDirectoryError{path: cleaned}
	}
	s.addParentsLocked(cleaned)

	kind := added
	if _, exists := blobs[cleaned]; exists {
		kind = modified
	}
	blobs[cleaned] = slices.Clone(data)
	s.writes++
	s.emitLocked(Event{Kind: kind, Path: cleaned})
	return nil
}

func (s *MemoryStore) addParentsLocked(p string) {
	var created []string
	for dir := parentDir(p); dir != ""; dir = parentDir(dir) {
		if _, ok := s.directories[dir]; ok {
			break
		}
		s.directories[dir] = struct{}{}
		created = append(created, dir)
	}
	// Outermost first, matching the order a recursive walk would see.
	for i := len(created) - 1; i >= 0; i-- {
		s.emitLocked(Event{Kind: AddedFolder, Path: created[i]})
	}
}

func parentDir(p string) string {
	index := strings.LastIndexByte(p, '/')
	if index < 0 {
		return ""
	}
	return p[:index]
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.remove(path, s.blobs, Removed)
}

func (s *MemoryStore) RemoveMeta(ctx context.Context, path string) error {
	return s.remove(path, s.metas, RemovedMeta)
}

func (s *MemoryStore) remove(path string, blobs map[string][]byte, kind EventKind) error {
	cleaned, err := checkAssetPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := blobs[cleaned]; !ok {
		return notFound(cleaned)
	}
	delete(blobs, cleaned)
	s.emitLocked(Event{Kind: kind, Path: cleaned})
	return nil
}

func (s *MemoryStore) RemoveAll(ctx context.Context, dir string) error {
	cleaned, err := CleanPath(dir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	under := func(p string) bool {
		return cleaned == "" || p == cleaned || strings.HasPrefix(p, cleaned+"/")
	}

	var removed []string
	for p := range s.blobs {
		if under(p) {
			delete(s.blobs, p)
			removed = append(removed, p)
		}
	}
	for p := range s.metas {
		if under(p) {
			delete(s.metas, p)
		}
	}
	for p := range s.directories {
		if under(p) {
			delete(s.directories, p)
		}
	}

	if cleaned != "" {
		s.emitLocked(Event{Kind: RemovedFolder, Path: cleaned})
		return nil
	}
	slices.Sort(removed)
	for _, p := range removed {
		s.emitLocked(Event{Kind: Removed, Path: p})
	}
	return nil
}

// Watch returns a watcher that receives every subsequent mutation.
func (s *MemoryStore) Watch(ctx context.Context) (Watcher, error) {
	watcher := &memoryWatcher{
		store:  s,
		notify: make(chan struct{}, 1),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.watchers = append(s.watchers, watcher)
	s.mu.Unlock()

	go watcher.pump(ctx)
	return watcher, nil
}

func (s *MemoryStore) emitLocked(event Event) {
	for _, watcher := range s.watchers {
		watcher.enqueue(event)
	}
}

func (s *MemoryStore) dropWatcher(watcher *memoryWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = slices.DeleteFunc(s.watchers, func(w *memoryWatcher) bool { return w == watcher })
}

// memoryWatcher buffers events without bound so that store mutations
// never block on a slow consumer.
type memoryWatcher struct {
	store     *MemoryStore
	mu        sync.Mutex
	queue     []Event
	notify    chan struct{}
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (w *memoryWatcher) enqueue(event Event) {
	w.mu.Lock()
	w.queue = append(w.queue, event)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) pump(ctx context.Context) {
	defer close(w.events)
	defer w.store.dropWatcher(w)
	for {
		w.mu.Lock()
		pending := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, event := range pending {
			select {
			case w.events <- event:
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-w.notify:
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *memoryWatcher) Events() <-chan Event { return w.events }

func (w *memoryWatcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

type pathIsDirectoryError struct {
	path string
}

func (e *pathIsDirectoryError) Error() string {
	return "store path " + e.path + " is a directory"
}

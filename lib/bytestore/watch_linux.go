// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package bytestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const watchMask = unix.IN_CREATE | unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO |
	unix.IN_MOVED_FROM | unix.IN_DELETE | unix.IN_ONLYDIR

// Watch starts a recursive inotify watcher over the store root. New
// directories are added to the watch set as they appear.
func (s *FileStore) Watch(ctx context.Context) (Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	watcher := &fileWatcher{
		fd:      fd,
		root:    s.root,
		watches: make(map[int]string),
		events:  make(chan Event, 64),
		stop:    make(chan struct{}),
	}
	if err := watcher.addTree(""); err != nil {
		unix.Close(fd)
		return nil, err
	}

	go watcher.loop(ctx)
	return watcher, nil
}

type fileWatcher struct {
	fd   int
	root string

	// watches maps watch descriptors to store directories. Only the
	// loop goroutine touches it after Watch returns.
	watches map[int]string

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

func (w *fileWatcher) Events() <-chan Event { return w.events }

func (w *fileWatcher) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}

// addTree watches storeDir and every directory below it.
func (w *fileWatcher) addTree(storeDir string) error {
	start := filepath.Join(w.root, filepath.FromSlash(storeDir))
	return filepath.WalkDir(start, func(diskPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			// A directory removed mid-walk is reported by its own event.
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(w.root, diskPath)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if relative == "." {
			relative = ""
		}
		descriptor, err := unix.InotifyAddWatch(w.fd, diskPath, watchMask)
		if err != nil {
			return fmt.Errorf("watching %s: %w", diskPath, err)
		}
		w.watches[descriptor] = relative
		return nil
	})
}

// loop polls the inotify descriptor with a 100ms timeout so the stop
// channel and context are checked promptly.
func (w *fileWatcher) loop(ctx context.Context) {
	defer close(w.events)
	defer unix.Close(w.fd)

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(w.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}

		for _, event := range w.translate(buffer[:bytesRead]) {
			select {
			case w.events <- event:
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// translate decodes raw inotify records into store events. Layout
// from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func (w *fileWatcher) translate(buffer []byte) []Event {
	var events []Event
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		descriptor := int(int32(binary.NativeEndian.Uint32(buffer[offset : offset+4])))
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		nameBytes := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
		offset += eventSize

		if mask&unix.IN_IGNORED != 0 {
			delete(w.watches, descriptor)
			continue
		}
		directory, known := w.watches[descriptor]
		if !known || nameLength == 0 {
			continue
		}
		if index := bytes.IndexByte(nameBytes, 0); index >= 0 {
			nameBytes = nameBytes[:index]
		}
		name := string(nameBytes)
		if strings.HasPrefix(name, temporaryPrefix) {
			continue
		}
		storePath := name
		if directory != "" {
			storePath = directory + "/" + name
		}

		if event, ok := w.classify(mask, storePath); ok {
			events = append(events, event)
		}
	}
	return events
}

func (w *fileWatcher) classify(mask uint32, storePath string) (Event, bool) {
	isDirectory := mask&unix.IN_ISDIR != 0
	switch {
	case isDirectory && mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		if err := w.addTree(storePath); err != nil {
			return Event{}, false
		}
		return Event{Kind: AddedFolder, Path: storePath}, true
	case isDirectory && mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		return Event{Kind: RemovedFolder, Path: storePath}, true
	case isDirectory:
		return Event{}, false
	}

	metaPath, isMeta := strings.CutSuffix(storePath, MetaSuffix)
	switch {
	case mask&unix.IN_MOVED_TO != 0:
		if isMeta {
			return Event{Kind: AddedMeta, Path: metaPath}, true
		}
		return Event{Kind: Added, Path: storePath}, true
	case mask&unix.IN_CLOSE_WRITE != 0:
		if isMeta {
			return Event{Kind: ModifiedMeta, Path: metaPath}, true
		}
		return Event{Kind: Modified, Path: storePath}, true
	case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		if isMeta {
			return Event{Kind: RemovedMeta, Path: metaPath}, true
		}
		return Event{Kind: Removed, Path: storePath}, true
	}
	// IN_CREATE on a file is followed by IN_CLOSE_WRITE once the
	// content is complete.
	return Event{}, false
}

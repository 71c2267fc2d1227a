// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package txlog is the processor's write-ahead record of destination
// writes.
//
// Before the processor writes a processed blob and its meta it appends
// a begin record for the path; after both writes succeed it appends an
// end record. Each record is one CBOR item, appended and fsynced. After
// a crash, Validate reports which paths were mid-write so their output
// can be deleted and rebuilt.
//
// A record cut short by a crash during append ends the scan. This is
// safe: a torn begin means the writes never started, and a torn end
// leaves the begin unmatched, so the path is rebuilt.
package txlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/bureau-foundation/assetpipe/lib/codec"
)

type operation uint8

const (
	operationBegin operation = 1
	operationEnd   operation = 2
)

type record struct {
	Operation operation `cbor:"1,keyasint"`
	Path      string    `cbor:"2,keyasint"`
}

// ErrUnreadable is returned (wrapped) by Validate when the log exists
// but cannot be decoded.
var ErrUnreadable = errors.New("transaction log unreadable")

// EntryErrorKind classifies one problem found by Validate.
type EntryErrorKind int

const (
	// UnfinishedTransaction: a path was begun and never ended. Its
	// destination output may be partial.
	UnfinishedTransaction EntryErrorKind = iota + 1

	// DuplicateTransaction: a path was begun twice without an end.
	DuplicateTransaction

	// EndedMissingTransaction: a path was ended without a begin.
	EndedMissingTransaction
)

func (kind EntryErrorKind) String() string {
	switch kind {
	case UnfinishedTransaction:
		return "unfinished transaction"
	case DuplicateTransaction:
		return "duplicate transaction"
	case EndedMissingTransaction:
		return "ended missing transaction"
	default:
		return fmt.Sprintf("unknown(%d)", int(kind))
	}
}

// EntryError is one problem found by Validate.
type EntryError struct {
	Kind EntryErrorKind
	Path string
}

// ValidationError lists every problem Validate found.
type ValidationError struct {
	Entries []EntryError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transaction log has %d invalid entries (first: %s %s)",
		len(e.Entries), e.Entries[0].Kind, e.Entries[0].Path)
}

// Corrupt reports whether any entry means the log itself cannot be
// trusted, as opposed to merely recording unfinished writes.
func (e *ValidationError) Corrupt() bool {
	for _, entry := range e.Entries {
		if entry.Kind != UnfinishedTransaction {
			return true
		}
	}
	return false
}

// Unfinished returns the paths with unfinished transactions.
func (e *ValidationError) Unfinished() []string {
	var paths []string
	for _, entry := range e.Entries {
		if entry.Kind == UnfinishedTransaction {
			paths = append(paths, entry.Path)
		}
	}
	return paths
}

// Validate scans the log at path. It returns nil when the log is
// missing or every begin has a matching end, a *ValidationError
// listing the problems otherwise, or an error wrapping ErrUnreadable.
func Validate(path string) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer file.Close()

	var entries []EntryError
	open := make(map[string]struct{})
	decoder := codec.NewDecoder(file)
	for {
		var entry record
		err := decoder.Decode(&entry)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnreadable, err)
		}

		switch entry.Operation {
		case operationBegin:
			if _, exists := open[entry.Path]; exists {
				entries = append(entries, EntryError{Kind: DuplicateTransaction, Path: entry.Path})
			}
			open[entry.Path] = struct{}{}
		case operationEnd:
			if _, exists := open[entry.Path]; !exists {
				entries = append(entries, EntryError{Kind: EndedMissingTransaction, Path: entry.Path})
			}
			delete(open, entry.Path)
		default:
			return fmt.Errorf("%w: unknown operation %d", ErrUnreadable, entry.Operation)
		}
	}

	unfinished := make([]string, 0, len(open))
	for p := range open {
		unfinished = append(unfinished, p)
	}
	slices.Sort(unfinished)
	for _, p := range unfinished {
		entries = append(entries, EntryError{Kind: UnfinishedTransaction, Path: p})
	}

	if len(entries) > 0 {
		return &ValidationError{Entries: entries}
	}
	return nil
}

// Log appends records to a log file. It is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open replaces any existing log at path with a fresh, empty one. Call
// Validate first; Open discards the old records.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing old transaction log: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating transaction log: %w", err)
	}
	return &Log{file: file}, nil
}

// BeginPath records that writes to path are about to start.
func (l *Log) BeginPath(path string) error {
	return l.append(record{Operation: operationBegin, Path: path})
}

// EndPath records that writes to path completed.
func (l *Log) EndPath(path string) error {
	return l.append(record{Operation: operationEnd, Path: path})
}

// append writes one record with a single write call and fsyncs it.
func (l *Log) append(entry record) error {
	var buffer bytes.Buffer
	if err := codec.NewEncoder(&buffer).Encode(entry); err != nil {
		return fmt.Errorf("encoding log record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(buffer.Bytes()); err != nil {
		return fmt.Errorf("appending to transaction log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing transaction log: %w", err)
	}
	return nil
}

// Close closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Dump writes the diagnostic notation of every record in the log at
// path to w, one per line.
func Dump(path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading transaction log: %w", err)
	}
	for len(data) > 0 {
		notation, rest, err := codec.DiagnoseFirst(data)
		if err != nil {
			fmt.Fprintf(w, "<torn record: %d bytes>\n", len(data))
			return nil
		}
		fmt.Fprintln(w, notation)
		data = rest
	}
	return nil
}

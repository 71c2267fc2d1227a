// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package txlog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func openLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log, path
}

func TestValidateMissingLog(t *testing.T) {
	if err := Validate(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("Validate of missing log: %v", err)
	}
}

func TestValidateCompleteTransactions(t *testing.T) {
	log, path := openLog(t)
	for _, p := range []string{"a.txt", "b/c.txt"} {
		if err := log.BeginPath(p); err != nil {
			t.Fatal(err)
		}
		if err := log.EndPath(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := Validate(path); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateUnfinished(t *testing.T) {
	log, path := openLog(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(log.BeginPath("done.txt"))
	must(log.BeginPath("crashed.txt"))
	must(log.EndPath("done.txt"))
	must(log.BeginPath("also-crashed.txt"))

	err := Validate(path)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Validate err = %v, want *ValidationError", err)
	}
	if validation.Corrupt() {
		t.Error("unfinished transactions reported as corruption")
	}
	if got := validation.Unfinished(); !slices.Equal(got, []string{"also-crashed.txt", "crashed.txt"}) {
		t.Errorf("Unfinished = %v", got)
	}
}

func TestValidateCorrupt(t *testing.T) {
	tests := []struct {
		name  string
		write func(*Log) error
		kind  EntryErrorKind
	}{
		{"duplicate begin", func(l *Log) error {
			if err := l.BeginPath("a"); err != nil {
				return err
			}
			return l.BeginPath("a")
		}, DuplicateTransaction},
		{"end without begin", func(l *Log) error {
			return l.EndPath("a")
		}, EndedMissingTransaction},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			log, path := openLog(t)
			if err := test.write(log); err != nil {
				t.Fatal(err)
			}
			var validation *ValidationError
			if err := Validate(path); !errors.As(err, &validation) {
				t.Fatalf("Validate err = %v, want *ValidationError", err)
			}
			if !validation.Corrupt() {
				t.Error("Corrupt() = false")
			}
			if validation.Entries[0].Kind != test.kind {
				t.Errorf("first entry kind = %v, want %v", validation.Entries[0].Kind, test.kind)
			}
		})
	}
}

func TestValidateTornTail(t *testing.T) {
	log, path := openLog(t)
	if err := log.BeginPath("a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := log.EndPath("a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := log.BeginPath("b.txt"); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash in the middle of appending the end record for b.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	log.Close()
	if err := log.EndPath("b.txt"); err == nil {
		t.Fatal("append to closed log succeeded")
	}
	full, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(full, data) {
		t.Fatal("closed log was modified")
	}
	torn := append(bytes.Clone(data), 0xa2, 0x01, 0x02)
	if err := os.WriteFile(path, torn, 0644); err != nil {
		t.Fatal(err)
	}

	var validation *ValidationError
	if err := Validate(path); !errors.As(err, &validation) {
		t.Fatalf("Validate err = %v, want *ValidationError", err)
	}
	if got := validation.Unfinished(); !slices.Equal(got, []string{"b.txt"}) {
		t.Errorf("Unfinished = %v, want [b.txt]", got)
	}
}

func TestValidateGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	if err := os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Validate(path); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("Validate err = %v, want ErrUnreadable", err)
	}
}

func TestOpenDiscardsOldRecords(t *testing.T) {
	log, path := openLog(t)
	if err := log.BeginPath("stale.txt"); err != nil {
		t.Fatal(err)
	}
	log.Close()

	fresh, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fresh.Close()
	if err := Validate(path); err != nil {
		t.Fatalf("fresh log not clean: %v", err)
	}
}

func TestDump(t *testing.T) {
	log, path := openLog(t)
	if err := log.BeginPath("a.txt"); err != nil {
		t.Fatal(err)
	}
	var output strings.Builder
	if err := Dump(path, &output); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.Contains(output.String(), `"a.txt"`) {
		t.Errorf("dump = %q", output.String())
	}
}

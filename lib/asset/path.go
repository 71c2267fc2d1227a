// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"path"
	"strings"

	"github.com/bureau-foundation/assetpipe/lib/contenthash"
)

// Path is a store-relative asset path with an optional label naming a
// sub-asset produced by the same loader run ("scene.bundle#header").
// The zero Path is empty.
type Path struct {
	path  string
	label string
}

// ParsePath parses "file" or "file#label".
func ParsePath(s string) Path {
	file, label, _ := strings.Cut(s, "#")
	return NewPath(file, label)
}

// NewPath returns the path for file and label. The file part is
// cleaned and made relative.
func NewPath(file, label string) Path {
	file = strings.TrimLeft(strings.ReplaceAll(file, "\\", "/"), "/")
	if file != "" {
		file = path.Clean(file)
		if file == "." {
			file = ""
		}
	}
	return Path{path: file, label: label}
}

// Path returns the file part.
func (p Path) Path() string { return p.path }

// Label returns the label, or "" when there is none.
func (p Path) Label() string { return p.label }

// IsZero reports whether p is empty.
func (p Path) IsZero() bool { return p.path == "" && p.label == "" }

// WithoutLabel returns the path of the file that produces p.
func (p Path) WithoutLabel() Path { return Path{path: p.path} }

// WithLabel returns the sub-asset path label of p's file.
func (p Path) WithLabel(label string) Path { return Path{path: p.path, label: label} }

// Extensions returns every dotted suffix of the file name, longest
// first: "a/b.tar.gz" gives ["tar.gz", "gz"]. A leading dot (hidden
// file) does not start an extension.
func (p Path) Extensions() []string {
	name := path.Base(p.path)
	name = strings.TrimLeft(name, ".")
	var extensions []string
	for {
		index := strings.IndexByte(name, '.')
		if index < 0 || index == len(name)-1 {
			return extensions
		}
		name = name[index+1:]
		extensions = append(extensions, name)
	}
}

// ID returns the stable identity of p.
func (p Path) ID() ID {
	return ID{hash: contenthash.Path(p.path, p.label)}
}

func (p Path) String() string {
	if p.label == "" {
		return p.path
	}
	return p.path + "#" + p.label
}

// MarshalText makes paths render as strings in structured logs.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

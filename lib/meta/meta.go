// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package meta defines the sidecar document stored next to every
// source asset and every processed artifact.
//
// A meta names the loader that understands the asset bytes and carries
// that loader's settings. Source metas may also carry processor
// settings: the saver that writes the processed artifact and the loader
// that reads it back. Processed metas carry a ProcessedInfo recording
// the hashes the artifact was built from.
//
// Metas are user-editable, so Parse accepts JSONC (// and /* */
// comments, trailing commas). Marshal always writes plain indented
// JSON. Settings are kept as raw JSON and interpreted by the loader or
// saver named alongside them.
package meta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/assetpipe/lib/contenthash"
)

// FormatVersion is the current meta format. It must change whenever
// the hashing scheme or the meta layout changes, since either
// invalidates every recorded hash.
const FormatVersion = "1.0"

// ErrMalformed is returned (wrapped) for meta bytes that cannot be
// parsed or that carry a different format version.
var ErrMalformed = errors.New("malformed meta")

// Meta is the sidecar document for one asset.
type Meta struct {
	FormatVersion  string          `json:"meta_format_version"`
	Loader         string          `json:"loader"`
	LoaderSettings json.RawMessage `json:"loader_settings,omitempty"`

	// ProcessedInfo is present only on processed artifacts.
	ProcessedInfo *ProcessedInfo `json:"processed_info,omitempty"`

	// Processor is present only on source metas that request a
	// transform. Without it the source bytes are copied unchanged.
	Processor *ProcessorSettings `json:"processor,omitempty"`
}

// ProcessorSettings selects the build plan for a source asset.
type ProcessorSettings struct {
	Saver         string          `json:"saver"`
	SaverSettings json.RawMessage `json:"saver_settings,omitempty"`

	// DestinationLoader reads the saved artifact. Empty means the
	// source loader is reused.
	DestinationLoader         string          `json:"destination_loader,omitempty"`
	DestinationLoaderSettings json.RawMessage `json:"destination_loader_settings,omitempty"`
}

// ProcessedInfo records what a processed artifact was built from.
type ProcessedInfo struct {
	// Hash covers the source meta bytes and source asset bytes.
	Hash contenthash.Hash `json:"hash"`

	// FullHash covers Hash and the FullHash of every load dependency.
	FullHash contenthash.Hash `json:"full_hash"`

	LoadDependencies []LoadDependency `json:"load_dependencies"`
}

// LoadDependency is one asset the loader read directly while building,
// together with the FullHash it had at the time.
type LoadDependency struct {
	Path     string           `json:"path"`
	FullHash contenthash.Hash `json:"full_hash"`
}

// New returns a meta for loader with the given settings and no
// processor.
func New(loader string, settings json.RawMessage) *Meta {
	return &Meta{
		FormatVersion:  FormatVersion,
		Loader:         loader,
		LoaderSettings: settings,
	}
}

// Parse decodes meta bytes. Any decode failure, a missing loader name,
// or a format version other than FormatVersion wraps ErrMalformed.
func Parse(data []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format version %q, want %q", ErrMalformed, m.FormatVersion, FormatVersion)
	}
	if m.Loader == "" {
		return nil, fmt.Errorf("%w: loader is empty", ErrMalformed)
	}
	if m.Processor != nil && m.Processor.Saver == "" {
		return nil, fmt.Errorf("%w: processor.saver is empty", ErrMalformed)
	}
	return &m, nil
}

// ParseProcessedInfo decodes a processed meta and returns its
// ProcessedInfo. A meta without one is malformed in this context.
func ParseProcessedInfo(data []byte) (*ProcessedInfo, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if m.ProcessedInfo == nil {
		return nil, fmt.Errorf("%w: processed_info missing", ErrMalformed)
	}
	return m.ProcessedInfo, nil
}

// Marshal encodes the meta as indented JSON with a trailing newline.
func (m *Meta) Marshal() ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding meta: %w", err)
	}
	return buffer.Bytes(), nil
}

// DestinationLoader returns the loader name and settings that read the
// processed artifact.
func (m *Meta) DestinationLoader() (string, json.RawMessage) {
	if m.Processor == nil || m.Processor.DestinationLoader == "" {
		return m.Loader, m.LoaderSettings
	}
	return m.Processor.DestinationLoader, m.Processor.DestinationLoaderSettings
}

// Processed returns the meta written next to the processed artifact:
// the destination loader becomes the loader, processor settings are
// dropped, and info is attached.
func (m *Meta) Processed(info *ProcessedInfo) *Meta {
	loader, settings := m.DestinationLoader()
	return &Meta{
		FormatVersion:  FormatVersion,
		Loader:         loader,
		LoaderSettings: settings,
		ProcessedInfo:  info,
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the pipeline's CBOR encoding configuration.
//
// The pipeline uses two serialization formats with a clear boundary:
//
//   - JSON for anything a person edits or reads: meta sidecars and
//     command output.
//   - CBOR for internal state files that only the pipeline reads back,
//     such as the processor transaction log.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For append-only record files, where each record is one CBOR item:
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// # Struct Tag Rules
//
// Types only ever stored as CBOR use `cbor` tags, preferably integer
// keys (`cbor:"1,keyasint"`) to keep records small. Types that are
// also written as JSON use `json` tags only; fxamacker/cbor reads them
// as a fallback. Never put both tags on one field.
package codec

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for assetpipe.
//
// Configuration is loaded from a single file specified by either the
// ASSETPIPE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search.
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Without an explicit production section,
// production disables watching and logs JSON.
//
// Path fields are expanded after loading: ${HOME}, ${ASSETPIPE_ROOT},
// and ${VAR:-default} patterns are substituted. No other environment
// variables override config values.
//
// This package depends on no other assetpipe packages.
package config

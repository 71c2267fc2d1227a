// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package bytestore

import "context"

// Watch is not supported off Linux.
func (s *FileStore) Watch(ctx context.Context) (Watcher, error) {
	return nil, ErrWatchUnsupported
}

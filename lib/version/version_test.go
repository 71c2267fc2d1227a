// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"runtime/debug"
	"strings"
	"testing"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	original := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
	t.Cleanup(func() { readBuildInfo = original })
}

func TestInfoUsesInjectedCommit(t *testing.T) {
	defer func(commit, dirty string) { GitCommit, GitDirty = commit, dirty }(GitCommit, GitDirty)
	GitCommit, GitDirty = "abc1234", "true"
	stubBuildInfo(t, nil)

	if got := Info(); !strings.Contains(got, "(abc1234-dirty, ") {
		t.Errorf("Info() = %q, want injected dirty commit", got)
	}
}

func TestInfoFallsBackToBuildInfo(t *testing.T) {
	defer func(commit string) { GitCommit = commit }(GitCommit)
	GitCommit = "unknown"
	stubBuildInfo(t, &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "false"},
	}})

	if got := Info(); !strings.Contains(got, "(0123456789ab, ") {
		t.Errorf("Info() = %q, want truncated vcs revision", got)
	}
}

func TestInfoWithoutBuildInfo(t *testing.T) {
	defer func(commit string) { GitCommit = commit }(GitCommit)
	GitCommit = "unknown"
	stubBuildInfo(t, nil)

	if got := Info(); !strings.Contains(got, "(unknown, ") {
		t.Errorf("Info() = %q, want unknown commit", got)
	}
}

func TestPrint(t *testing.T) {
	var buffer bytes.Buffer
	Print(&buffer, "assetpipe")
	output := buffer.String()
	if !strings.HasPrefix(output, "assetpipe "+Version) {
		t.Errorf("Print output = %q", output)
	}
	if !strings.Contains(output, "Go: ") {
		t.Errorf("Print output lacks Go version: %q", output)
	}
}

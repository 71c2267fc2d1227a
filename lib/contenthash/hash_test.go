// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"strings"
	"testing"
)

func TestContentDeterministic(t *testing.T) {
	first := Content([]byte("meta"), []byte("asset"))
	second := Content([]byte("meta"), []byte("asset"))
	if first != second {
		t.Fatalf("same input produced different hashes: %s vs %s", first, second)
	}
	if first.IsZero() {
		t.Fatal("content hash is zero")
	}
}

func TestContentFraming(t *testing.T) {
	// Shifting a byte across the meta/asset boundary must change the hash.
	left := Content([]byte("ab"), []byte("c"))
	right := Content([]byte("a"), []byte("bc"))
	if left == right {
		t.Fatal("framing does not separate meta and asset bytes")
	}
}

func TestContentSensitiveToEitherInput(t *testing.T) {
	base := Content([]byte("meta"), []byte("asset"))
	if base == Content([]byte("meta2"), []byte("asset")) {
		t.Error("meta change did not change hash")
	}
	if base == Content([]byte("meta"), []byte("asset2")) {
		t.Error("asset change did not change hash")
	}
}

func TestFullDependsOnDependencies(t *testing.T) {
	content := Content([]byte("m"), []byte("a"))
	dependencyA := Content([]byte("m"), []byte("dep-a"))
	dependencyB := Content([]byte("m"), []byte("dep-b"))

	none := Full(content, nil)
	one := Full(content, []Hash{dependencyA})
	two := Full(content, []Hash{dependencyA, dependencyB})
	swapped := Full(content, []Hash{dependencyB, dependencyA})

	if none == content {
		t.Error("full hash with no dependencies equals content hash; domains not separated")
	}
	if none == one || one == two {
		t.Error("adding a dependency did not change the full hash")
	}
	if two == swapped {
		t.Error("dependency order does not affect the full hash")
	}
	if Full(content, []Hash{dependencyA}) != one {
		t.Error("full hash not deterministic")
	}
}

func TestDomainsSeparated(t *testing.T) {
	if Path("a", "") == Content([]byte("a"), []byte("")) {
		t.Fatal("path and content domains collide")
	}
	if Path("a.txt", "x") == Path("a.txt", "") {
		t.Fatal("label ignored")
	}
}

func TestTextRoundTrip(t *testing.T) {
	original := Content([]byte("m"), []byte("a"))
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if len(text) != 64 {
		t.Fatalf("hex length = %d, want 64", len(text))
	}

	var decoded Hash
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, original)
	}
	if !strings.HasPrefix(original.String(), original.Short()) {
		t.Errorf("Short %q is not a prefix of %q", original.Short(), original.String())
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "abc", strings.Repeat("z", 64)} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}

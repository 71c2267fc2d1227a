// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"testing"
)

type states struct {
	load, dependency, recursive LoadState
}

func stateOf(r *Registry, id ID) states {
	return states{r.LoadState(id), r.DependencyLoadState(id), r.RecursiveDependencyLoadState(id)}
}

func requireStates(t *testing.T, r *Registry, name string, id ID, want states) {
	t.Helper()
	if got := stateOf(r, id); got != want {
		t.Errorf("%s: states = %v/%v/%v, want %v/%v/%v", name,
			got.load, got.dependency, got.recursive, want.load, want.dependency, want.recursive)
	}
}

func TestLoadOrReuseFetchesOnce(t *testing.T) {
	r := NewRegistry(nil)
	p := ParsePath("a.txt")

	first, shouldFetch := r.LoadOrReuse(p, Request)
	if !shouldFetch {
		t.Fatal("first request should fetch")
	}
	second, shouldFetch := r.LoadOrReuse(p, Request)
	if shouldFetch {
		t.Fatal("second request while loading should not fetch")
	}
	if first.ID() != second.ID() {
		t.Fatal("requests for the same path returned different IDs")
	}
	if r.LoadState(first.ID()) != Loading {
		t.Errorf("state = %v, want loading", r.LoadState(first.ID()))
	}

	r.OnLoaded(first.ID(), nil)
	if _, shouldFetch := r.LoadOrReuse(p, Request); shouldFetch {
		t.Error("request for a loaded asset should not fetch")
	}
	if _, shouldFetch := r.LoadOrReuse(p, Force); !shouldFetch {
		t.Error("forced request should fetch")
	}
}

func TestNotLoadingRegistersWithoutFetch(t *testing.T) {
	r := NewRegistry(nil)
	handle, shouldFetch := r.LoadOrReuse(ParsePath("a.txt"), NotLoading)
	if shouldFetch {
		t.Fatal("NotLoading asked for a fetch")
	}
	requireStates(t, r, "a", handle.ID(), states{NotLoaded, NotLoaded, NotLoaded})

	if _, shouldFetch := r.LoadOrReuse(ParsePath("a.txt"), Request); !shouldFetch {
		t.Error("request after NotLoading registration should fetch")
	}
}

func TestDropReclaimsAsset(t *testing.T) {
	r := NewRegistry(nil)
	p := ParsePath("a.txt")
	handle, _ := r.LoadOrReuse(p, Request)
	clone := handle.Clone()

	handle.Release()
	if drops := r.takeDrops(); len(drops) != 0 {
		t.Fatalf("drop queued while a clone is live: %v", drops)
	}
	clone.Release()
	clone.Release()

	drops := r.takeDrops()
	if len(drops) != 1 || drops[0] != p.ID() {
		t.Fatalf("drops = %v, want exactly one for %s", drops, p)
	}
	if !r.OnHandleDropped(p.ID()) {
		t.Fatal("drop did not reclaim the asset")
	}
	if _, ok := r.Path(p.ID()); ok {
		t.Error("path mapping survived reclaim")
	}
	if r.Handle(p) != nil {
		t.Error("Handle returned a handle for a reclaimed path")
	}
}

func TestDropRaceSkipsSupersededCore(t *testing.T) {
	r := NewRegistry(nil)
	p := ParsePath("a.txt")
	handle, _ := r.LoadOrReuse(p, Request)
	r.OnLoaded(handle.ID(), nil)

	// Last handle dropped; the drop is queued but not processed yet.
	handle.Release()

	// A concurrent load finds the dead core and mints a new one.
	revived, shouldFetch := r.LoadOrReuse(p, Request)
	if shouldFetch {
		t.Error("reviving a loaded asset should not fetch")
	}
	if revived.ID() != p.ID() {
		t.Fatal("revived handle has a different ID")
	}

	for _, id := range r.takeDrops() {
		if r.OnHandleDropped(id) {
			t.Fatal("stale drop reclaimed an asset with a live handle")
		}
	}
	if r.LoadState(p.ID()) != Loaded {
		t.Fatalf("state after stale drop = %v, want loaded", r.LoadState(p.ID()))
	}

	revived.Release()
	drops := r.takeDrops()
	if len(drops) != 1 || !r.OnHandleDropped(drops[0]) {
		t.Fatal("drop of the revived handle did not reclaim the asset")
	}
}

func TestStatesDependencyLoadsAfterDependant(t *testing.T) {
	r := NewRegistry(nil)
	a, _ := r.LoadOrReuse(ParsePath("a"), Request)
	b, _ := r.LoadOrReuse(ParsePath("b"), Request)

	r.OnLoaded(a.ID(), []ID{b.ID()})
	requireStates(t, r, "a before b", a.ID(), states{Loaded, Loading, Loading})

	r.OnLoaded(b.ID(), nil)
	requireStates(t, r, "b", b.ID(), states{Loaded, Loaded, Loaded})
	requireStates(t, r, "a after b", a.ID(), states{Loaded, Loaded, Loaded})
}

func TestStatesDependencyLoadsBeforeDependant(t *testing.T) {
	r := NewRegistry(nil)
	a, _ := r.LoadOrReuse(ParsePath("a"), Request)
	b, _ := r.LoadOrReuse(ParsePath("b"), Request)

	r.OnLoaded(b.ID(), nil)
	r.OnLoaded(a.ID(), []ID{b.ID()})
	requireStates(t, r, "a", a.ID(), states{Loaded, Loaded, Loaded})
}

func TestRecursiveStateWaitsForWholeChain(t *testing.T) {
	r := NewRegistry(nil)
	a, _ := r.LoadOrReuse(ParsePath("a"), Request)
	b, _ := r.LoadOrReuse(ParsePath("b"), Request)
	c, _ := r.LoadOrReuse(ParsePath("c"), Request)

	r.OnLoaded(a.ID(), []ID{b.ID()})
	r.OnLoaded(b.ID(), []ID{c.ID()})
	requireStates(t, r, "a", a.ID(), states{Loaded, Loaded, Loading})
	requireStates(t, r, "b", b.ID(), states{Loaded, Loading, Loading})

	r.OnLoaded(c.ID(), nil)
	requireStates(t, r, "a", a.ID(), states{Loaded, Loaded, Loaded})
	requireStates(t, r, "b", b.ID(), states{Loaded, Loaded, Loaded})
}

func TestReloadDropsStaleDependency(t *testing.T) {
	r := NewRegistry(nil)
	x, _ := r.LoadOrReuse(ParsePath("x"), Request)
	d, _ := r.LoadOrReuse(ParsePath("d"), Request)

	r.OnLoaded(x.ID(), []ID{d.ID()})
	requireStates(t, r, "x waiting on d", x.ID(), states{Loaded, Loading, Loading})

	if _, shouldFetch := r.LoadOrReuse(ParsePath("x"), Force); !shouldFetch {
		t.Fatal("forced reload should fetch")
	}
	r.OnLoaded(x.ID(), nil)
	requireStates(t, r, "x reloaded without d", x.ID(), states{Loaded, Loaded, Loaded})

	r.OnFailed(d.ID())
	requireStates(t, r, "x after d failed", x.ID(), states{Loaded, Loaded, Loaded})
}

func TestReloadDropsStaleDependencyThatLoads(t *testing.T) {
	r := NewRegistry(nil)
	x, _ := r.LoadOrReuse(ParsePath("x"), Request)
	d, _ := r.LoadOrReuse(ParsePath("d"), Request)
	e, _ := r.LoadOrReuse(ParsePath("e"), Request)

	r.OnLoaded(x.ID(), []ID{d.ID()})
	r.LoadOrReuse(ParsePath("x"), Force)
	r.OnLoaded(x.ID(), []ID{e.ID()})

	// d finishing must not count as e finishing.
	r.OnLoaded(d.ID(), nil)
	requireStates(t, r, "x after stale d loaded", x.ID(), states{Loaded, Loading, Loading})

	r.OnLoaded(e.ID(), nil)
	requireStates(t, r, "x after e loaded", x.ID(), states{Loaded, Loaded, Loaded})
}

func TestFailureDominatesLoading(t *testing.T) {
	r := NewRegistry(nil)
	a, _ := r.LoadOrReuse(ParsePath("a"), Request)
	b, _ := r.LoadOrReuse(ParsePath("b"), Request)
	c, _ := r.LoadOrReuse(ParsePath("c"), Request)

	r.OnLoaded(a.ID(), []ID{b.ID(), c.ID()})
	r.OnFailed(b.ID())
	requireStates(t, r, "b", b.ID(), states{Failed, Failed, Failed})
	requireStates(t, r, "a with c pending", a.ID(), states{Loaded, Failed, Failed})

	r.OnLoaded(c.ID(), nil)
	requireStates(t, r, "a after c", a.ID(), states{Loaded, Failed, Failed})
}

// The scenario from the pipeline's acceptance tests: a depends on b and
// c, c depends on d, and d fails. Every completion order must produce
// the same final states.
func TestFailedGrandchildOrders(t *testing.T) {
	orders := [][]string{
		{"a", "b", "c", "d"},
		{"d", "c", "b", "a"},
		{"c", "a", "d", "b"},
		{"b", "d", "a", "c"},
	}
	for _, order := range orders {
		r := NewRegistry(nil)
		ids := map[string]ID{}
		for _, name := range []string{"a", "b", "c", "d"} {
			handle, _ := r.LoadOrReuse(ParsePath(name), Request)
			ids[name] = handle.ID()
		}
		dependencies := map[string][]ID{
			"a": {ids["b"], ids["c"]},
			"c": {ids["d"]},
		}
		for _, name := range order {
			if name == "d" {
				r.OnFailed(ids["d"])
			} else {
				r.OnLoaded(ids[name], dependencies[name])
			}
		}

		requireStates(t, r, "b", ids["b"], states{Loaded, Loaded, Loaded})
		requireStates(t, r, "c", ids["c"], states{Loaded, Failed, Failed})
		requireStates(t, r, "a", ids["a"], states{Loaded, Loaded, Failed})
		requireStates(t, r, "d", ids["d"], states{Failed, Failed, Failed})
	}
}

func TestUnknownIDIsNotLoaded(t *testing.T) {
	r := NewRegistry(nil)
	requireStates(t, r, "unknown", ParsePath("never").ID(), states{NotLoaded, NotLoaded, NotLoaded})
}

func TestAllocatedAsset(t *testing.T) {
	r := NewRegistry(nil)
	first := r.Allocate()
	second := r.Allocate()
	if first.ID() == second.ID() {
		t.Fatal("allocated IDs collide")
	}
	if !first.ID().IsAllocated() {
		t.Error("allocated ID does not report allocated")
	}
	if _, ok := r.Path(first.ID()); ok {
		t.Error("allocated asset has a path")
	}
	requireStates(t, r, "allocated", first.ID(), states{Loaded, Loaded, Loaded})
}

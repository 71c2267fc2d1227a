// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The processor times its passes and waits out a settle window after a
// burst of change events. Both go through a Clock so tests can drive
// them deterministically: Real() wraps the time package, Fake()
// advances only when told to.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go listen(c)
//	c.WaitForTimers(1)         // listener is waiting out the settle window
//	c.Advance(50 * time.Millisecond)
package clock

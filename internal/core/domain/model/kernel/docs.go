// Package kernel provides the primitives shared by every domain model of the
// payment job scheduler:
//   - UUID: a validated, immutable identifier value object
//   - Clock: the injected source of the current time (SystemClock, FixedClock)
//
// Nothing in the domain reads time.Now directly; every deadline comparison and
// backoff computation goes through a Clock so it stays deterministic under test.
package kernel

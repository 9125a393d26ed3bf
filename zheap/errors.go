package zheap

import "github.com/pkg/errors"

// Sentinel errors surfaced by the public API. All are observable in the
// return value; none cross the public boundary as a panic except debug-build
// invariant assertions.
var (
	// ErrOutOfCapacity is returned when no Free slab is available.
	ErrOutOfCapacity = errors.New("zheap: out of capacity")
	// ErrTooLarge is returned when a requested size exceeds what one slab
	// can place, given its redzone constraints.
	ErrTooLarge = errors.New("zheap: allocation too large")
	// ErrNotOwned is returned when an address does not belong to this
	// heap's reservation, or does not sit at a slab's header.
	ErrNotOwned = errors.New("zheap: address not owned by this heap")
	// ErrWrongState is returned when an operation requires a slab to be in
	// a state it is not currently in.
	ErrWrongState = errors.New("zheap: slab is in the wrong state")
)

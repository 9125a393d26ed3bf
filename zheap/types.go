package zheap

// SlabState is a slab's position in the Free -> Allocated -> Quarantined
// lifecycle.
type SlabState int32

const (
	Free SlabState = iota
	Allocated
	Quarantined
)

func (s SlabState) String() string {
	switch s {
	case Free:
		return "free"
	case Allocated:
		return "allocated"
	case Quarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// invalidIndex is the sentinel returned by indexOf for an address outside
// the reservation.
const invalidIndex = int64(-1)

// BlockInfo is the compact block descriptor: identity plus enough of the
// placement to validate a Free/Push and to hand back to a caller on
// quarantine eviction.
type BlockInfo struct {
	SlabIndex int64
	Header    uintptr
	Body      uintptr
	BodySize  int64
	Total     int64
}

// Color tags a Pop result. This heap's quarantine is size-driven rather
// than temperature-driven, so it only ever produces Green.
type Color int

const (
	Green Color = iota
)

func (c Color) String() string {
	if c == Green {
		return "green"
	}
	return "unknown"
}

// PushOutcome is the result tag of Push. NoTrimNeeded covers the case
// where the quarantine is still within its ratio bound after the push, so
// calling Pop would incorrectly evict an entry that isn't excess.
type PushOutcome int

const (
	Rejected PushOutcome = iota
	SyncTrimRequired
	NoTrimNeeded
)

func (o PushOutcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case SyncTrimRequired:
		return "sync-trim-required"
	case NoTrimNeeded:
		return "no-trim-needed"
	default:
		return "unknown"
	}
}

// PopResult is the return value of Pop.
type PopResult struct {
	Info  BlockInfo
	Color Color
	Empty bool
}

// Stats is a snapshot of allocator activity counters.
type Stats struct {
	Allocations        uint64
	Frees              uint64
	QuarantinePushes   uint64
	QuarantineTrims    uint64
	OutOfCapacityCount uint64
	TooLargeCount      uint64
	CurrentQuarantined int64
	PeakQuarantined    int64
	CurrentAllocated   int64
	PeakAllocated      int64
}

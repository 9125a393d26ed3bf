// This file implements the bounded FIFO quarantine: a ratio-bounded queue
// of quarantined slab indices with a synchronous trim protocol, plus a
// sharded-lock facet this heap does not need internally but still exposes
// for callers that coordinate their own batched quarantine operations.
package zheap

import (
	"github.com/pkg/errors"

	"github.com/zebrasys/zebrasys/cmn"
)

// Push transitions an Allocated slab (identified by info) to Quarantined
// and enqueues it. The returned outcome tells the caller whether the
// quarantine now exceeds its ratio bound and an immediate Pop is required
// to bring it back under the bound; Rejected means info did not identify a
// currently-Allocated slab and no state was changed.
func (h *Heap) Push(info BlockInfo) (PushOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := info.SlabIndex
	if i < 0 || i >= h.slabCount {
		return Rejected, ErrNotOwned
	}
	rec := &h.slabs[i]
	if rec.state != Allocated {
		return Rejected, ErrWrongState
	}
	if rec.desc != info {
		return Rejected, ErrNotOwned
	}

	rec.state = Quarantined
	h.quarantine.push(i)
	h.quarantineBodyBytes += info.BodySize

	h.stats.QuarantinePushes++
	h.stats.CurrentAllocated--
	h.stats.CurrentQuarantined = int64(h.quarantine.len())
	if h.stats.CurrentQuarantined > h.stats.PeakQuarantined {
		h.stats.PeakQuarantined = h.stats.CurrentQuarantined
	}
	h.assertInvariantsLocked()

	if int64(h.quarantine.len()) > h.maxQuarantinedSlabs {
		return SyncTrimRequired, nil
	}
	return NoTrimNeeded, nil
}

// Pop removes the head of the quarantine queue, transitions that slab back
// to Free, and returns its descriptor tagged Green. If the quarantine is
// empty, PopResult.Empty is true.
func (h *Heap) Pop() PopResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.popLocked()
}

func (h *Heap) popLocked() PopResult {
	i, ok := h.quarantine.pop()
	if !ok {
		return PopResult{Empty: true}
	}
	rec := &h.slabs[i]
	debugAssertState(rec.state, Quarantined)
	desc := rec.desc
	h.quarantineBodyBytes -= desc.BodySize
	rec.state = Free
	rec.desc = BlockInfo{}
	h.free.push(i)

	h.stats.QuarantineTrims++
	h.stats.CurrentQuarantined = int64(h.quarantine.len())
	h.assertInvariantsLocked()

	return PopResult{Info: desc, Color: Green}
}

// Empty drains the entire quarantine in FIFO order, transitioning every
// popped slab to Free, and returns their descriptors so the caller can
// inspect or poison the freed contents before reuse.
func (h *Heap) Empty() []BlockInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]BlockInfo, 0, h.quarantine.len())
	for {
		r := h.popLocked()
		if r.Empty {
			break
		}
		out = append(out, r.Info)
	}
	return out
}

// SetQuarantineRatio updates the fraction of slabs that may sit in the
// Quarantined state. It does not itself trim; the next Push enforces the
// new bound.
func (h *Heap) SetQuarantineRatio(r float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setQuarantineRatioLocked(r)
}

func (h *Heap) setQuarantineRatioLocked(r float64) error {
	if r < 0 || r > 1 {
		return errors.Errorf("zheap: quarantine ratio %v outside [0,1]", r)
	}
	h.ratio = r
	// Precomputed integer cap, to avoid floating-point comparisons on the
	// Push hot path.
	h.maxQuarantinedSlabs = int64(r * float64(h.slabCount))
	return nil
}

// QuarantineRatio returns the currently configured ratio bound.
func (h *Heap) QuarantineRatio() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ratio
}

// LockId, Lock and Unlock let a caller coordinate its own multi-step
// quarantine operations. This heap is not sharded: LockId always returns 0
// and Lock/Unlock are no-ops, since every Push/Pop already runs under the
// heap's own single lock.
func (h *Heap) LockId(BlockInfo) int64 { return 0 }
func (h *Heap) Lock(int64)             {}
func (h *Heap) Unlock(int64)           {}

func debugAssertState(got, want SlabState) {
	cmn.Assert(got == want)
}

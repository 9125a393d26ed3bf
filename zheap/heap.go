// Package zheap implements the Zebra Block Heap: a slab-indexed virtual
// memory allocator that places each small allocation flush against a
// protected guard page, plus a ratio-bounded quarantine that delays reuse
// of freed slabs. This file covers reservation, indexing, and the Heap's
// lifecycle.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package zheap

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/zebrasys/zebrasys/cmn"
	"github.com/zebrasys/zebrasys/cmn/debug"
	"github.com/zebrasys/zebrasys/hk"
	"github.com/zebrasys/zebrasys/notify"
	"github.com/zebrasys/zebrasys/sys"
	"github.com/zebrasys/zebrasys/vmm"
)

// Heap is the Zebra Block Heap. All of its public methods take the same
// single mutex on entry and release it on every exit path; internal
// *Locked helpers assume it is already held. No public method ever calls
// another public method, so a single non-reentrant sync.Mutex suffices -
// there is no path that would need it to be reentrant.
type Heap struct {
	mu sync.Mutex

	name string

	region   *vmm.Region
	base     uintptr
	pageSize int64
	slabSize int64

	slabCount              int64
	heapSize               int64
	maxRawAllocationSize   int64
	maxBlockAllocationSize int64
	shadowRatio            int64

	slabs []slabRec
	free  *indexRing

	quarantine          *indexRing
	quarantineBodyBytes int64
	ratio               float64
	maxQuarantinedSlabs int64

	notifier           notify.Notifier
	hk                 *hk.HouseKeeper
	hkName             string
	statsFlushInterval time.Duration

	stats Stats
}

type slabRec struct {
	state SlabState
	desc  BlockInfo
}

// New reserves a contiguous virtual-memory region sized for o.Slabs slabs,
// marks every odd page inaccessible, and returns a ready-to-use Heap.
// Construction failures (reservation, protection) are returned to the
// caller; there is no partially-constructed Heap to clean up afterward.
func New(o Options) (*Heap, error) {
	if err := o.env(); err != nil {
		return nil, err
	}
	o.setDefaults()
	if o.Name == "" {
		return nil, errors.New("zheap: Options.Name is required")
	}

	pageSize := sys.PageSize()
	slabSize := pageSize * 2
	heapSize := slabSize * o.Slabs

	if mem, err := sys.Mem(); err == nil && mem.FreeBytes > 0 && uint64(heapSize) > mem.FreeBytes {
		glog.Warningf("zheap %q: reservation of %s exceeds free system memory (%s)",
			o.Name, cmn.B2S(heapSize, 1), cmn.B2S(int64(mem.FreeBytes), 1))
	}

	region, err := vmm.Reserve(heapSize)
	if err != nil {
		return nil, errors.Wrap(err, "zheap: reserve")
	}
	o.Notifier.NotifyReservation(notify.Range{Addr: region.Base, Size: heapSize})

	h := &Heap{
		name:                   o.Name,
		region:                 region,
		base:                   region.Base,
		pageSize:               pageSize,
		slabSize:               slabSize,
		slabCount:              o.Slabs,
		heapSize:               heapSize,
		maxRawAllocationSize:   pageSize,
		maxBlockAllocationSize: pageSize,
		shadowRatio:            o.ShadowRatio,
		slabs:                  make([]slabRec, o.Slabs),
		free:                   newIndexRing(o.Slabs),
		quarantine:             newIndexRing(o.Slabs),
		notifier:               o.Notifier,
		hk:                     o.HK,
		hkName:                 o.Name + ".zheap-stats",
		statsFlushInterval:     o.StatsFlushInterval,
	}
	if err := h.setQuarantineRatioLocked(o.QuarantineRatio); err != nil {
		_ = vmm.Release(region)
		return nil, err
	}

	for i := int64(0); i < o.Slabs; i++ {
		h.free.push(i)
		oddAddr := h.addressOf(i) + uintptr(pageSize)
		if err := region.Protect(oddAddr, pageSize, vmm.NoAccess); err != nil {
			_ = vmm.Release(region)
			return nil, errors.Wrapf(err, "zheap: guard slab %d", i)
		}
	}
	o.Notifier.NotifyInternalUse(notify.Range{Addr: region.Base, Size: heapSize})

	h.hk.Reg(h.hkName, h.flushStats, o.StatsFlushInterval)
	glog.V(2).Infof("zheap %q: reserved %s across %d slabs", h.name, cmn.B2S(heapSize, 1), o.Slabs)
	return h, nil
}

// Terminate releases the reservation and deregisters house-keeping. The
// Heap must not be used afterward.
func (h *Heap) Terminate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hk.Unreg(h.hkName)
	if err := vmm.Release(h.region); err != nil {
		glog.Errorf("zheap %q: release failed: %v", h.name, err)
	} else {
		h.notifier.NotifyReturnedToOS(notify.Range{Addr: h.base, Size: h.heapSize})
	}
}

func (h *Heap) flushStats() time.Duration {
	h.mu.Lock()
	s := h.stats
	h.mu.Unlock()
	glog.V(2).Infof("zheap %q stats: alloc=%d free=%d q-push=%d q-trim=%d cur-q=%d peak-q=%d",
		h.name, s.Allocations, s.Frees, s.QuarantinePushes, s.QuarantineTrims, s.CurrentQuarantined, s.PeakQuarantined)
	return h.statsFlushInterval
}

// indexOf returns the slab index owning addr, or invalidIndex if addr does
// not lie within the reservation.
func (h *Heap) indexOf(addr uintptr) int64 {
	if addr < h.base || addr >= h.base+uintptr(h.heapSize) {
		return invalidIndex
	}
	return int64(addr-h.base) / h.slabSize
}

// addressOf returns the base address of slab i (its header/even-page
// start).
func (h *Heap) addressOf(i int64) uintptr {
	return h.base + uintptr(i*h.slabSize)
}

// PageSize returns the process page size this heap was built with.
func (h *Heap) PageSize() int64 { return h.pageSize }

// SlabSize returns slab_size = 2*page_size.
func (h *Heap) SlabSize() int64 { return h.slabSize }

// SlabCount returns the number of slabs in the reservation.
func (h *Heap) SlabCount() int64 { return h.slabCount }

// HeapSize returns the total reserved size in bytes.
func (h *Heap) HeapSize() int64 { return h.heapSize }

// MaxRawAllocationSize is the largest size Allocate will accept.
func (h *Heap) MaxRawAllocationSize() int64 { return h.maxRawAllocationSize }

// MaxBlockAllocationSize is the largest body size AllocateBlock can place
// with zero redzones; larger redzone requests reduce this further on a
// per-call basis (see layout.ComputeLayout).
func (h *Heap) MaxBlockAllocationSize() int64 { return h.maxBlockAllocationSize }

// Stats returns a snapshot of allocator activity counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// QuarantineHeadroom returns the number of additional slabs that could be
// quarantined before the ratio bound is hit. Unlike a memory-pressure probe,
// it is an exact count derived from the quarantine's own length and cap.
func (h *Heap) QuarantineHeadroom() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	headroom := h.maxQuarantinedSlabs - int64(h.quarantine.len())
	if headroom < 0 {
		return 0
	}
	return headroom
}

func (h *Heap) assertInvariantsLocked() {
	if !debug.Enabled {
		return
	}
	free, alloc, quarantined := 0, 0, 0
	for i := range h.slabs {
		switch h.slabs[i].state {
		case Free:
			free++
		case Allocated:
			alloc++
		case Quarantined:
			quarantined++
		}
	}
	debug.Assertf(int64(free+alloc+quarantined) == h.slabCount,
		"zheap %q: slab partition broken: free=%d alloc=%d quarantined=%d count=%d",
		h.name, free, alloc, quarantined, h.slabCount)
	debug.Assertf(free == h.free.len(), "zheap %q: free queue length %d != free slabs %d", h.name, h.free.len(), free)
	debug.Assertf(quarantined == h.quarantine.len(), "zheap %q: quarantine queue length %d != quarantined slabs %d", h.name, h.quarantine.len(), quarantined)
	debug.Assertf(h.quarantineBodyBytes >= 0, "zheap %q: negative quarantined body bytes %d", h.name, h.quarantineBodyBytes)
}

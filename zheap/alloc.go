// The raw Allocate/Free path and the redzone-aware AllocateBlock/FreeBlock
// path, both built on layout.ComputeLayout.
package zheap

import (
	"unsafe"

	"github.com/zebrasys/zebrasys/layout"
)

// pointerAlign is the alignment Allocate (the raw, non-block path) gives
// its returned pointer when the caller supplies no further alignment
// requirement.
var pointerAlign = int64(unsafe.Sizeof(uintptr(0)))

// Allocate returns a pointer-aligned pointer to bytes rounded up to a
// multiple of pointerAlign, placed so that the rounded allocation ends
// exactly at the start of a guard page. When bytes is not a multiple of
// pointerAlign, up to pointerAlign-1 bytes lie between ptr+bytes and the
// guard page. It fails with ErrTooLarge if bytes exceeds one page, and with
// ErrOutOfCapacity if no slab is free.
func (h *Heap) Allocate(bytes int64) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr, _, err := h.allocateLocked(bytes, 0, 0, pointerAlign)
	return ptr, err
}

// AllocateBlock places a body of the requested size flush against a slab's
// guard page, honoring the caller's minimum left/right redzones and the
// shadow-memory alignment requirement. It fails with ErrTooLarge if the
// body (after rounding to the shadow ratio) cannot fit alongside the
// requested left redzone in one page, and with ErrOutOfCapacity if no slab
// is free.
func (h *Heap) AllocateBlock(size, minLeftRZ, minRightRZ int64) (uintptr, BlockInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr, info, err := h.allocateLocked(size, minLeftRZ, minRightRZ, h.shadowRatio)
	return ptr, info, err
}

func (h *Heap) allocateLocked(size, minLeftRZ, minRightRZ, alignment int64) (uintptr, BlockInfo, error) {
	if size > h.pageSize {
		h.stats.TooLargeCount++
		return 0, BlockInfo{}, ErrTooLarge
	}

	// Compute the layout before taking a slab, so a failed placement leaves
	// the free queue untouched.
	l, err := layout.ComputeLayout(size, minLeftRZ, minRightRZ, alignment, h.pageSize)
	if err != nil {
		h.stats.TooLargeCount++
		return 0, BlockInfo{}, ErrTooLarge
	}

	i, ok := h.free.pop()
	if !ok {
		h.stats.OutOfCapacityCount++
		return 0, BlockInfo{}, ErrOutOfCapacity
	}

	header := h.addressOf(i)
	body := header + uintptr(l.BodyOffset)
	info := BlockInfo{
		SlabIndex: i,
		Header:    header,
		Body:      body,
		BodySize:  l.BodySize,
		Total:     l.TotalSize,
	}
	h.slabs[i] = slabRec{state: Allocated, desc: info}

	h.stats.Allocations++
	h.stats.CurrentAllocated++
	if h.stats.CurrentAllocated > h.stats.PeakAllocated {
		h.stats.PeakAllocated = h.stats.CurrentAllocated
	}
	h.assertInvariantsLocked()

	return body, info, nil
}

// Free releases the slab owning ptr, where ptr is the exact body pointer
// previously returned by Allocate or AllocateBlock. It returns false,
// leaving all state unchanged, if ptr is not owned by this heap or its
// slab is not currently Allocated.
func (h *Heap) Free(ptr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(ptr)
	if i == invalidIndex {
		return false
	}
	rec := &h.slabs[i]
	if rec.state != Allocated || rec.desc.Body != ptr {
		return false
	}
	h.freeSlabLocked(i)
	return true
}

// FreeBlock releases the slab identified by info, which must exactly match
// the descriptor returned by the AllocateBlock call that produced it.
func (h *Heap) FreeBlock(info BlockInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := info.SlabIndex
	if i < 0 || i >= h.slabCount {
		return false
	}
	rec := &h.slabs[i]
	if rec.state != Allocated || rec.desc != info {
		return false
	}
	h.freeSlabLocked(i)
	return true
}

func (h *Heap) freeSlabLocked(i int64) {
	h.slabs[i] = slabRec{state: Free}
	h.free.push(i)

	h.stats.Frees++
	h.stats.CurrentAllocated--
	h.assertInvariantsLocked()
}

// IsAllocated reports whether addr is the exact header address of a slab
// currently in the Allocated state. An interior (body) pointer always
// returns false, even for a live allocation.
func (h *Heap) IsAllocated(addr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(addr)
	if i == invalidIndex {
		return false
	}
	if addr != h.addressOf(i) {
		return false
	}
	return h.slabs[i].state == Allocated
}

// GetAllocationSize returns the allocated (post-alignment-rounding) size of
// the block whose body pointer is ptr, or 0 if ptr does not identify a
// currently Allocated block.
func (h *Heap) GetAllocationSize(ptr uintptr) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(ptr)
	if i == invalidIndex {
		return 0
	}
	rec := &h.slabs[i]
	if rec.state != Allocated || rec.desc.Body != ptr {
		return 0
	}
	return uint32(rec.desc.BodySize)
}

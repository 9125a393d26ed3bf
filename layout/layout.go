// Package layout computes the header/body/trailer offsets of a single
// guarded block within one slab's even page. The heap calls it on every
// AllocateBlock.
//
// The defining placement rule: the body must end exactly at the start of
// the slab's guard (odd) page, and the body's start address must be a
// multiple of the shadow ratio. Because the body's end is pinned to a
// fixed offset (the page size) and the shadow ratio divides the page size,
// the only way to satisfy both constraints for an arbitrary requested size
// is to round the body up to the shadow ratio before placing it - the same
// technique ASan-style allocators use to align shadow-memory regions.
// GetAllocationSize therefore reports the rounded size, not the raw request.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package layout

import (
	"github.com/pkg/errors"

	"github.com/zebrasys/zebrasys/cmn"
)

// Layout is the computed placement of one block within a slab's even page.
// All offsets are relative to the start of the even page.
type Layout struct {
	HeaderSize     int64 // reserved for an in-band header; zebrasys keeps metadata out-of-band, so this is always 0
	HeaderPadding  int64 // left redzone: bytes between the header and the body, >= the caller's minLeftRZ
	BodyOffset     int64 // offset of the body's first byte within the even page
	BodySize       int64 // body size after rounding up to the alignment requirement
	TrailerPadding int64 // right redzone living inside the even page (always 0: the body is flush against the guard page)
	TrailerSize    int64 // right redzone available in the guard page itself
	TotalSize      int64 // HeaderPadding + BodySize == the full even page
}

// ComputeLayout places a body of the requested size within a page-sized
// even page such that the body ends exactly at pageSize (the start of the
// slab's guard page), body start is a multiple of bodyAlignment, and the
// header-to-body gap is at least minLeftRZ. It fails if the rounded body
// plus the minimum left redzone cannot fit in one page, or if the caller's
// minimum right redzone exceeds what the guard page can offer.
func ComputeLayout(bodySize, minLeftRZ, minRightRZ, bodyAlignment, pageSize int64) (Layout, error) {
	if bodySize < 0 || minLeftRZ < 0 || minRightRZ < 0 {
		return Layout{}, errors.New("layout: negative size or redzone")
	}
	if !cmn.IsPowerOfTwo(bodyAlignment) {
		return Layout{}, errors.Errorf("layout: alignment %d is not a power of two", bodyAlignment)
	}
	if pageSize%bodyAlignment != 0 {
		return Layout{}, errors.Errorf("layout: page size %d is not a multiple of alignment %d", pageSize, bodyAlignment)
	}
	if minRightRZ > pageSize {
		return Layout{}, errors.Errorf("layout: minimum right redzone %d exceeds guard page size %d", minRightRZ, pageSize)
	}

	roundedBody := cmn.AlignUp(bodySize, bodyAlignment)
	bodyOffset := pageSize - roundedBody
	if bodyOffset < minLeftRZ {
		return Layout{}, errors.Errorf("layout: body of %d bytes (rounded from %d) leaves only %d bytes for a %d-byte left redzone",
			roundedBody, bodySize, bodyOffset, minLeftRZ)
	}

	return Layout{
		HeaderSize:     0,
		HeaderPadding:  bodyOffset,
		BodyOffset:     bodyOffset,
		BodySize:       roundedBody,
		TrailerPadding: 0,
		TrailerSize:    pageSize, // the entire guard page acts as the trailer
		TotalSize:      bodyOffset + roundedBody,
	}, nil
}

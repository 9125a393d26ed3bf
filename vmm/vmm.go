// Package vmm wraps the handful of virtual-memory system calls the zebra
// block heap needs: reserve a contiguous anonymous mapping, release it, and
// flip a sub-range between read-write and no-access, driving mmap and
// mprotect directly through golang.org/x/sys/unix rather than through cgo.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package vmm

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/zebrasys/zebrasys/cmn"
	"github.com/zebrasys/zebrasys/sys"
)

// ProtMode selects the accessibility of a mapped range.
type ProtMode int

const (
	NoAccess ProtMode = iota
	ReadWrite
)

// Region is a single contiguous anonymous mapping. Base is the address of
// byte zero; Bytes is the backing slice the Go runtime will not move or
// collect for as long as the Region is referenced.
type Region struct {
	Base  uintptr
	Bytes []byte
}

// Reserve maps size bytes (rounded up by the caller to a page multiple) of
// anonymous, initially read-write memory. The mapping is not backed by any
// file and is private to this process.
func Reserve(size int64) (*Region, error) {
	if size <= 0 {
		return nil, errors.Errorf("vmm: invalid reservation size %d", size)
	}
	if aligned := cmn.AlignUp(size, sys.PageSize()); aligned != size {
		return nil, errors.Errorf("vmm: reservation size %d is not a multiple of the page size %d", size, sys.PageSize())
	}
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "vmm: mmap %d bytes", size)
	}
	return &Region{
		Base:  uintptr(unsafe.Pointer(&b[0])),
		Bytes: b,
	}, nil
}

// Release unmaps the region. The Region must not be used afterward.
func Release(r *Region) error {
	if r == nil || r.Bytes == nil {
		return nil
	}
	if err := unix.Munmap(r.Bytes); err != nil {
		return errors.Wrap(err, "vmm: munmap")
	}
	r.Bytes = nil
	r.Base = 0
	return nil
}

// Protect changes the accessibility of the length bytes starting at addr,
// which must lie within a previously reserved Region and be page-aligned.
// Switching a range to NoAccess is what turns a slab's odd page into a
// guard page: any read or write to it afterward faults.
func (r *Region) Protect(addr uintptr, length int64, mode ProtMode) error {
	off := int64(addr) - int64(r.Base)
	if off < 0 || off+length > int64(len(r.Bytes)) {
		return errors.Errorf("vmm: protect range [%d,%d) out of bounds for region of size %d", off, off+length, len(r.Bytes))
	}
	sub := r.Bytes[off : off+length]
	var prot int
	switch mode {
	case NoAccess:
		prot = unix.PROT_NONE
	case ReadWrite:
		prot = unix.PROT_READ | unix.PROT_WRITE
	default:
		return errors.Errorf("vmm: unknown protection mode %d", mode)
	}
	if err := unix.Mprotect(sub, prot); err != nil {
		return errors.Wrapf(err, "vmm: mprotect [%d,%d) mode=%d", addr, addr+uintptr(length), mode)
	}
	return nil
}

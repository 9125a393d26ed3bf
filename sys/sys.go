// Package sys provides process-wide system constants and memory probes
// consumed by vmm and zheap, mirroring aistore's sys package (sys.Mem()
// as called from memsys.MMSA.Init).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	pageSizeOnce sync.Once
	pageSize     int64
)

// PageSize returns the process page size, cached after the first call.
func PageSize() int64 {
	pageSizeOnce.Do(func() {
		pageSize = int64(unix.Getpagesize())
	})
	return pageSize
}

// MemInfo is a minimal snapshot of system memory, enough for a reservation
// sizing sanity check; it is not on the correctness-critical path of the
// allocator core.
type MemInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// Mem reports current system memory via sysinfo(2), which makes this
// package Linux-only. On failure it returns a zero-value MemInfo together
// with the error; callers must not treat a zero MemInfo as authoritative.
func Mem() (MemInfo, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			return MemInfo{}, errno
		}
		return MemInfo{}, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return MemInfo{
		TotalBytes: uint64(si.Totalram) * unit,
		FreeBytes:  uint64(si.Freeram) * unit,
	}, nil
}

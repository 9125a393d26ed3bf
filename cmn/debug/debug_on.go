// +build debug

// Package debug provides assertions and tracing that compile to zero cost
// in release builds. Build with `-tags debug` to enable.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

// Enabled is true when the binary was built with the "debug" tag.
const Enabled = true

// Assert panics if cond is false. Invariant checks guarded by this call are
// compiled out entirely in release builds.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Infof logs a debug-only trace line.
func Infof(format string, args ...interface{}) {
	glog.Infof(format, args...)
}

// Package notify provides a narrow interface the heap calls on reservation,
// internal use, and release events for telemetry, plus a default
// glog-backed implementation. Notifier failures are logged and ignored -
// they are never on the correctness-critical allocation path.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package notify

import (
	"github.com/golang/glog"
	"github.com/google/uuid"
)

// Range describes a byte range the heap wants to report on.
type Range struct {
	Addr uintptr
	Size int64
}

// Notifier receives telemetry events from a heap. Implementations must not
// call back into the heap that invokes them: NotifyReturnedToOS is called
// while the heap's lock is held, and NotifyReservation and NotifyInternalUse
// are called from inside the heap's constructor, before it is returned.
type Notifier interface {
	NotifyReservation(r Range)
	NotifyInternalUse(r Range)
	NotifyReturnedToOS(r Range)
}

// glogNotifier is the default Notifier: it logs each event at verbosity 2,
// tagged with a per-heap-instance UUID so multiple zebra heaps in one
// process can be told apart in the log stream.
type glogNotifier struct {
	tag string
}

// NewDefault returns the default glog-backed Notifier.
func NewDefault() Notifier {
	return &glogNotifier{tag: uuid.NewString()[:8]}
}

func (n *glogNotifier) NotifyReservation(r Range) {
	if glog.V(2) {
		glog.Infof("[zheap %s] reserved range [0x%x, 0x%x)", n.tag, r.Addr, r.Addr+uintptr(r.Size))
	}
}

func (n *glogNotifier) NotifyInternalUse(r Range) {
	if glog.V(2) {
		glog.Infof("[zheap %s] internal use range [0x%x, 0x%x)", n.tag, r.Addr, r.Addr+uintptr(r.Size))
	}
}

func (n *glogNotifier) NotifyReturnedToOS(r Range) {
	if glog.V(2) {
		glog.Infof("[zheap %s] returned to OS range [0x%x, 0x%x)", n.tag, r.Addr, r.Addr+uintptr(r.Size))
	}
}

// Noop discards every event; useful in tests that don't want log noise.
func Noop() Notifier { return noopNotifier{} }

type noopNotifier struct{}

func (noopNotifier) NotifyReservation(Range)  {}
func (noopNotifier) NotifyInternalUse(Range)  {}
func (noopNotifier) NotifyReturnedToOS(Range) {}

// Package hk provides a minimal house-keeping registrar: named callbacks
// invoked on their own periodic schedule from a single background
// goroutine. zheap uses it to flush quarantine statistics the same way
// aistore's memsys.MMSA registers its garbage-collection callback via
// hk.Reg(name, fn, interval) and tears it down with hk.Unreg(name) in
// Terminate.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/zebrasys/zebrasys/cmn"
)

// CallbackFunc runs one house-keeping tick and returns the delay until its
// next run (allowing callbacks to back off or speed up over time).
type CallbackFunc func() time.Duration

type job struct {
	name  string
	id    string
	f     CallbackFunc
	fire  time.Time
	index int // position in the heap, maintained by container/heap
}

type jobQueue []*job

func (q jobQueue) Len() int            { return len(q) }
func (q jobQueue) Less(i, j int) bool  { return q[i].fire.Before(q[j].fire) }
func (q jobQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *jobQueue) Push(x interface{}) { j := x.(*job); j.index = len(*q); *q = append(*q, j) }
func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return j
}

// HouseKeeper runs a set of named, independently-scheduled callbacks on one
// background goroutine.
type HouseKeeper struct {
	mu      sync.Mutex
	byName  map[string]*job
	q       jobQueue
	wake    chan struct{}
	stopCh  *cmn.StopCh
	started bool
}

// New constructs an unstarted HouseKeeper. Call Run in its own goroutine to
// start processing registrations.
func New() *HouseKeeper {
	return &HouseKeeper{
		byName: make(map[string]*job),
		wake:   make(chan struct{}, 1),
		stopCh: cmn.NewStopCh(),
	}
}

// DefaultHK is the process-wide house-keeper, mirroring aistore's
// package-level default: most binaries only ever need one.
var DefaultHK = New()

// Reg registers (or replaces) a named callback on DefaultHK, to run first
// after the given interval.
func Reg(name string, f CallbackFunc, interval time.Duration) { DefaultHK.Reg(name, f, interval) }

// Unreg removes a named callback from DefaultHK.
func Unreg(name string) { DefaultHK.Unreg(name) }

// Reg registers (or replaces) a named callback, to run first after the
// given interval.
func (hk *HouseKeeper) Reg(name string, f CallbackFunc, interval time.Duration) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if old, ok := hk.byName[name]; ok {
		hk.removeLocked(old)
	}
	j := &job{name: name, id: uuid.NewString(), f: f, fire: time.Now().Add(interval)}
	hk.byName[name] = j
	heap.Push(&hk.q, j)
	hk.nudge()
}

// Unreg removes a named callback; it is a no-op if the name is not
// registered.
func (hk *HouseKeeper) Unreg(name string) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if j, ok := hk.byName[name]; ok {
		hk.removeLocked(j)
	}
}

func (hk *HouseKeeper) removeLocked(j *job) {
	delete(hk.byName, j.name)
	if j.index >= 0 && j.index < len(hk.q) && hk.q[j.index] == j {
		heap.Remove(&hk.q, j.index)
	}
}

func (hk *HouseKeeper) nudge() {
	select {
	case hk.wake <- struct{}{}:
	default:
	}
}

// Run processes due callbacks until Stop is called. It is meant to run in
// its own goroutine, the same way aistore's tests start `go hk.DefaultHK.Run()`.
func (hk *HouseKeeper) Run() {
	for {
		hk.mu.Lock()
		hk.started = true
		var wait time.Duration
		if len(hk.q) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(hk.q[0].fire)
			if wait < 0 {
				wait = 0
			}
		}
		hk.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-t.C:
			hk.tick()
		case <-hk.wake:
			t.Stop()
		case <-hk.stopCh.Listen():
			t.Stop()
			return
		}
	}
}

func (hk *HouseKeeper) tick() {
	now := time.Now()
	for {
		hk.mu.Lock()
		if len(hk.q) == 0 || hk.q[0].fire.After(now) {
			hk.mu.Unlock()
			return
		}
		j := heap.Pop(&hk.q).(*job)
		hk.mu.Unlock()

		next := j.f()
		glog.V(3).Infof("hk: %q ran, next in %s", j.name, next)

		hk.mu.Lock()
		if _, ok := hk.byName[j.name]; ok && hk.byName[j.name].id == j.id {
			j.fire = now.Add(next)
			heap.Push(&hk.q, j)
		}
		hk.mu.Unlock()
	}
}

// Stop terminates the Run loop.
func (hk *HouseKeeper) Stop() { hk.stopCh.Close() }

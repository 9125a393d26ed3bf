package zheap_test

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"unsafe"

	"github.com/zebrasys/zebrasys/zheap"
)

func newTestHeap(t *testing.T, slabs int64, ratio float64) *zheap.Heap {
	t.Helper()
	h, err := zheap.New(zheap.Options{
		Name:            fmt.Sprintf("test-%s", t.Name()),
		Slabs:           slabs,
		QuarantineRatio: ratio,
	})
	if err != nil {
		t.Fatalf("zheap.New: %v", err)
	}
	t.Cleanup(h.Terminate)
	return h
}

// S1: construct. Expect slabs free slabs, 0 allocated, 0 quarantined.
func TestConstructionStartsAllFree(t *testing.T) {
	h := newTestHeap(t, 8, 0.25)
	s := h.Stats()
	if s.CurrentAllocated != 0 || s.CurrentQuarantined != 0 {
		t.Fatalf("expected zero allocated/quarantined at construction, got %+v", s)
	}
	if h.SlabCount() != 8 {
		t.Fatalf("expected 8 slabs, got %d", h.SlabCount())
	}
	if h.SlabSize() != 2*h.PageSize() {
		t.Fatalf("slab size %d != 2*pageSize %d", h.SlabSize(), h.PageSize())
	}
}

// S2: placement flushes the body against the guard page and respects the
// shadow-memory alignment.
func TestAllocateBlockFlushesToGuardPage(t *testing.T) {
	h := newTestHeap(t, 8, 0.25)
	ptr, info, err := h.AllocateBlock(100, 8, 8)
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	if uintptr(int64(ptr)+info.BodySize)%uintptr(h.PageSize()) != 0 {
		t.Fatalf("body does not end at a page boundary: ptr=%#x size=%d", ptr, info.BodySize)
	}
	if ptr%8 != 0 {
		t.Fatalf("body pointer %#x not aligned to shadow ratio 8", ptr)
	}
	if info.BodySize < 100 {
		t.Fatalf("allocated body size %d smaller than requested 100", info.BodySize)
	}
}

// S3: raw Allocate rejects anything bigger than one page.
func TestAllocateRejectsOversize(t *testing.T) {
	h := newTestHeap(t, 8, 0.25)
	if _, err := h.Allocate(h.PageSize() + 1); err != zheap.ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

// S4: the free list is exhausted after slabCount allocations.
func TestAllocateBlockExhaustsCapacity(t *testing.T) {
	h := newTestHeap(t, 8, 0.25)
	for i := 0; i < 8; i++ {
		if _, _, err := h.AllocateBlock(64, 0, 0); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	if _, _, err := h.AllocateBlock(64, 0, 0); err != zheap.ErrOutOfCapacity {
		t.Fatalf("expected ErrOutOfCapacity on the 9th allocation, got %v", err)
	}
}

// S5: with the default ratio (0), every Push immediately requires a trim,
// and Pop hands back the same descriptor it just quarantined.
func TestPushPopRoundTrip(t *testing.T) {
	h := newTestHeap(t, 8, 0)
	_, info, err := h.AllocateBlock(64, 0, 0)
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	outcome, err := h.Push(info)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if outcome != zheap.SyncTrimRequired {
		t.Fatalf("expected SyncTrimRequired, got %v", outcome)
	}
	res := h.Pop()
	if res.Empty {
		t.Fatal("expected a popped entry, got Empty")
	}
	if res.Info != info {
		t.Fatalf("popped descriptor %+v != pushed %+v", res.Info, info)
	}
	if res.Color != zheap.Green {
		t.Fatalf("expected Green, got %v", res.Color)
	}
	if got := h.Stats().CurrentQuarantined; got != 0 {
		t.Fatalf("expected 0 quarantined after trim, got %d", got)
	}
}

// S6: with ratio=0.25 over 8 slabs (cap=2), three push/pop pairs never let
// the quarantine exceed its cap.
func TestQuarantineRatioCap(t *testing.T) {
	h := newTestHeap(t, 8, 0.25)
	var infos []zheap.BlockInfo
	for i := 0; i < 3; i++ {
		_, info, err := h.AllocateBlock(64, 0, 0)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		infos = append(infos, info)
	}
	for _, info := range infos {
		outcome, err := h.Push(info)
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if outcome == zheap.SyncTrimRequired {
			if r := h.Pop(); r.Empty {
				t.Fatal("SyncTrimRequired but Pop returned Empty")
			}
		}
		if got := h.Stats().CurrentQuarantined; got > 2 {
			t.Fatalf("quarantine depth %d exceeds cap 2", got)
		}
	}
}

// S7: FreeBlock on a foreign address is rejected without mutating state.
func TestFreeBlockRejectsForeignAddress(t *testing.T) {
	h := newTestHeap(t, 8, 0.25)
	foreign := zheap.BlockInfo{SlabIndex: 0, Header: 0xdeadbeef, Body: 0xdeadbeef, BodySize: 8}
	if h.FreeBlock(foreign) {
		t.Fatal("expected FreeBlock to reject an out-of-range descriptor")
	}
	if h.Free(0xdeadbeef) {
		t.Fatal("expected Free to reject a foreign address")
	}
	s := h.Stats()
	if s.Frees != 0 {
		t.Fatalf("expected no recorded frees, got %d", s.Frees)
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	h := newTestHeap(t, 4, 0)
	ptr, _, err := h.AllocateBlock(32, 0, 0)
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	if !h.Free(ptr) {
		t.Fatal("first Free should succeed")
	}
	if h.Free(ptr) {
		t.Fatal("second Free of the same pointer should be rejected")
	}
}

func TestPushOnFreeSlabRejected(t *testing.T) {
	h := newTestHeap(t, 4, 0)
	_, info, err := h.AllocateBlock(32, 0, 0)
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	if !h.FreeBlock(info) {
		t.Fatal("FreeBlock should succeed on a freshly allocated slab")
	}
	if outcome, err := h.Push(info); err != zheap.ErrWrongState || outcome != zheap.Rejected {
		t.Fatalf("expected Rejected/ErrWrongState pushing a Free slab, got outcome=%v err=%v", outcome, err)
	}
}

func TestIsAllocatedExactHeaderOnly(t *testing.T) {
	h := newTestHeap(t, 4, 0)
	ptr, info, err := h.AllocateBlock(32, 0, 0)
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	if h.IsAllocated(ptr) {
		t.Fatal("IsAllocated must be false for an interior (body) pointer under the exact-header interpretation")
	}
	if !h.IsAllocated(info.Header) {
		t.Fatal("IsAllocated must be true for the exact header address")
	}
}

func TestEmptyDrainsQuarantineInFIFOOrder(t *testing.T) {
	h := newTestHeap(t, 4, 1) // cap = floor(1*4) = 4, nothing auto-trims
	var infos []zheap.BlockInfo
	for i := 0; i < 3; i++ {
		_, info, err := h.AllocateBlock(16, 0, 0)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		infos = append(infos, info)
		if _, err := h.Push(info); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	drained := h.Empty()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained entries, got %d", len(drained))
	}
	for i, info := range infos {
		if drained[i] != info {
			t.Fatalf("Empty()[%d] = %+v, want %+v (FIFO order)", i, drained[i], info)
		}
	}
	if h.Stats().CurrentQuarantined != 0 {
		t.Fatalf("expected 0 quarantined after Empty, got %d", h.Stats().CurrentQuarantined)
	}
}

func TestSetQuarantineRatioIdempotent(t *testing.T) {
	h := newTestHeap(t, 8, 0)
	if err := h.SetQuarantineRatio(0.5); err != nil {
		t.Fatalf("SetQuarantineRatio: %v", err)
	}
	first := h.QuarantineRatio()
	if err := h.SetQuarantineRatio(0.5); err != nil {
		t.Fatalf("SetQuarantineRatio (again): %v", err)
	}
	if h.QuarantineRatio() != first {
		t.Fatalf("ratio changed on repeated identical SetQuarantineRatio: %v != %v", h.QuarantineRatio(), first)
	}
	if err := h.SetQuarantineRatio(1.5); err == nil {
		t.Fatal("expected error for ratio outside [0,1]")
	}
}

// TestGuardPageFaults is the crash half of a two-process test: with
// ZHEAP_GUARD_CRASH_TEST=1 set it performs an out-of-bounds write into the
// guard page and is expected to die from SIGSEGV; otherwise it skips.
// TestGuardPageFaultsSubprocess re-execs it with that variable set and
// checks that it did.
func TestGuardPageFaults(t *testing.T) {
	if os.Getenv("ZHEAP_GUARD_CRASH_TEST") != "1" {
		t.Skip("only runs as a subprocess of TestGuardPageFaultsSubprocess")
	}
	h, err := zheap.New(zheap.Options{Name: "crash-test", Slabs: 1})
	if err != nil {
		t.Fatalf("zheap.New: %v", err)
	}
	ptr, info, err := h.AllocateBlock(100, 8, 8)
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	guard := (*byte)(unsafe.Pointer(uintptr(int64(ptr) + info.BodySize)))
	*guard = 1 // must fault: this byte lives on the guard page
	t.Fatal("write into guard page did not fault")
}

func TestGuardPageFaultsSubprocess(t *testing.T) {
	if os.Getenv("ZHEAP_GUARD_CRASH_TEST") == "1" {
		t.Skip("this is the parent driver, not the crashing child")
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestGuardPageFaults")
	cmd.Env = append(os.Environ(), "ZHEAP_GUARD_CRASH_TEST=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatal("expected the subprocess to crash on a guard-page write, it exited cleanly")
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.Success() {
		t.Fatal("expected subprocess failure from a guard-page fault")
	}
	if !strings.Contains(string(out), "SIGSEGV") {
		t.Fatalf("expected the subprocess to die from SIGSEGV, got:\n%s", out)
	}
}

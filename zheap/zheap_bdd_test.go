package zheap_test

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/zebrasys/zebrasys/zheap"
)

var _ = Describe("ZHeap", func() {
	var h *zheap.Heap

	newHeap := func(name string, slabs int64, ratio float64) *zheap.Heap {
		heap, err := zheap.New(zheap.Options{Name: name, Slabs: slabs, QuarantineRatio: ratio})
		Expect(err).NotTo(HaveOccurred())
		return heap
	}

	AfterEach(func() {
		if h != nil {
			h.Terminate()
			h = nil
		}
	})

	Describe("reservation", func() {
		It("reserves slab_size * slabs bytes and starts fully free", func() {
			h = newHeap(fmt.Sprintf("bdd-reserve-%d", GinkgoParallelNode()), 16, 0.25)
			Expect(h.HeapSize()).To(Equal(h.SlabSize() * h.SlabCount()))
			Expect(h.Stats().CurrentAllocated).To(BeZero())
			Expect(h.Stats().CurrentQuarantined).To(BeZero())
		})
	})

	Describe("AllocateBlock", func() {
		BeforeEach(func() {
			h = newHeap(fmt.Sprintf("bdd-alloc-%d", GinkgoParallelNode()), 16, 0.25)
		})

		It("flushes the body against the guard page for a range of sizes", func() {
			for _, size := range []int64{1, 7, 8, 9, 63, 100} {
				ptr, info, err := h.AllocateBlock(size, 8, 8)
				Expect(err).NotTo(HaveOccurred())
				Expect((int64(ptr) + info.BodySize) % h.PageSize()).To(BeZero())
				Expect(ptr % 8).To(BeZero())
				Expect(info.BodySize).To(BeNumerically(">=", size))
				Expect(h.FreeBlock(info)).To(BeTrue())
			}
		})

		It("rejects a body that cannot fit alongside the left redzone", func() {
			_, _, err := h.AllocateBlock(h.PageSize(), 64, 0)
			Expect(err).To(MatchError(zheap.ErrTooLarge))
		})

		It("returns ErrOutOfCapacity once every slab is allocated", func() {
			for i := int64(0); i < h.SlabCount(); i++ {
				_, _, err := h.AllocateBlock(16, 0, 0)
				Expect(err).NotTo(HaveOccurred())
			}
			_, _, err := h.AllocateBlock(16, 0, 0)
			Expect(err).To(MatchError(zheap.ErrOutOfCapacity))
		})
	})

	Describe("the quarantine", func() {
		It("rejects pushing a slab that is not Allocated", func() {
			h = newHeap(fmt.Sprintf("bdd-q-reject-%d", GinkgoParallelNode()), 4, 0.5)
			_, info, err := h.AllocateBlock(16, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.FreeBlock(info)).To(BeTrue())

			outcome, pushErr := h.Push(info)
			Expect(outcome).To(Equal(zheap.Rejected))
			Expect(pushErr).To(MatchError(zheap.ErrWrongState))
		})

		It("keeps depth at or below floor(ratio*slabCount) across repeated push/pop", func() {
			h = newHeap(fmt.Sprintf("bdd-q-cap-%d", GinkgoParallelNode()), 8, 0.25)
			cap := int64(0.25 * 8)

			for i := 0; i < 10; i++ {
				_, info, err := h.AllocateBlock(16, 0, 0)
				Expect(err).NotTo(HaveOccurred())
				outcome, err := h.Push(info)
				Expect(err).NotTo(HaveOccurred())
				Expect(h.Stats().CurrentQuarantined).To(BeNumerically("<=", cap+1))
				if outcome == zheap.SyncTrimRequired {
					res := h.Pop()
					Expect(res.Empty).To(BeFalse())
					Expect(res.Color).To(Equal(zheap.Green))
				}
				Expect(h.Stats().CurrentQuarantined).To(BeNumerically("<=", cap))
			}
		})

		It("hands back descriptors in FIFO order", func() {
			h = newHeap(fmt.Sprintf("bdd-q-fifo-%d", GinkgoParallelNode()), 4, 1)
			var pushed []zheap.BlockInfo
			for i := 0; i < 4; i++ {
				_, info, err := h.AllocateBlock(16, 0, 0)
				Expect(err).NotTo(HaveOccurred())
				pushed = append(pushed, info)
				_, err = h.Push(info)
				Expect(err).NotTo(HaveOccurred())
			}
			for _, want := range pushed {
				res := h.Pop()
				Expect(res.Empty).To(BeFalse())
				Expect(res.Info).To(Equal(want))
			}
			Expect(h.Pop().Empty).To(BeTrue())
		})

		It("is idempotent under repeated SetQuarantineRatio calls with the same value", func() {
			h = newHeap(fmt.Sprintf("bdd-q-ratio-%d", GinkgoParallelNode()), 8, 0)
			Expect(h.SetQuarantineRatio(0.5)).To(Succeed())
			before := h.QuarantineRatio()
			Expect(h.SetQuarantineRatio(0.5)).To(Succeed())
			Expect(h.QuarantineRatio()).To(Equal(before))
			Expect(h.SetQuarantineRatio(-0.1)).To(HaveOccurred())
		})
	})

	Describe("IsAllocated", func() {
		It("is true only for the exact header address of an Allocated slab", func() {
			h = newHeap(fmt.Sprintf("bdd-isalloc-%d", GinkgoParallelNode()), 4, 0)
			ptr, info, err := h.AllocateBlock(16, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.IsAllocated(info.Header)).To(BeTrue())
			if ptr != info.Header {
				Expect(h.IsAllocated(ptr)).To(BeFalse())
			}
			Expect(h.FreeBlock(info)).To(BeTrue())
			Expect(h.IsAllocated(info.Header)).To(BeFalse())
		})
	})
})

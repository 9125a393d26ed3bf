package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/golang/glog"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/zebrasys/zebrasys/zheap"
)

func runStress(c *cli.Context) error {
	scn, err := loadScenario(c.String("scenario"))
	if err != nil {
		return err
	}
	if d := c.Duration("duration"); d > 0 {
		scn.Duration = d
	}
	workers := c.Int("workers")
	if workers <= 0 {
		workers = 1
	}

	h, err := zheap.New(zheap.Options{
		Name:            scn.Name,
		Slabs:           scn.Slabs,
		QuarantineRatio: scn.QuarantineRatio,
	})
	if err != nil {
		return err
	}
	defer h.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), scn.Duration)
	defer cancel()

	// totalOps is incremented by every worker goroutine without going
	// through the heap's own lock, so it needs its own atomic counter
	// rather than a plain int64.
	var totalOps atomic.Int64

	text := "ops: "
	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.AddBar(
		int64(scn.Duration/time.Second),
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: len(text) + 2, C: decor.DSyncWidthR}),
			decor.CountersNoUnit("%d/%d s", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
	)
	stopTicker := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				bar.Increment()
			case <-stopTicker:
				return
			}
		}
	}()
	defer close(stopTicker)

	group, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		group.Go(func() error {
			return stressWorker(gctx, h, scn, w, &totalOps)
		})
	}
	if err := group.Wait(); err != nil && err != context.DeadlineExceeded {
		return err
	}

	progress.Wait()
	s := h.Stats()
	glog.Infof("zheapstress %q done: ops=%d allocations=%d frees=%d quarantine-pushes=%d quarantine-trims=%d out-of-capacity=%d too-large=%d peak-allocated=%d peak-quarantined=%d",
		scn.Name, totalOps.Load(), s.Allocations, s.Frees, s.QuarantinePushes, s.QuarantineTrims, s.OutOfCapacityCount, s.TooLargeCount, s.PeakAllocated, s.PeakQuarantined)
	return nil
}

// stressWorker repeatedly allocates a block, randomly either frees it
// directly or quarantines it and pops as soon as a sync trim is required,
// until ctx is done.
func stressWorker(ctx context.Context, h *zheap.Heap, scn Scenario, id int, totalOps *atomic.Int64) error {
	rng := rand.New(rand.NewSource(int64(id) + 1))
	span := scn.MaxBodySize - scn.MinBodySize
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		size := scn.MinBodySize
		if span > 0 {
			size += rng.Int63n(span + 1)
		}
		_, info, err := h.AllocateBlock(size, scn.LeftRedzone, scn.RightRedzone)
		if err == zheap.ErrOutOfCapacity {
			continue
		}
		if err != nil {
			return err
		}

		if rng.Intn(2) == 0 {
			h.FreeBlock(info)
		} else {
			outcome, err := h.Push(info)
			if err != nil {
				return err
			}
			if outcome == zheap.SyncTrimRequired {
				h.Pop()
			}
		}
		totalOps.Inc()
	}
}

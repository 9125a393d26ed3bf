package zheap

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/zebrasys/zebrasys/hk"
	"github.com/zebrasys/zebrasys/notify"
)

const (
	defaultStatsFlush  = 90 * time.Second // mirrors memsys's memCheckAbove
	defaultMinSlabs    = 1
	defaultShadowRatio = 8
)

// Options configures a Heap at construction time, mirroring memsys.MMSA's
// constructor-plus-env pattern: a plain struct of tunables, finished off by
// an env() pass that lets a couple of environment variables override the
// hard-coded defaults without a code change.
type Options struct {
	// Name identifies this heap instance in logs and house-keeping job
	// names; required, since multiple Heap instances may coexist in one
	// process.
	Name string

	// Slabs is the number of (even, odd) page pairs to reserve. Must be >0.
	Slabs int64

	// QuarantineRatio is the initial fraction of heap_size (by slab count)
	// that may sit in the Quarantined state. Defaults to 0, meaning every
	// Push requires an immediate trim until raised via SetQuarantineRatio.
	QuarantineRatio float64

	// Notifier receives telemetry events. Defaults to a glog-backed
	// notifier tagged with a per-instance UUID.
	Notifier notify.Notifier

	// HK is the house-keeper used to schedule the periodic stats flush.
	// Defaults to hk.DefaultHK.
	HK *hk.HouseKeeper

	// StatsFlushInterval controls how often the registered house-keeping
	// callback logs a Stats snapshot. Defaults to 90s.
	StatsFlushInterval time.Duration

	// ShadowRatio is the alignment every AllocateBlock body pointer must
	// satisfy, per the sanitizer's shadow-memory requirement. Must be a
	// power of two. Defaults to 8.
	ShadowRatio int64
}

// env applies ZHEAP_QUARANTINE_RATIO and ZHEAP_RESERVATION_SLABS overrides,
// the same way MMSA.env() reads AIS_MINMEM_*.
func (o *Options) env() error {
	if v := os.Getenv("ZHEAP_QUARANTINE_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, "zheap: cannot parse ZHEAP_QUARANTINE_RATIO")
		}
		if r < 0 || r > 1 {
			return errors.Errorf("zheap: ZHEAP_QUARANTINE_RATIO %v outside [0,1]", r)
		}
		o.QuarantineRatio = r
	}
	if v := os.Getenv("ZHEAP_RESERVATION_SLABS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "zheap: cannot parse ZHEAP_RESERVATION_SLABS")
		}
		if n <= 0 {
			return errors.Errorf("zheap: ZHEAP_RESERVATION_SLABS must be positive, got %d", n)
		}
		o.Slabs = n
	}
	return nil
}

func (o *Options) setDefaults() {
	if o.Notifier == nil {
		o.Notifier = notify.NewDefault()
	}
	if o.HK == nil {
		o.HK = hk.DefaultHK
	}
	if o.StatsFlushInterval == 0 {
		o.StatsFlushInterval = defaultStatsFlush
	}
	if o.Slabs <= 0 {
		o.Slabs = defaultMinSlabs
	}
	if o.ShadowRatio <= 0 {
		o.ShadowRatio = defaultShadowRatio
	}
}

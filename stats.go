package weir

import (
	"sync/atomic"
	"time"
)

// Stats is the snapshot App.Stats returns when performance hooks are
// enabled: a running dispatch count and cumulative latency, from which an
// average dispatch time can be derived.
type Stats struct {
	DispatchCount int64
	TotalDuration time.Duration
}

// perfHooks accumulates the counters Stats is built from. A disabled
// perfHooks records nothing, so the hot path pays only an atomic-free
// boolean check.
type perfHooks struct {
	enabled bool
	count   int64
	nanos   int64
}

func newPerfHooks(enabled bool) *perfHooks {
	return &perfHooks{enabled: enabled}
}

func (p *perfHooks) record(d time.Duration) {
	if !p.enabled {
		return
	}
	atomic.AddInt64(&p.count, 1)
	atomic.AddInt64(&p.nanos, int64(d))
}

func (p *perfHooks) snapshot() Stats {
	return Stats{
		DispatchCount: atomic.LoadInt64(&p.count),
		TotalDuration: time.Duration(atomic.LoadInt64(&p.nanos)),
	}
}

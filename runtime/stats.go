package runtime

import (
	"sync/atomic"

	"github.com/opd-ai/meshcore/decode"
)

// Stats is a point-in-time snapshot of the operational counters named in
// spec §7 ("Operational counters (Drop/Delay rates) are plain uint64
// atomics").
type Stats struct {
	Admitted uint64
	Dropped  uint64
	Delayed  uint64
}

type stats struct {
	admitted uint64
	dropped  uint64
	delayed  uint64
}

func (s *stats) recordAdmitted() { atomic.AddUint64(&s.admitted, 1) }
func (s *stats) recordDropped()  { atomic.AddUint64(&s.dropped, 1) }
func (s *stats) recordDelayed()  { atomic.AddUint64(&s.delayed, 1) }

func (s *stats) snapshot() Stats {
	return Stats{
		Admitted: atomic.LoadUint64(&s.admitted),
		Dropped:  atomic.LoadUint64(&s.dropped),
		Delayed:  atomic.LoadUint64(&s.delayed),
	}
}

// RecordOutcome folds a decode.Outcome's classification into the Runtime's
// counters. Call it once per packet handled, after Decode returns.
func (rt *Runtime) RecordOutcome(outcome decode.Outcome) {
	switch outcome.Kind {
	case decode.KindOK:
		rt.stats.recordAdmitted()
	case decode.KindDrop:
		rt.stats.recordDropped()
	case decode.KindDelay:
		rt.stats.recordDelayed()
	}
}

// Stats returns a snapshot of the Runtime's operational counters.
func (rt *Runtime) Stats() Stats {
	return rt.stats.snapshot()
}

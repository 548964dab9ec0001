package store

import (
	"context"
	"time"

	"privateer/log"
	"privateer/util"
)

// Scheduler drives C6: a fixed-interval flush tick (default 3s) and a
// slower reap tick (default 1800s), grounded on original_source/margay's
// schedule.py Timer loop generalized onto chihaya's context-aware
// ticker helper (util/context_ticker.go).
type Scheduler struct {
	Store *Store

	FlushInterval time.Duration
	ReapInterval time.Duration
	PeersTimeout time.Duration
	DelReasonTTL time.Duration

	Flush func()
}

func NewScheduler(s *Store, flush func()) *Scheduler {
	return &Scheduler{
		Store: s,
		FlushInterval: 3 * time.Second,
		ReapInterval: 1800 * time.Second,
		PeersTimeout: 7200 * time.Second,
		DelReasonTTL: 86400 * time.Second,
		Flush: flush,
	}
}

// Run blocks until ctx is cancelled, ticking flush every FlushInterval and
// reaping every ReapInterval. Reaps are mutually exclusive with announces
// via the torrents-map lock.
func (sc *Scheduler) Run(ctx context.Context) {
	sinceLastReap := time.Duration(0)

	util.ContextTick(ctx, sc.FlushInterval, func() {
		if sc.Flush != nil {
			sc.Flush()
		}

		sinceLastReap += sc.FlushInterval
		if sinceLastReap >= sc.ReapInterval {
			sinceLastReap = 0
			sc.runReap()
		}
	})
}

func (sc *Scheduler) runReap() {
	now := time.Now()

	reaped, emptied := ReapPeers(sc.Store, sc.PeersTimeout, now)
	if reaped > 0 {
		log.Info.Printf("reaper: removed %d stale peers, %d torrents emptied", reaped, emptied)
	}

	if swept := sc.Store.SweepDelReasons(sc.DelReasonTTL, now); swept > 0 {
		log.Verbose.Printf("reaper: swept %d expired del-reason entries", swept)
	}
}

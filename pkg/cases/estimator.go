package cases

import (
	"sort"
	"time"

	"github.com/hpcweave/launchtest/pkg/types"
)

// TotalTimeEstimator predicts how long a set of test footprints takes to
// run inside a processor pool. Implementations must be monotonic
// non-increasing in pool size and never report less than the total work
// divided by the pool.
type TotalTimeEstimator func(costs map[string]types.Footprint, procPool int) time.Duration

// GreedyPackingEstimate simulates a first-fit schedule: tests sorted by
// descending processor need start as soon as the pool has room, and the
// estimate is the resulting makespan. The simulation never overlaps more
// than procPool processors, so the result is always at least
// sum(procs*walltime)/procPool.
func GreedyPackingEstimate(costs map[string]types.Footprint, procPool int) time.Duration {
	if len(costs) == 0 || procPool <= 0 {
		return 0
	}

	names := make([]string, 0, len(costs))
	for name := range costs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := costs[names[i]], costs[names[j]]
		if a.Procs != b.Procs {
			return a.Procs > b.Procs
		}
		return names[i] < names[j]
	})

	type alloc struct {
		end   time.Duration
		procs int
	}
	var running []alloc
	var now, makespan time.Duration
	free := procPool

	for _, name := range names {
		fp := costs[name]
		need := fp.Procs
		if need > procPool {
			need = procPool // oversized tests occupy the whole pool
		}
		if need <= 0 {
			need = 1
		}

		for free < need {
			// advance to the earliest finishing job
			earliest := -1
			for i, r := range running {
				if earliest < 0 || r.end < running[earliest].end {
					earliest = i
				}
			}
			now = running[earliest].end
			kept := running[:0]
			for _, r := range running {
				if r.end <= now {
					free += r.procs
				} else {
					kept = append(kept, r)
				}
			}
			running = kept
		}

		end := now + fp.Walltime
		running = append(running, alloc{end: end, procs: need})
		free -= need
		if end > makespan {
			makespan = end
		}
	}
	return makespan
}

// Package stats owns the background query that populates Bucket
// Records with per-group capacity and reachability snapshots.
package stats

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ebucket/ebucket/internal/circuit"
	"github.com/ebucket/ebucket/internal/storage"
	"github.com/ebucket/ebucket/pkg/types"
	"github.com/ebucket/ebucket/pkg/utils"
)

// groupQueryTimeout bounds a single group's stat query so one slow or
// unreachable backend can't stall the whole refresh cycle.
const groupQueryTimeout = 10 * time.Second

// Refresher periodically queries every configured replica group for
// its current BackendStat and keeps the latest sample per group. A
// per-group circuit breaker stops hammering a backend that is
// consistently failing.
type Refresher struct {
	store    storage.Store
	breakers *circuit.Manager
	logger   *utils.Logger

	mu    sync.RWMutex
	stats map[int32]types.BackendStat
}

// NewRefresher builds a Refresher querying store for the current
// BackendStat of the groups later passed to ScheduleUpdateAndWait.
func NewRefresher(store storage.Store, logger *utils.Logger) *Refresher {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	return &Refresher{
		store: store,
		breakers: circuit.NewManager(circuit.Config{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
		}),
		logger: logger,
		stats:  make(map[int32]types.BackendStat),
	}
}

// ScheduleUpdateAndWait queries every group in groups synchronously and
// publishes whatever succeeds before returning. Used at startup by the
// Catalog Loader, which then seeds each new Bucket Record from Stat.
func (r *Refresher) ScheduleUpdateAndWait(ctx context.Context, groups []int32) {
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(group int32) {
			defer wg.Done()
			r.refreshGroup(ctx, group)
		}(group)
	}
	wg.Wait()
}

// refreshGroup queries one group's stat behind its own circuit breaker
// and, on success, replaces the published sample for that group. A
// query failure (or an open breaker) leaves the previous sample
// untouched so a transient outage doesn't erase a bucket's last known
// good capacity reading.
func (r *Refresher) refreshGroup(ctx context.Context, group int32) {
	breaker := r.breakers.GetBreaker(groupBreakerName(group))

	var stat types.BackendStat
	err := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		queryCtx, cancel := context.WithTimeout(ctx, groupQueryTimeout)
		defer cancel()

		s, err := r.store.GroupStat(queryCtx, group)
		if err != nil {
			return err
		}
		stat = s
		return nil
	})

	if err != nil {
		r.logger.Warn("refreshGroup: group %d: stat query failed: %s", group, err)
		return
	}

	r.mu.Lock()
	r.stats[group] = stat
	r.mu.Unlock()
}

// Stat returns the latest published sample for group, and whether one
// has ever been published.
func (r *Refresher) Stat(group int32) (types.BackendStat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stat, ok := r.stats[group]
	return stat, ok
}

func groupBreakerName(group int32) string {
	return "stats-group-" + strconv.Itoa(int(group))
}

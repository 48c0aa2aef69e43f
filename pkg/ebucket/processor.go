package ebucket

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/ebucket/ebucket/internal/bucket"
	"github.com/ebucket/ebucket/internal/catalog"
	ihealth "github.com/ebucket/ebucket/internal/health"
	"github.com/ebucket/ebucket/internal/metrics"
	"github.com/ebucket/ebucket/internal/selector"
	"github.com/ebucket/ebucket/internal/stats"
	"github.com/ebucket/ebucket/internal/storage"
	"github.com/ebucket/ebucket/pkg/errors"
	"github.com/ebucket/ebucket/pkg/health"
	"github.com/ebucket/ebucket/pkg/status"
	"github.com/ebucket/ebucket/pkg/types"
	"github.com/ebucket/ebucket/pkg/utils"
)

// refreshWait bounds how long the background loop sleeps between
// catalog/stat rebuilds when it isn't woken early by Shutdown.
const refreshWait = 30 * time.Second

// healthComponent is the name the Processor registers itself under with
// its health tracker; CanRead/CanWrite are keyed off it.
const healthComponent = "processor"

// Processor is the bucket routing core's public facade. It is built
// invalid and empty; one of Init or InitCatalog must succeed before
// GetBucket or FindBucket will return anything but an error.
type Processor struct {
	store     storage.Store
	refresher *stats.Refresher
	limits    types.Limits
	logger    *utils.Logger
	health    *health.Tracker
	status    *status.Tracker
	monitor   *ihealth.Monitor
	metrics   *metrics.Collector

	mu         sync.Mutex
	metaGroups []int32
	catalogKey string // empty in static mode
	snapshot   catalog.Snapshot

	stopCh chan struct{}
	doneCh chan struct{}
}

// storageGroupComponent adapts one replica group's reachability to
// internal/health's HealthyComponent, so the Processor's Monitor can
// track and alert on it like any other monitored component.
type storageGroupComponent struct {
	store storage.Store
	group int32
}

func (c *storageGroupComponent) HealthCheck(ctx context.Context) error {
	rt, err := c.store.RouteTable(ctx)
	if err != nil {
		return err
	}
	if !rt[c.group] {
		return errors.New(errors.ErrCodeConnectionFailed, "group unreachable").
			WithComponent("processor").WithDetail("group", c.group)
	}
	return nil
}

func (c *storageGroupComponent) GetComponentName() string { return groupCheckName(c.group) }
func (c *storageGroupComponent) GetComponentType() string { return "storage" }

func groupCheckName(group int32) string {
	return "group-" + strconv.Itoa(int(group))
}

// activeSessionsProvider is an optional capability a storage.Store may
// implement to report its per-group connection pool occupancy. Stores
// that don't pool connections simply aren't probed for it.
type activeSessionsProvider interface {
	ActiveSessions(group int32) (int, bool)
}

// globalRand adapts math/rand's package-level, mutex-guarded source to
// selector.Rand, so every Processor shares one source instead of each
// minting its own.
type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// NewProcessor builds a Processor bound to store. limits governs the
// hard/soft free-fraction thresholds Weight applies; logger may be nil.
func NewProcessor(store storage.Store, limits types.Limits, logger *utils.Logger) *Processor {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	healthTracker := health.ForBucketRouting()
	healthTracker.RegisterComponent(healthComponent)

	monitor, _ := ihealth.NewMonitor(&ihealth.MonitorConfig{
		Enabled: true,
		MonitorInterval: refreshWait,
		HealthCheckConfig: &ihealth.Config{
			Enabled:       true,
			CheckInterval: refreshWait,
			Timeout:       5 * time.Second,
			MaxFailures:   3,
			HTTPEnabled:   false,
		},
		AlertingEnabled:  true,
		ReportingEnabled: false,
	})

	collector, _ := metrics.NewCollector(nil)

	return &Processor{
		store:     store,
		refresher: stats.NewRefresher(store, logger),
		limits:    limits,
		logger:    logger,
		health:    healthTracker,
		status:    status.NewTracker(status.DefaultTrackerConfig()),
		monitor:   monitor,
		metrics:   collector,
		snapshot:  catalog.Snapshot{},
	}
}

// StartMetrics starts the Processor's Prometheus metrics server. It is
// optional: GetBucket, Init, and the background refresh loop all record
// into the collector's registry regardless, so metrics can be scraped
// once this is running or left uncollected if it's never called.
func (p *Processor) StartMetrics(ctx context.Context) error {
	return p.metrics.Start(ctx)
}

// Init starts the Processor in static mode against a fixed bucket name
// list. It returns false if names is empty, without touching the store.
func (p *Processor) Init(ctx context.Context, metaGroups []int32, names []string) bool {
	if len(names) == 0 {
		return false
	}
	return p.initWith(ctx, metaGroups, "", names)
}

// InitCatalog starts the Processor in dynamic mode: the bucket name list
// is read from catalogKey in the metadata groups' namespace, both now
// and on every background refresh tick. It returns false if catalogKey
// is empty or the initial read fails.
func (p *Processor) InitCatalog(ctx context.Context, metaGroups []int32, catalogKey string) bool {
	if catalogKey == "" {
		return false
	}

	names, err := catalog.ReadNames(ctx, p.store, metaGroups, catalogKey)
	if err != nil {
		p.logger.Error("InitCatalog: catalog read failed: %s", err)
		return false
	}

	return p.initWith(ctx, metaGroups, catalogKey, names)
}

func (p *Processor) initWith(ctx context.Context, metaGroups []int32, catalogKey string, names []string) bool {
	if len(names) == 0 {
		return false
	}

	snapshot := catalog.Build(ctx, p.store, metaGroups, names, p.refresher, p.logger)

	p.mu.Lock()
	p.metaGroups = metaGroups
	p.catalogKey = catalogKey
	p.snapshot = snapshot
	p.mu.Unlock()

	p.metrics.UpdateCatalogSize(len(snapshot))
	p.health.RecordSuccess(healthComponent)
	p.registerGroupChecks(metaGroups)
	_ = p.monitor.Start(ctx)

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run()

	return true
}

// registerGroupChecks registers one storageGroupComponent per metadata
// group with the Processor's Monitor, so an unreachable group shows up
// in health status and triggers an alert rather than only affecting
// GetBucket's weighting silently. Re-registering an already-known group
// is a no-op.
func (p *Processor) registerGroupChecks(groups []int32) {
	for _, group := range groups {
		_ = p.monitor.RegisterComponent(&storageGroupComponent{store: p.store, group: group})
	}
}

// GetBucket draws a bucket weighted by its current free capacity for a
// write of size bytes, penalizing any bucket whose replica groups
// aren't all currently reachable. It returns NoBucketsConfigured if the
// catalog is empty and NoBucketSuitable if every bucket was filtered
// out by weight or capacity.
func (p *Processor) GetBucket(ctx context.Context, size uint64) (chosen *bucket.Record, err error) {
	start := time.Now()
	defer func() {
		name := ""
		if chosen != nil {
			name = chosen.Name()
		}
		p.metrics.RecordSelection(name, time.Since(start), int64(size), err == nil)
	}()

	records := p.validRecords()
	if len(records) == 0 {
		return nil, errors.NoBucketsConfigured()
	}

	rt, rtErr := p.store.RouteTable(ctx)
	if rtErr != nil {
		p.logger.Warn("GetBucket: route table query failed: %s", rtErr)
		rt = map[int32]bool{}
	}
	for group, reachable := range rt {
		p.metrics.UpdateGroupReachable(group, reachable)
	}

	candidates := make([]selector.Candidate[*bucket.Record], 0, len(records))
	for _, rec := range records {
		w := rec.Weight(size, p.limits)
		if w == 0 {
			continue
		}
		candidates = append(candidates, selector.Candidate[*bucket.Record]{
			Value:  rec,
			Weight: w,
			Groups: rec.Meta().Groups,
		})
	}

	var ok bool
	chosen, ok = selector.Pick(candidates, rt, globalRand{})
	if !ok {
		return nil, errors.NoBucketSuitable(size)
	}
	return chosen, nil
}

// FindBucket looks up a bucket by name. It returns BucketNotFound if no
// record with that name was ever constructed, and BucketNotValid if one
// exists but has never completed a successful metadata reload.
func (p *Processor) FindBucket(name string) (*bucket.Record, error) {
	p.mu.Lock()
	rec, ok := p.snapshot[name]
	p.mu.Unlock()

	if !ok {
		return nil, errors.BucketNotFound(name)
	}
	if !rec.Valid() {
		return nil, errors.BucketNotValid(name)
	}
	return rec, nil
}

// ErrorSession returns the store's pre-built, groupless session so
// callers can produce a uniform failure result alongside a GetBucket or
// FindBucket error without special-casing the absence of a bucket.
func (p *Processor) ErrorSession() storage.Session {
	return p.store.ErrorSession()
}

// CanRead and CanWrite report the Processor's current availability per
// its health tracker: failed background refreshes first degrade it,
// and ten in a row make it unavailable, so both report false until
// enough refreshes succeed again.
func (p *Processor) CanRead() bool  { return p.health.CanRead(healthComponent) }
func (p *Processor) CanWrite() bool { return p.health.CanWrite(healthComponent) }

// Test runs the Selector's distributional self-test: it classifies
// every valid, positive-weight bucket, restricts the reference set to
// the "really good" (weight > 0.5) buckets if any exist, draws
// GetBucket(1) 10,000 times, and checks that each reference bucket's
// selection fraction divided by its weight fraction of the full catalog
// falls within [0.9, 1.1].
func (p *Processor) Test(ctx context.Context) error {
	type scored struct {
		rec    *bucket.Record
		weight float64
	}

	var all, reallyGood []scored
	for _, rec := range p.validRecords() {
		w := rec.Weight(1, p.limits)
		if w <= 0 {
			continue
		}
		s := scored{rec: rec, weight: w}
		all = append(all, s)
		if w > 0.5 {
			reallyGood = append(reallyGood, s)
		}
	}

	if len(all) == 0 {
		return errors.NoBucketSuitable(1)
	}

	reference := all
	if len(reallyGood) > 0 {
		reference = reallyGood
	}

	var fullSum float64
	for _, s := range all {
		fullSum += s.weight
	}

	const iterations = 10000
	counts := make(map[string]int, len(reference))
	for i := 0; i < iterations; i++ {
		rec, err := p.GetBucket(ctx, 1)
		if err != nil {
			return errors.New(errors.ErrCodeSelfTestFailed, "get_bucket failed during self-test").
				WithComponent("processor").WithCause(err)
		}
		counts[rec.Name()]++
	}

	for _, s := range reference {
		wantFrac := s.weight / fullSum
		if wantFrac == 0 {
			continue
		}
		frac := float64(counts[s.rec.Name()]) / float64(iterations)
		ratio := frac / wantFrac
		if ratio < 0.9 || ratio > 1.1 {
			return errors.New(errors.ErrCodeSelfTestFailed, "selection distribution outside tolerance").
				WithComponent("processor").
				WithDetail("bucket", s.rec.Name()).
				WithDetail("selection_fraction", frac).
				WithDetail("weight_fraction", wantFrac)
		}
	}

	return nil
}

// Shutdown signals the background refresh loop to exit and waits for it
// to do so. Calling Shutdown before a successful Init is a no-op.
func (p *Processor) Shutdown() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	_ = p.monitor.Stop()
}

// HealthStatus reports the current result of every registered per-group
// reachability check plus any recent alerts, for callers that want
// readiness detail beyond the coarse CanRead/CanWrite booleans.
func (p *Processor) HealthStatus() map[string]interface{} {
	return p.monitor.GetDetailedStatus()
}

// validRecords snapshots the catalog and returns only the records that
// currently report themselves valid.
func (p *Processor) validRecords() []*bucket.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	records := make([]*bucket.Record, 0, len(p.snapshot))
	for _, rec := range p.snapshot {
		if rec.Valid() {
			records = append(records, rec)
		}
	}
	return records
}

// run is the background refresh loop: on each tick it re-reads the
// catalog key (dynamic mode only), rebuilds the catalog snapshot, and
// replaces it atomically. It exits only when stopCh is closed.
func (p *Processor) run() {
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-time.After(refreshWait):
		}

		p.refreshOnce()
	}
}

func (p *Processor) refreshOnce() {
	start := time.Now()
	op, ctx := p.status.StartOperation(context.Background(), status.CatalogRefreshOperation, nil)

	p.mu.Lock()
	metaGroups := p.metaGroups
	catalogKey := p.catalogKey
	names := p.names()
	p.mu.Unlock()

	if catalogKey != "" {
		read, err := catalog.ReadNames(ctx, p.store, metaGroups, catalogKey)
		if err != nil {
			p.logger.Warn("refresh: catalog read failed, keeping previous name set: %s", err)
			p.health.RecordError(healthComponent, err)
			p.metrics.RecordReload(time.Since(start), false)
			_ = p.status.FailOperation(op.ID, err)
			return
		}
		names = read
	}

	snapshot := catalog.Build(ctx, p.store, metaGroups, names, p.refresher, p.logger)

	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()

	p.metrics.UpdateCatalogSize(len(snapshot))
	p.updateActiveSessionMetrics(metaGroups)

	p.health.RecordSuccess(healthComponent)
	p.metrics.RecordReload(time.Since(start), true)
	_ = p.status.CompleteOperation(op.ID)
}

// updateActiveSessionMetrics probes the store for per-group connection
// pool occupancy, if it exposes activeSessionsProvider, and pushes
// whatever it reports into the metrics collector.
func (p *Processor) updateActiveSessionMetrics(groups []int32) {
	provider, ok := p.store.(activeSessionsProvider)
	if !ok {
		return
	}
	for _, group := range groups {
		if count, ok := provider.ActiveSessions(group); ok {
			p.metrics.UpdateActiveSessions(group, count)
		}
	}
}

// names returns the catalog's current bucket names, under the lock the
// caller already holds.
func (p *Processor) names() []string {
	names := make([]string, 0, len(p.snapshot))
	for name := range p.snapshot {
		names = append(names, name)
	}
	return names
}

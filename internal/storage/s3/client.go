package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ebucket/ebucket/internal/storage"
	"github.com/ebucket/ebucket/pkg/errors"
	"github.com/ebucket/ebucket/pkg/recovery"
	"github.com/ebucket/ebucket/pkg/types"
	"github.com/ebucket/ebucket/pkg/utils"
)

// groupClient is one replica group's S3-compatible endpoint: a
// dedicated client plus the pool pooled clients are drawn from for
// concurrent blob I/O against it.
type groupClient struct {
	group    int32
	endpoint string
	client   *s3.Client
	pool     *ConnectionPool
}

// Store is the S3-backed implementation of storage.Store: it binds
// each configured metadata/replica group to its own endpoint and
// serves blob I/O and route-table queries against the "bucket"
// namespace (and any other namespace a session names) by prefixing
// keys with the namespace.
type Store struct {
	mu         sync.RWMutex
	groups     map[int32]*groupClient
	capacities map[int32]uint64
	bucketName string
	cfg        *Config
	logger     *utils.Logger
	recovery   *recovery.RecoveryManager

	routeMu      sync.Mutex
	routeTable   map[int32]bool
	routeExpires time.Time
}

// routeTableTTL bounds how stale a cached RouteTable answer may be.
// get_bucket calls into this on every request (spec.md §5); a short
// cache keeps that synchronous and effectively O(1) under load while
// staying within the "≤1s staleness is an allowed implementation
// choice" window spec.md §9 calls out.
const routeTableTTL = 1 * time.Second

// NewStore builds one S3 client (and connection pool) per group in
// endpoints, all sharing cfg's retry/timeout/pool-size settings. bucket
// is the underlying S3 bucket every group's endpoint serves; namespaces
// in the ebucket sense are key prefixes within it, not separate S3
// buckets. capacities declares each group's usable byte ceiling, since
// S3 itself exposes no per-bucket quota a GroupStat query could read.
func NewStore(ctx context.Context, endpoints map[int32]string, capacities map[int32]uint64, cfg *Config, bucket string, logger *utils.Logger) (*Store, error) {
	if len(endpoints) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "storage.endpoints must list at least one group").
			WithComponent("storage/s3")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	st := &Store{
		groups:     make(map[int32]*groupClient, len(endpoints)),
		capacities: capacities,
		bucketName: bucket,
		cfg:        cfg,
		logger:     logger,
		recovery:   recovery.NewRecoveryManager(recovery.DefaultRecoveryConfig()),
	}

	for group, endpoint := range endpoints {
		gc, err := newGroupClient(ctx, group, endpoint, cfg)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConnectionFailed, "failed to build S3 client for group").
				WithComponent("storage/s3").WithOperation("NewStore").
				WithDetail("group", group).WithDetail("endpoint", endpoint).WithCause(err)
		}
		st.groups[group] = gc
	}

	st.sizePoolsByCapacity(cfg.PoolSize)

	return st, nil
}

// minGroupPoolSize floors a group's connection pool even when its
// declared capacity share rounds down to nothing.
const minGroupPoolSize = 2

// sizePoolsByCapacity resizes every group's connection pool so its
// share of the total pool budget (poolSize per group) matches its
// share of the namespace's total declared capacity: a group backing
// more of the namespace's capacity draws proportionally more session
// traffic and keeps more clients warm for it. Groups with no declared
// capacity are resized to minGroupPoolSize; a namespace with no
// capacity declared at all keeps the uniform per-group poolSize every
// pool was built with.
func (st *Store) sizePoolsByCapacity(poolSize int) {
	var totalCapacity uint64
	for _, c := range st.capacities {
		totalCapacity += c
	}
	if totalCapacity == 0 {
		return
	}

	totalBudget := float64(poolSize * len(st.groups))
	for group, gc := range st.groups {
		share := float64(st.capacities[group]) / float64(totalCapacity)
		size := int(share * totalBudget)
		if size < minGroupPoolSize {
			size = minGroupPoolSize
		}
		_ = gc.pool.Resize(size)
	}
}

func newGroupClient(ctx context.Context, group int32, endpoint string, cfg *Config) (*groupClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	optsFn := func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
		if cfg.UseDualStack {
			o.EndpointOptions.UseDualStackEndpoint = aws.DualStackEndpointStateEnabled
		}
	}

	client := s3.NewFromConfig(awsCfg, optsFn)

	pool, err := NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg, optsFn), nil
	})
	if err != nil {
		return nil, fmt.Errorf("build connection pool: %w", err)
	}

	warmCount := cfg.PoolSize / 2
	if warmCount < 1 {
		warmCount = 1
	}
	if err := pool.Warmup(ctx, warmCount); err != nil {
		return nil, fmt.Errorf("warm up connection pool: %w", err)
	}

	return &groupClient{group: group, endpoint: endpoint, client: client, pool: pool}, nil
}

// NewSession returns a session bound to namespace and the requested
// groups, bounded by timeout. Unknown groups are silently dropped so a
// stale record referencing a retired group degrades rather than fails
// outright.
func (st *Store) NewSession(namespace string, groups []int32, timeout time.Duration) storage.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	bound := make([]int32, 0, len(groups))
	for _, g := range groups {
		if _, ok := st.groups[g]; ok {
			bound = append(bound, g)
		}
	}

	return &session{store: st, namespace: namespace, groups: bound, timeout: timeout}
}

// ErrorSession returns the shared groupless session.
func (st *Store) ErrorSession() storage.Session {
	return storage.NewErrorSession()
}

// RouteTable HeadBuckets every group concurrently and reports which
// ones answered without error, serving a cached snapshot when the
// previous one is still within routeTableTTL.
func (st *Store) RouteTable(ctx context.Context) (map[int32]bool, error) {
	st.routeMu.Lock()
	if st.routeTable != nil && time.Now().Before(st.routeExpires) {
		cached := st.routeTable
		st.routeMu.Unlock()
		return cached, nil
	}
	st.routeMu.Unlock()

	st.mu.RLock()
	clients := make([]*groupClient, 0, len(st.groups))
	for _, gc := range st.groups {
		clients = append(clients, gc)
	}
	st.mu.RUnlock()

	table := make(map[int32]bool, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, gc := range clients {
		wg.Add(1)
		go func(gc *groupClient) {
			defer wg.Done()
			reachable := gc.headBucket(ctx, st.bucketName) == nil
			mu.Lock()
			table[gc.group] = reachable
			mu.Unlock()
		}(gc)
	}
	wg.Wait()

	st.routeMu.Lock()
	st.routeTable = table
	st.routeExpires = time.Now().Add(routeTableTTL)
	st.routeMu.Unlock()

	return table, nil
}

// GroupStat measures one group's current usable capacity: usage via a
// single ListObjectsV2 page summed over its returned object sizes,
// against the configured capacity ceiling. No HeadBucket probe is made;
// Reachable is set whenever the listing succeeds.
func (st *Store) GroupStat(ctx context.Context, group int32) (types.BackendStat, error) {
	st.mu.RLock()
	gc, ok := st.groups[group]
	limit := st.capacities[group]
	bucket := st.bucketName
	st.mu.RUnlock()

	if !ok {
		return types.BackendStat{}, errors.New(errors.ErrCodeStatQueryFailed, "unknown group").
			WithComponent("storage/s3").WithOperation("GroupStat").WithDetail("group", group)
	}

	used, err := gc.usedBytes(ctx, bucket)
	if err != nil {
		return types.BackendStat{}, errors.New(errors.ErrCodeStatQueryFailed, "stat query failed").
			WithComponent("storage/s3").WithOperation("GroupStat").WithDetail("group", group).WithCause(err)
	}

	return types.BackendStat{
		Group:     group,
		Size:      types.SizeStat{Limit: limit, Used: used},
		Reachable: true,
		CheckedAt: time.Now().Unix(),
	}, nil
}

// Close releases every group's connection pool.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var firstErr error
	for _, gc := range st.groups {
		if err := gc.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns the connection pool statistics for one group, for
// feeding into active-session metrics.
func (st *Store) Stats(group int32) (PoolStats, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	gc, ok := st.groups[group]
	if !ok {
		return PoolStats{}, false
	}
	return gc.pool.Stats(), true
}

// ActiveSessions reports one group's current active connection count.
// Callers that only know Store through the storage.Store interface can
// reach this by probing for it as an optional capability.
func (st *Store) ActiveSessions(group int32) (int, bool) {
	stats, ok := st.Stats(group)
	if !ok {
		return 0, false
	}
	return stats.Active, true
}

func (gc *groupClient) usedBytes(ctx context.Context, bucket string) (uint64, error) {
	client := gc.pool.GetWithTimeout(2 * time.Second)
	if client == nil {
		client = gc.client
	} else {
		defer gc.pool.Put(client)
	}

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, obj := range out.Contents {
		if obj.Size != nil && *obj.Size > 0 {
			total += uint64(*obj.Size)
		}
	}
	return total, nil
}

func (gc *groupClient) headBucket(ctx context.Context, bucket string) error {
	client := gc.pool.GetWithTimeout(2 * time.Second)
	if client == nil {
		client = gc.client
	} else {
		defer gc.pool.Put(client)
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}

func (gc *groupClient) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	client := gc.pool.GetWithTimeout(2 * time.Second)
	if client == nil {
		client = gc.client
	} else {
		defer gc.pool.Put(client)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (gc *groupClient) putObject(ctx context.Context, bucket, key string, data []byte) error {
	client := gc.pool.GetWithTimeout(2 * time.Second)
	if client == nil {
		client = gc.client
	} else {
		defer gc.pool.Put(client)
	}

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// session is the S3-backed storage.Session: calls are scoped to one
// namespace and a fixed replica-group set, each bounded by timeout.
type session struct {
	store     *Store
	namespace string
	groups    []int32
	timeout   time.Duration
}

func (s *session) Groups() []int32 { return s.groups }

// Get reads from the first group that answers successfully. Groups are
// replicas of the same namespace, so any one of them serving the key
// is sufficient.
func (s *session) Get(ctx context.Context, key string) ([]byte, error) {
	if len(s.groups) == 0 {
		return nil, errors.New(errors.ErrCodeBucketNotValid, "session has no groups to read from").
			WithComponent("storage/s3").WithOperation("Get").WithDetail("key", key)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	objectKey := s.objectKey(key)

	var lastErr error
	s.store.mu.RLock()
	groups := make([]*groupClient, 0, len(s.groups))
	for _, g := range s.groups {
		if gc, ok := s.store.groups[g]; ok {
			groups = append(groups, gc)
		}
	}
	s.store.mu.RUnlock()

	for _, gc := range groups {
		result, err := s.store.recovery.ExecuteWithResult(ctx, groupComponent(gc.group), "get", func() (interface{}, error) {
			return gc.getObject(ctx, s.store.bucketName, objectKey)
		})
		if err == nil {
			return result.([]byte), nil
		}
		lastErr = err
	}

	return nil, errors.New(errors.ErrCodeMetadataReadFailed, "all groups failed to serve key").
		WithComponent("storage/s3").WithOperation("Get").
		WithDetail("key", key).WithDetail("namespace", s.namespace).WithCause(lastErr)
}

// Put writes to every bound group; a replica missing the write simply
// serves stale data until the next write succeeds, consistent with
// this layer doing no write-path coordination beyond fan-out.
func (s *session) Put(ctx context.Context, key string, data []byte) error {
	if len(s.groups) == 0 {
		return errors.New(errors.ErrCodeBucketNotValid, "session has no groups to write to").
			WithComponent("storage/s3").WithOperation("Put").WithDetail("key", key)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	objectKey := s.objectKey(key)

	s.store.mu.RLock()
	groups := make([]*groupClient, 0, len(s.groups))
	for _, g := range s.groups {
		if gc, ok := s.store.groups[g]; ok {
			groups = append(groups, gc)
		}
	}
	s.store.mu.RUnlock()

	var lastErr error
	failures := 0
	for _, gc := range groups {
		_, err := s.store.recovery.ExecuteWithResult(ctx, groupComponent(gc.group), "put", func() (interface{}, error) {
			return nil, gc.putObject(ctx, s.store.bucketName, objectKey, data)
		})
		if err != nil {
			lastErr = err
			failures++
		}
	}

	if failures == len(groups) {
		return errors.New(errors.ErrCodeStatQueryFailed, "all groups failed to accept write").
			WithComponent("storage/s3").WithOperation("Put").
			WithDetail("key", key).WithDetail("namespace", s.namespace).WithCause(lastErr)
	}

	return nil
}

func (s *session) objectKey(key string) string {
	return s.namespace + "/" + key
}

// groupComponent names the recovery-manager component key for one
// replica group's session I/O, so a group that starts failing gets its
// own degraded/circuit-breaker state instead of tripping every group
// at once.
func groupComponent(group int32) string {
	return fmt.Sprintf("storage/s3/group-%d", group)
}

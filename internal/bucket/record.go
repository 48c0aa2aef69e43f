package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/ebucket/ebucket/internal/storage"
	"github.com/ebucket/ebucket/pkg/retry"
	"github.com/ebucket/ebucket/pkg/types"
	"github.com/ebucket/ebucket/pkg/utils"
)

// sessionTimeout is the fixed per-call timeout every session a Record
// hands out carries, matching the storage client's own default.
const sessionTimeout = 60 * time.Second

// metadataNamespace is the reserved namespace every bucket's encoded
// metadata blob lives in, keyed by bucket name.
const metadataNamespace = "bucket"

// Record is the in-memory Bucket Record: a bucket's decoded metadata,
// its latest per-group stat snapshot, and the readiness state derived
// from both. A Record is created bound to a fixed metadata-group list
// and a name, reloads itself once in the background immediately, and
// lives for as long as its owning catalog keeps it.
type Record struct {
	store      storage.Store
	metaGroups []int32
	name       string
	logger     *utils.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	valid    bool
	reloaded bool
	meta     Meta
	stat     types.BucketStat
}

// NewRecord constructs a Record and schedules its first metadata
// reload; the reload runs in the background so construction never
// blocks on I/O. Callers that need the result synchronously should
// call WaitForReload.
func NewRecord(store storage.Store, metaGroups []int32, name string, logger *utils.Logger) *Record {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	r := &Record{
		store:      store,
		metaGroups: metaGroups,
		name:       name,
		logger:     logger,
		stat:       types.NewBucketStat(),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.Reload(context.Background())

	return r
}

// Name returns the bucket's identity. Immutable for the Record's
// lifetime, so it needs no lock.
func (r *Record) Name() string { return r.name }

// Reload issues a synchronous read of this bucket's metadata blob and
// atomically replaces the decoded metadata on success. A read or
// decode failure leaves any previously loaded metadata intact and
// simply marks the record as reloaded, so a transient backend outage
// never invalidates a bucket that was valid a moment ago.
func (r *Record) Reload(ctx context.Context) {
	sess := r.store.NewSession(metadataNamespace, r.metaGroups, sessionTimeout)

	var data []byte
	retryer := retry.ForMetadataReload()
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		d, err := sess.Get(ctx, r.name)
		if err != nil {
			return err
		}
		data = d
		return nil
	})

	r.mu.Lock()
	defer func() {
		r.reloaded = true
		r.cond.Broadcast()
		r.mu.Unlock()
	}()

	if err != nil {
		r.logger.Error("reload: bucket %s: could not reload: %s", r.name, err)
		return
	}

	meta, err := DecodeMeta(data)
	if err != nil {
		r.logger.Error("reload: bucket %s: decode failed: %s", r.name, err)
		return
	}

	r.meta = meta
	r.valid = true
	r.logger.Info("reload: bucket %s: acls: %d, flags: 0x%x, groups: %v", meta.Name, len(meta.Acl), meta.Flags, meta.Groups)
}

// WaitForReload blocks until at least one reload attempt (success or
// failure) has completed, then reports the resulting validity.
func (r *Record) WaitForReload() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for !r.reloaded {
		r.cond.Wait()
	}
	return r.valid && !r.stat.Empty()
}

// Valid reports whether metadata has ever decoded successfully AND at
// least one backend has reported a stat.
func (r *Record) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valid && !r.stat.Empty()
}

// Meta returns a snapshot of the currently loaded metadata. The
// returned value remains valid independently of any later reload.
func (r *Record) Meta() Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// SetBackendStat records the latest per-group capacity sample, as
// published by the stat refresher.
func (r *Record) SetBackendStat(group int32, stat types.BackendStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stat.Set(group, stat)
}

// StatString renders the current stat snapshot for diagnostics.
func (r *Record) StatString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stat.String()
}

// Weight computes this bucket's eligibility and preference for a
// requested write of size bytes under limits. It returns 0 ("not
// eligible") when any replica lacks room for size or falls below the
// hard free-fraction floor; otherwise it returns the smallest
// per-replica free fraction, penalized by a factor of 10 when it falls
// below the soft floor. Weight does no I/O and takes the record's lock
// only briefly.
func (r *Record) Weight(size uint64, limits types.Limits) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sizeWeight float64
	for _, bs := range r.stat.Backends {
		free := bs.Size.Free()
		if free < size {
			return 0
		}

		frac := float64(free) / float64(bs.Size.Limit)
		if frac < limits.Size.Hard {
			return 0
		}
		if frac < limits.Size.Soft {
			frac /= 10
		}

		if sizeWeight == 0 || frac < sizeWeight {
			sizeWeight = frac
		}
	}

	return sizeWeight
}

// Session returns a session bound to this bucket's namespace (its own
// name) and replication group set, with the fixed per-call timeout.
// If the bucket is not valid, the returned session carries no groups,
// so any I/O against it fails deterministically instead of reaching
// the wrong destination.
func (r *Record) Session() storage.Session {
	r.mu.Lock()
	valid := r.valid && !r.stat.Empty()
	groups := r.meta.Groups
	r.mu.Unlock()

	if !valid {
		return r.store.NewSession(r.name, nil, sessionTimeout)
	}
	return r.store.NewSession(r.name, groups, sessionTimeout)
}

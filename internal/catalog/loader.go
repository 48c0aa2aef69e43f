// Package catalog resolves the configured set of bucket names, either
// a static list or one read from a catalog key, and builds the Bucket
// Records that back them.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/ebucket/ebucket/internal/bucket"
	"github.com/ebucket/ebucket/internal/stats"
	"github.com/ebucket/ebucket/internal/storage"
	"github.com/ebucket/ebucket/pkg/errors"
	"github.com/ebucket/ebucket/pkg/retry"
	"github.com/ebucket/ebucket/pkg/utils"
)

// catalogNamespace is the reserved namespace the catalog-key blob is
// stored under, shared with bucket metadata.
const catalogNamespace = "bucket"

// catalogReadTimeout bounds the synchronous catalog-key read.
const catalogReadTimeout = 30 * time.Second

// ReadNames reads the catalog blob stored under key in the metadata
// groups' "bucket" namespace and splits it on newlines. A trailing
// newline is tolerated.
func ReadNames(ctx context.Context, store storage.Store, metaGroups []int32, key string) ([]string, error) {
	if key == "" {
		return nil, errors.New(errors.ErrCodeEmptyCatalog, "catalog key must not be empty").
			WithComponent("catalog")
	}

	sess := store.NewSession(catalogNamespace, metaGroups, catalogReadTimeout)

	var data []byte
	retryer := retry.ForCatalogRead()
	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		d, err := sess.Get(ctx, key)
		if err != nil {
			return errors.New(errors.ErrCodeCatalogReadFailed, "failed to read catalog blob").
				WithComponent("catalog").WithOperation("ReadNames").WithDetail("key", key).WithCause(err)
		}
		data = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ParseNames(data), nil
}

// ParseNames splits a raw catalog blob into bucket names on '\n',
// tolerating an optional trailing newline and discarding empty lines.
func ParseNames(data []byte) []string {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

// Snapshot is the catalog's result: one Bucket Record per name, built
// and reloaded. Names with a decode or read failure still get a
// Record, just one that reports itself invalid until a later refresh
// succeeds.
type Snapshot map[string]*bucket.Record

// Build constructs one Record per name, waits for every record's first
// metadata reload, runs a synchronous stat refresh for the union of the
// resulting buckets' own replica groups, then seeds each record's
// per-group stats from the refresher. The result is the catalog
// snapshot callers consume.
//
// The stat refresh is scheduled against each bucket's own meta.Groups,
// not metaGroups: the metadata-group list is only where bucket name ->
// metadata lookups happen, and the glossary allows it to be entirely
// disjoint from the replica groups a bucket actually stores data in.
// Scheduling against metaGroups instead would leave refresher.Stat with
// no sample for any of those replica groups, so every bucket's stat
// would stay empty and it could never become valid or selectable.
func Build(ctx context.Context, store storage.Store, metaGroups []int32, names []string, refresher *stats.Refresher, logger *utils.Logger) Snapshot {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}

	records := make(Snapshot, len(names))
	for _, name := range names {
		records[name] = bucket.NewRecord(store, metaGroups, name, logger)
	}

	seen := make(map[int32]struct{})
	var statGroups []int32
	for _, rec := range records {
		rec.WaitForReload()
		for _, group := range rec.Meta().Groups {
			if _, ok := seen[group]; !ok {
				seen[group] = struct{}{}
				statGroups = append(statGroups, group)
			}
		}
	}

	refresher.ScheduleUpdateAndWait(ctx, statGroups)

	for name, rec := range records {
		for _, group := range rec.Meta().Groups {
			if stat, ok := refresher.Stat(group); ok {
				rec.SetBackendStat(group, stat)
			}
		}

		logger.Info("build: bucket %s: reloaded, valid: %t, stats: %s", name, rec.Valid(), rec.StatString())
	}

	return records
}

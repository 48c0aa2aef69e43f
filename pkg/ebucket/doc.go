/*
Package ebucket routes write requests across a catalog of replicated
buckets, each backed by one or more storage groups, picking the one
with the most free capacity while steering around groups that are
currently unreachable.

# Overview

A Processor is built against a storage.Store and started with either
Init (a fixed bucket name list) or InitCatalog (names read from a
catalog blob, re-read on every background refresh). Once started, it
owns a background goroutine that keeps the catalog's metadata and
per-group capacity stats fresh without blocking callers.

	store, err := s3.NewStore(ctx, endpoints, capacities, s3.NewDefaultConfig(), "ebucket", logger)
	if err != nil {
		log.Fatal(err)
	}

	proc := ebucket.NewProcessor(store, types.DefaultLimits(), logger)
	if !proc.InitCatalog(ctx, []int32{1, 2, 3}, "buckets.catalog") {
		log.Fatal("no buckets available")
	}
	defer proc.Shutdown()

# Selecting a bucket

GetBucket draws a bucket weighted by free capacity, penalizing (but not
excluding) buckets whose replica groups aren't all currently reachable:

	rec, err := proc.GetBucket(ctx, requestSize)
	if err != nil {
		sess := proc.ErrorSession()
		return sess, err
	}
	sess := rec.Session()

FindBucket looks up a specific bucket by name instead of drawing one:

	rec, err := proc.FindBucket("uploads-2024")

# Self-test

Test exercises the same weighted draw 10,000 times and checks that each
bucket's observed selection frequency tracks its weight within the
tolerance the underlying Selector is expected to hold. It is meant to
be run in CI against a representative catalog snapshot, not on a live
Processor under load.

# See also

internal/selector for the pure weighted-draw algorithm, internal/bucket
for the Bucket Record lifecycle GetBucket and FindBucket operate over,
and internal/catalog for how the name list becomes that set of records.
*/
package ebucket

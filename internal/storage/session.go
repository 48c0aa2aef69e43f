// Package storage defines the abstract session API the bucket-routing
// core consumes: namespace/group-scoped blob I/O and a route-table
// query, independent of which distributed store backs it. spec.md
// treats this collaborator as out of scope; a concrete implementation
// lives in internal/storage/s3.
package storage

import (
	"context"
	"time"

	"github.com/ebucket/ebucket/pkg/errors"
	"github.com/ebucket/ebucket/pkg/types"
)

// Session is a handle bound to one namespace and a fixed set of
// replica groups, with a timeout applied to every call. A Bucket
// Record's session factory returns one of these; an invalid record
// returns a groupless session so that I/O against it fails
// deterministically instead of reaching the wrong destination.
type Session interface {
	// Get reads the blob stored under key in this session's namespace.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data under key in this session's namespace to every
	// group the session is bound to.
	Put(ctx context.Context, key string, data []byte) error
	// Groups reports the replica groups this session routes to. A
	// session with zero groups can never succeed at I/O.
	Groups() []int32
}

// Store is the per-process handle to the underlying distributed store:
// it mints Sessions and answers route-table queries used to penalize
// candidates whose groups are currently unreachable.
type Store interface {
	// NewSession returns a session bound to namespace and groups, with
	// every call against it bounded by timeout.
	NewSession(namespace string, groups []int32, timeout time.Duration) Session
	// ErrorSession returns a pre-built, groupless session callers can
	// use to produce a uniform failure result when no bucket is
	// available.
	ErrorSession() Session
	// RouteTable reports, for each group this store knows about,
	// whether it is currently reachable.
	RouteTable(ctx context.Context) (map[int32]bool, error)
	// GroupStat measures one group's current capacity and reachability.
	GroupStat(ctx context.Context, group int32) (types.BackendStat, error)
}

// errorSession is the zero-group Session every Store.ErrorSession
// returns: any I/O against it fails with ErrCodeBucketNotValid rather
// than silently no-op'ing.
type errorSession struct{}

// NewErrorSession builds the groupless, always-failing Session shared
// by every Store implementation's ErrorSession.
func NewErrorSession() Session {
	return errorSession{}
}

func (errorSession) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New(errors.ErrCodeBucketNotValid, "error session has no groups to read from").
		WithComponent("storage").WithOperation("Get").WithDetail("key", key)
}

func (errorSession) Put(ctx context.Context, key string, data []byte) error {
	return errors.New(errors.ErrCodeBucketNotValid, "error session has no groups to write to").
		WithComponent("storage").WithOperation("Put").WithDetail("key", key)
}

func (errorSession) Groups() []int32 { return nil }

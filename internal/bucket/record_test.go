package bucket

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ebucket/ebucket/internal/storage"
	"github.com/ebucket/ebucket/pkg/types"
	"github.com/ebucket/ebucket/pkg/utils"
)

type fakeSession struct {
	store     *fakeStore
	namespace string
	groups    []int32
}

func (s *fakeSession) Groups() []int32 { return s.groups }

func (s *fakeSession) Get(ctx context.Context, key string) ([]byte, error) {
	if len(s.groups) == 0 {
		return nil, fmt.Errorf("session has no groups")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	data, ok := s.store.data[s.namespace+"/"+key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return data, nil
}

func (s *fakeSession) Put(ctx context.Context, key string, data []byte) error {
	if len(s.groups) == 0 {
		return fmt.Errorf("session has no groups")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.data[s.namespace+"/"+key] = data
	return nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) NewSession(namespace string, groups []int32, timeout time.Duration) storage.Session {
	return &fakeSession{store: f, namespace: namespace, groups: groups}
}

func (f *fakeStore) ErrorSession() storage.Session {
	return storage.NewErrorSession()
}

func (f *fakeStore) RouteTable(ctx context.Context) (map[int32]bool, error) {
	return map[int32]bool{}, nil
}

func (f *fakeStore) GroupStat(ctx context.Context, group int32) (types.BackendStat, error) {
	return types.BackendStat{}, fmt.Errorf("not implemented")
}

func (f *fakeStore) put(namespace, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[namespace+"/"+key] = data
}

func mustEncodeMeta(t *testing.T, m Meta) []byte {
	data, err := EncodeMeta(m)
	if err != nil {
		t.Fatalf("encode meta: %v", err)
	}
	return data
}

func TestRecord_ReloadSuccess(t *testing.T) {
	store := newFakeStore()
	meta := Meta{Name: "my-bucket", Groups: []int32{1, 2}}
	store.put(metadataNamespace, "my-bucket", mustEncodeMeta(t, meta))

	rec := NewRecord(store, []int32{1, 2}, "my-bucket", nil)

	// metadata decoded but no stats seeded yet: not valid.
	if rec.WaitForReload() {
		t.Fatal("expected record to be invalid before any backend stat is set")
	}

	if rec.Meta().Name != "my-bucket" {
		t.Fatalf("expected decoded name my-bucket, got %q", rec.Meta().Name)
	}

	rec.SetBackendStat(1, types.BackendStat{Group: 1, Size: types.SizeStat{Limit: 100, Used: 10}})
	rec.SetBackendStat(2, types.BackendStat{Group: 2, Size: types.SizeStat{Limit: 100, Used: 10}})

	if !rec.Valid() {
		t.Fatal("expected record to be valid after stats are set")
	}
}

func TestRecord_ReloadFailureKeepsExisting(t *testing.T) {
	store := newFakeStore()
	rec := &Record{
		store:      store,
		metaGroups: []int32{1},
		name:       "missing-bucket",
		stat:       types.NewBucketStat(),
		logger:     utils.NewLogger(utils.ERROR, io.Discard),
	}
	rec.cond = sync.NewCond(&rec.mu)

	// seed a valid prior state directly, then force a failing reload
	// (the fake store has no blob for this key).
	rec.mu.Lock()
	rec.valid = true
	rec.meta = Meta{Name: "missing-bucket", Groups: []int32{1}}
	rec.mu.Unlock()
	rec.SetBackendStat(1, types.BackendStat{Group: 1, Size: types.SizeStat{Limit: 100, Used: 0}})

	rec.Reload(context.Background())

	if !rec.WaitForReload() {
		t.Fatal("expected prior valid metadata to survive a failed reload")
	}
	if rec.Meta().Name != "missing-bucket" {
		t.Fatalf("expected prior metadata to be retained, got %q", rec.Meta().Name)
	}
}

func TestRecord_Weight(t *testing.T) {
	store := newFakeStore()
	rec := NewRecord(store, []int32{1}, "b", nil)
	rec.SetBackendStat(1, types.BackendStat{Group: 1, Size: types.SizeStat{Limit: 1000, Used: 0}})

	limits := types.DefaultLimits()

	w := rec.Weight(10, limits)
	if w <= 0 {
		t.Fatalf("expected positive weight, got %f", w)
	}

	// request larger than free space: ineligible.
	if w := rec.Weight(10000, limits); w != 0 {
		t.Fatalf("expected zero weight for oversized request, got %f", w)
	}
}

func TestRecord_WeightHardFloor(t *testing.T) {
	store := newFakeStore()
	rec := NewRecord(store, []int32{1}, "b", nil)
	// free fraction = 0.02, below the default hard floor of 0.05.
	rec.SetBackendStat(1, types.BackendStat{Group: 1, Size: types.SizeStat{Limit: 1000, Used: 980}})

	if w := rec.Weight(1, types.DefaultLimits()); w != 0 {
		t.Fatalf("expected zero weight below hard floor, got %f", w)
	}
}

func TestRecord_WeightSoftPenalty(t *testing.T) {
	store := newFakeStore()
	rec := NewRecord(store, []int32{1}, "b", nil)
	// free fraction = 0.10, between the default hard (0.05) and soft (0.15) floors.
	rec.SetBackendStat(1, types.BackendStat{Group: 1, Size: types.SizeStat{Limit: 1000, Used: 900}})

	w := rec.Weight(1, types.DefaultLimits())
	if w <= 0 || w >= 0.10 {
		t.Fatalf("expected penalized weight in (0, 0.10), got %f", w)
	}
}

func TestRecord_WeightMultiBackendBottleneck(t *testing.T) {
	store := newFakeStore()
	rec := NewRecord(store, []int32{1, 2}, "b", nil)
	rec.SetBackendStat(1, types.BackendStat{Group: 1, Size: types.SizeStat{Limit: 1000, Used: 0}})
	rec.SetBackendStat(2, types.BackendStat{Group: 2, Size: types.SizeStat{Limit: 1000, Used: 500}})

	w := rec.Weight(1, types.DefaultLimits())
	if w != 0.5 {
		t.Fatalf("expected bottleneck backend's free fraction 0.5, got %f", w)
	}
}

func TestRecord_SessionInvalidHasNoGroups(t *testing.T) {
	store := newFakeStore()
	rec := NewRecord(store, []int32{1}, "b", nil)
	// never reload succeeds, never gets stats: always invalid.

	sess := rec.Session()
	if len(sess.Groups()) != 0 {
		t.Fatalf("expected a groupless session for an invalid record, got %v", sess.Groups())
	}
}

func TestRecord_SessionValidUsesMetaGroups(t *testing.T) {
	store := newFakeStore()
	meta := Meta{Name: "b", Groups: []int32{3, 4}}
	store.put(metadataNamespace, "b", mustEncodeMeta(t, meta))

	rec := NewRecord(store, []int32{1}, "b", nil)
	rec.WaitForReload()
	rec.SetBackendStat(3, types.BackendStat{Group: 3, Size: types.SizeStat{Limit: 100, Used: 0}})

	sess := rec.Session()
	if got := sess.Groups(); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("expected session bound to [3 4], got %v", got)
	}
}

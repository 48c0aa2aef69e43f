package types

import "testing"

func TestSizeStatFree(t *testing.T) {
	t.Parallel()

	t.Run("normal", func(t *testing.T) {
		s := SizeStat{Limit: 1000, Used: 400}
		if got := s.Free(); got != 600 {
			t.Errorf("Free() = %d, want 600", got)
		}
		if got := s.FreeFraction(); got != 0.6 {
			t.Errorf("FreeFraction() = %v, want 0.6", got)
		}
	})

	t.Run("used exceeds limit saturates at zero", func(t *testing.T) {
		s := SizeStat{Limit: 100, Used: 150}
		if got := s.Free(); got != 0 {
			t.Errorf("Free() = %d, want 0", got)
		}
	})

	t.Run("zero limit has zero free fraction", func(t *testing.T) {
		s := SizeStat{Limit: 0, Used: 0}
		if got := s.FreeFraction(); got != 0 {
			t.Errorf("FreeFraction() = %v, want 0", got)
		}
	})
}

func TestBucketStat(t *testing.T) {
	t.Parallel()

	bs := NewBucketStat()
	if !bs.Empty() {
		t.Fatal("new bucket stat should be empty")
	}

	bs.Set(1, BackendStat{Group: 1, Size: SizeStat{Limit: 100, Used: 10}, Reachable: true})
	if bs.Empty() {
		t.Fatal("bucket stat with a backend should not be empty")
	}

	bs.Set(1, BackendStat{Group: 1, Size: SizeStat{Limit: 100, Used: 20}, Reachable: true})
	if len(bs.Backends) != 1 {
		t.Fatalf("expected Set to replace existing entry, got %d entries", len(bs.Backends))
	}
	if bs.Backends[1].Size.Used != 20 {
		t.Errorf("expected replaced value, got %+v", bs.Backends[1])
	}
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.Size.Hard <= 0 || l.Size.Soft <= l.Size.Hard {
		t.Errorf("expected 0 < hard < soft, got hard=%v soft=%v", l.Size.Hard, l.Size.Soft)
	}
}

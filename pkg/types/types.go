package types

import "fmt"

// SizeStat is the capacity measurement for a single backend: how much
// space it was configured with and how much of it is used.
type SizeStat struct {
	Limit uint64 `json:"limit"`
	Used  uint64 `json:"used"`
}

// Free returns the number of unused bytes. It saturates at zero rather
// than wrapping if Used somehow exceeds Limit in a stale sample.
func (s SizeStat) Free() uint64 {
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// FreeFraction returns Free()/Limit, or 0 when Limit is zero.
func (s SizeStat) FreeFraction() float64 {
	if s.Limit == 0 {
		return 0
	}
	return float64(s.Free()) / float64(s.Limit)
}

func (s SizeStat) String() string {
	return fmt.Sprintf("limit: %d, used: %d, free: %d", s.Limit, s.Used, s.Free())
}

// BackendStat is a single replica group's measurement, as reported by the
// underlying store. Group identifies which replica this sample describes.
type BackendStat struct {
	Group     int32     `json:"group"`
	Size      SizeStat  `json:"size"`
	Reachable bool      `json:"reachable"`
	CheckedAt int64     `json:"checked_at_unix"`
}

func (b BackendStat) String() string {
	return fmt.Sprintf("group: %d, %s, reachable: %t", b.Group, b.Size, b.Reachable)
}

// BucketStat is the set of per-group backend measurements currently known
// for one bucket, keyed by group id.
type BucketStat struct {
	Backends map[int32]BackendStat
}

// NewBucketStat returns an empty, ready-to-use BucketStat.
func NewBucketStat() BucketStat {
	return BucketStat{Backends: make(map[int32]BackendStat)}
}

// Set records the latest sample for a group, replacing any prior value.
func (bs *BucketStat) Set(group int32, stat BackendStat) {
	if bs.Backends == nil {
		bs.Backends = make(map[int32]BackendStat)
	}
	bs.Backends[group] = stat
}

// Empty reports whether no backend has ever reported a stat.
func (bs BucketStat) Empty() bool {
	return len(bs.Backends) == 0
}

func (bs BucketStat) String() string {
	s := "{"
	first := true
	for _, b := range bs.Backends {
		if !first {
			s += ", "
		}
		first = false
		s += b.String()
	}
	return s + "}"
}

// SizeLimits holds the hard and soft free-fraction thresholds used by the
// weight function: below hard a backend is ineligible, below soft its
// weight is heavily penalized.
type SizeLimits struct {
	Hard float64 `yaml:"hard" json:"hard"`
	Soft float64 `yaml:"soft" json:"soft"`
}

// Limits is the configuration consulted by Record.Weight. It is a value
// type: callers may copy and pass it freely, weight computation does no
// I/O and takes no lock on it.
type Limits struct {
	Size SizeLimits `yaml:"size" json:"size"`
}

// DefaultLimits mirrors what a freshly initialized Processor uses before
// any configuration override: a fairly conservative hard floor and a
// soft floor three times as generous.
func DefaultLimits() Limits {
	return Limits{Size: SizeLimits{Hard: 0.05, Soft: 0.15}}
}

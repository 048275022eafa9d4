package buffer

import "sync/atomic"

// Statistics counts buffer activity. All methods are safe for concurrent use.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
}

func (s *Statistics) recordWrite()    { s.writes.Add(1) }
func (s *Statistics) recordRead()     { s.reads.Add(1) }
func (s *Statistics) recordOverflow() { s.overflows.Add(1); s.drops.Add(1) }

// observeSize stores the current size and raises the high-water mark.
func (s *Statistics) observeSize(size int) {
	n := int64(size)
	s.size.Store(n)
	for {
		hi := s.maxSize.Load()
		if n <= hi || s.maxSize.CompareAndSwap(hi, n) {
			return
		}
	}
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items removed from the front.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns how many writes found the buffer full.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns how many items the overflow policy discarded.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the size after the last mutation.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the largest size the buffer has reached.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Writes      int64 `json:"writes"`
	Reads       int64 `json:"reads"`
	Overflows   int64 `json:"overflows"`
	Drops       int64 `json:"drops"`
	CurrentSize int64 `json:"current_size"`
	MaxSize     int64 `json:"max_size"`
}

// Summary returns a snapshot of all counters.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Overflows:   s.Overflows(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
	}
}

package runtime

import (
	"github.com/sbl8/wearsense/core"
)

// floatsPerLine is how many float64 values fill one cache line.
var floatsPerLine = core.ElementsPerLine(8)

// Arena is a bump allocator over a single pre-allocated float64 buffer.
// Each allocation starts on a cache line. When a pass needs more than the
// buffer holds, the excess is served from the heap and the buffer is grown
// to the observed high-water mark on the next Reset, so steady-state passes
// over same-sized batches do not allocate.
//
// An Arena is owned by one worker at a time and is not safe for concurrent use.
type Arena struct {
	buffer    []float64
	offset    int
	highWater int
	overflows int64
}

// NewArena creates an arena holding size float64 values.
func NewArena(size int) *Arena {
	return &Arena{buffer: core.AlignedFloats(core.AlignSize(max(size, 0), floatsPerLine))}
}

// Alloc returns a zeroed slice of n values. It implements model.Allocator.
func (a *Arena) Alloc(n int) []float64 {
	start := core.AlignSize(a.offset, floatsPerLine)
	end := start + n
	a.offset = end
	a.highWater = max(a.highWater, end)
	if end > len(a.buffer) {
		a.overflows++
		return make([]float64, n)
	}
	s := a.buffer[start:end:end]
	clear(s)
	return s
}

// Reset releases every allocation. Slices handed out before Reset must not be
// used afterwards.
func (a *Arena) Reset() {
	if a.highWater > len(a.buffer) {
		a.buffer = core.AlignedFloats(core.AlignSize(a.highWater, floatsPerLine))
	}
	a.offset = 0
}

// TotalSize returns the buffer capacity in values.
func (a *Arena) TotalSize() int { return len(a.buffer) }

// UsedSize returns the values handed out since the last Reset.
func (a *Arena) UsedSize() int { return a.offset }

// RemainingSize returns the values still available before spilling to the heap.
func (a *Arena) RemainingSize() int { return max(len(a.buffer)-a.offset, 0) }

// HighWater returns the largest pass seen, in values.
func (a *Arena) HighWater() int { return a.highWater }

// Overflows returns how many allocations fell back to the heap.
func (a *Arena) Overflows() int64 { return a.overflows }

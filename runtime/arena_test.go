package runtime

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/sbl8/wearsense/core"
)

func TestArenaAlloc(t *testing.T) {
	t.Parallel()
	arena := NewArena(64)
	assert.Equal(t, 64, arena.TotalSize())

	a := arena.Alloc(3)
	b := arena.Alloc(5)
	assert.Len(t, a, 3)
	assert.Len(t, b, 5)
	assert.True(t, core.IsAligned(uintptr(unsafe.Pointer(&a[0]))))
	assert.True(t, core.IsAligned(uintptr(unsafe.Pointer(&b[0]))))
	assert.Equal(t, 13, arena.UsedSize())
	assert.Equal(t, 51, arena.RemainingSize())

	// writes to one allocation never reach the next
	a = append(a, 99)
	assert.Zero(t, b[0])
}

func TestArenaZeroesReusedMemory(t *testing.T) {
	t.Parallel()
	arena := NewArena(16)
	s := arena.Alloc(16)
	for i := range s {
		s[i] = 1
	}
	arena.Reset()
	s = arena.Alloc(16)
	for _, v := range s {
		assert.Zero(t, v)
	}
}

func TestArenaOverflowGrowsOnReset(t *testing.T) {
	t.Parallel()
	arena := NewArena(0)
	assert.Equal(t, 0, arena.TotalSize())

	s := arena.Alloc(10)
	assert.Len(t, s, 10)
	assert.Equal(t, int64(1), arena.Overflows())
	assert.Equal(t, 10, arena.HighWater())

	arena.Reset()
	assert.GreaterOrEqual(t, arena.TotalSize(), 10)
	assert.Equal(t, 0, arena.UsedSize())

	arena.Alloc(10)
	assert.Equal(t, int64(1), arena.Overflows(), "second pass fits")
}

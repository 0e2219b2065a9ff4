package core

import "unsafe"

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	CacheLineSize = 64

	float64Size = 8
)

// IsAligned checks if a pointer (represented as a uintptr) is aligned to a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// AlignSize rounds size up to the specified power-of-two alignment boundary.
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// AlignedFloats allocates a float64 slice whose backing array starts on a
// cache line. Extra capacity past n is hidden from the caller.
func AlignedFloats(n int) []float64 {
	if n == 0 {
		return nil
	}
	const slack = CacheLineSize / float64Size
	buf := make([]float64, n+slack-1)

	offset := 0
	for !IsAligned(uintptr(unsafe.Pointer(&buf[offset]))) {
		offset++
	}
	return buf[offset : offset+n : offset+n]
}

// ElementsPerLine returns how many elements of elementSize bytes fill one cache line.
func ElementsPerLine(elementSize int) int {
	elementsPerLine := CacheLineSize / elementSize
	if elementsPerLine < 1 {
		return 1
	}
	return elementsPerLine
}

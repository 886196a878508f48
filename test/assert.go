package test

import (
	"cmp"
	"slices"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// span is the memory a byte slice can reach, up to its capacity.
type span struct {
	name       int
	start, end uintptr
}

func spanOf(i int, b []byte) span {
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return span{name: i, start: p, end: p + uintptr(cap(b))}
}

func helper(t assert.TestingT) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
}

// AssertCopy checks that got holds the same bytes as want and that neither
// slice can reach the memory of the other.
func AssertCopy(t assert.TestingT, want, got []byte) bool {
	helper(t)
	if !assert.Equal(t, want, got) {
		return false
	}
	return AssertDisjoint(t, want, got)
}

// AssertDisjoint checks that no two of bufs share memory, counting each
// slice up to its capacity. Slices with no capacity are ignored.
func AssertDisjoint(t assert.TestingT, bufs ...[]byte) bool {
	helper(t)
	spans := make([]span, 0, len(bufs))
	for i, b := range bufs {
		if cap(b) > 0 {
			spans = append(spans, spanOf(i, b))
		}
	}
	slices.SortFunc(spans, func(a, b span) int {
		return cmp.Compare(a.start, b.start)
	})

	ok := true
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if cur.start < prev.end {
			ok = assert.Fail(t, "buffers share memory", "buffer %d [%#x, %#x) overlaps buffer %d [%#x, %#x)",
				cur.name, cur.start, cur.end, prev.name, prev.start, prev.end)
		}
	}
	return ok
}

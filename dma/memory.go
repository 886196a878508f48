package dma

import (
	"fmt"
	"unsafe"
)

const (
	// descriptorAlignment is the alignment of a descriptor table.
	descriptorAlignment = 16
	// bufferAlignment keeps every buffer on its own cache line.
	bufferAlignment = 32
)

// Region is a block of DMA memory, known to the CPU as Bytes and to the DMA
// engine by its bus address.
type Region struct {
	Bus   uint32
	Bytes []byte
}

// BufferProvider hands out DMA memory for descriptor tables and buffers.
// Regions are never moved or returned; they live as long as the rings.
type BufferProvider interface {
	Alloc(size, align int) (Region, error)
}

// Memory is a bump allocator over one block of DMA-reachable memory that
// starts at a fixed bus address. It implements [BufferProvider] and lets a
// DMA engine model map bus addresses back to memory with [Memory.Resolve].
type Memory struct {
	base    uint32
	buf     []byte
	next    int
	release func() error
}

// CheckBusRange returns an error wrapping [ErrInvalidConfig] unless size
// bytes starting at base fit on the 32-bit bus.
func CheckBusRange(base uint32, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: dma memory size %d must be positive", ErrInvalidConfig, size)
	}
	if uint64(base)+uint64(size) > 1<<32 {
		return fmt.Errorf("%w: dma memory of %d bytes at %#x exceeds the 32-bit bus", ErrInvalidConfig, size, base)
	}
	return nil
}

// NewMemory allocates size bytes of word aligned memory from the Go heap,
// visible on the bus at base. It panics if the range fails [CheckBusRange].
func NewMemory(base uint32, size int) *Memory {
	if err := CheckBusRange(base, size); err != nil {
		panic(err)
	}
	// Back the memory with 64-bit words so descriptors are always aligned.
	words := make([]uint64, (size+7)/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return &Memory{base: base, buf: buf}
}

// Base returns the bus address of the first byte.
func (m *Memory) Base() uint32 {
	return m.base
}

// Size returns the size of the arena in bytes.
func (m *Memory) Size() int {
	return len(m.buf)
}

// Free returns the number of bytes not yet allocated, ignoring alignment.
func (m *Memory) Free() int {
	return len(m.buf) - m.next
}

func (m *Memory) Alloc(size, alignment int) (Region, error) {
	if size <= 0 {
		return Region{}, fmt.Errorf("allocation size %d must be positive", size)
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return Region{}, fmt.Errorf("alignment %d is not a power of 2", alignment)
	}

	// Align the bus address, the base might not be aligned itself.
	start := align(int(m.base)+m.next, alignment) - int(m.base)
	end := start + size
	if end > len(m.buf) {
		return Region{}, fmt.Errorf("%w: %d bytes requested, %d available", ErrOutOfMemory, size, len(m.buf)-start)
	}
	m.next = end

	return Region{
		Bus:   m.base + uint32(start),
		Bytes: m.buf[start:end:end],
	}, nil
}

// Resolve returns the n bytes of memory starting at bus address addr.
func (m *Memory) Resolve(addr uint32, n int) ([]byte, error) {
	if addr < m.base || n < 0 || uint64(addr-m.base)+uint64(n) > uint64(len(m.buf)) {
		return nil, fmt.Errorf("bus address range %#x+%d is outside of dma memory %#x+%d", addr, n, m.base, len(m.buf))
	}
	off := int(addr - m.base)
	return m.buf[off : off+n : off+n], nil
}

// Close releases the memory when it is not managed by the Go runtime. The
// rings using it must not be used anymore.
func (m *Memory) Close() error {
	if m.release == nil {
		return nil
	}
	release := m.release
	m.release = nil
	m.buf = nil
	return release()
}

func align(index, alignment int) int {
	remainder := index % alignment
	if remainder == 0 {
		return index
	}
	return index + alignment - remainder
}

// words views b as little-endian 32-bit words. b must be word aligned.
func words(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		panic("descriptor memory is not word aligned")
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

package dma

import (
	"fmt"
)

// descriptorRing is a fixed table of descriptors, each paired with one
// buffer. The buffers and the table never move once allocated.
type descriptorRing struct {
	// table is the bus address of the first descriptor.
	table       uint32
	descriptors []descriptor
	buffers     [][]byte
	bufferSize  int
}

// newDescriptorRing allocates the descriptor table and the buffers of a ring
// with n slots. The descriptors are zeroed apart from their buffer address,
// the caller initializes the ownership.
func newDescriptorRing(mem BufferProvider, n, descWords, bufferSize int) (*descriptorRing, error) {
	table, err := mem.Alloc(n*descWords*4, descriptorAlignment)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate descriptor table: %w", err)
	}
	stride := align(bufferSize, bufferAlignment)
	buffers, err := mem.Alloc(n*stride, bufferAlignment)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate buffers: %w", err)
	}

	all := words(table.Bytes)
	r := &descriptorRing{
		table:       table.Bus,
		descriptors: make([]descriptor, n),
		buffers:     make([][]byte, n),
		bufferSize:  bufferSize,
	}
	for i := range n {
		d := descriptor(all[i*descWords : (i+1)*descWords : (i+1)*descWords])
		clear(d)
		d[WordBuffer] = buffers.Bus + uint32(i*stride)
		r.descriptors[i] = d

		start := i * stride
		r.buffers[i] = buffers.Bytes[start : start+bufferSize : start+bufferSize]
	}
	return r, nil
}

// Len returns the number of slots.
func (r *descriptorRing) Len() int {
	return len(r.descriptors)
}

func (r *descriptorRing) last(i int) bool {
	return i == len(r.descriptors)-1
}

func (r *descriptorRing) next(i int) int {
	i++
	if i == len(r.descriptors) {
		return 0
	}
	return i
}

// descriptor returns the descriptor at index i and panics on an index
// outside of the ring.
func (r *descriptorRing) descriptor(i int) descriptor {
	if i < 0 || i >= len(r.descriptors) {
		panic(fmt.Sprintf("descriptor index %d out of range for ring of %d", i, len(r.descriptors)))
	}
	return r.descriptors[i]
}

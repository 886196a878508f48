package dma

import "sync/atomic"

// Barrier orders memory accesses around ownership transitions. Cores whose
// DMA engine may observe CPU writes out of order need a [FullBarrier].
type Barrier interface {
	Fence()
}

// NoBarrier is used on cores where the DMA engine observes CPU writes in
// program order.
var NoBarrier Barrier = noBarrier{}

type noBarrier struct{}

func (noBarrier) Fence() {}

// FullBarrier returns a [Barrier] that issues a full memory fence.
func FullBarrier() Barrier {
	return &fullBarrier{}
}

type fullBarrier struct {
	// Atomic read-modify-write operations are sequentially consistent, which
	// makes them a full fence.
	seq atomic.Uint64
}

func (b *fullBarrier) Fence() {
	b.seq.Add(1)
}

package dma

import (
	"sync/atomic"

	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/regs"
)

// RxRing surfaces received frames in the order the DMA engine completed them.
//
// The ring has a single consumer. At most one [RxFrame] is outstanding at a
// time and the read cursor only moves when that frame is released.
type RxRing struct {
	ring     *descriptorRing
	bus      regs.Bus
	barrier  Barrier
	rollover ptp.Rollover

	cursor  int
	current *RxFrame
	dropped atomic.Uint64
}

func newRxRing(mem BufferProvider, bus regs.Bus, cfg Config) (*RxRing, error) {
	ring, err := newDescriptorRing(mem, cfg.RxRingLen, cfg.descriptorWords(), cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	r := &RxRing{
		ring:     ring,
		bus:      bus,
		barrier:  cfg.barrier(),
		rollover: cfg.Rollover,
	}
	for i, d := range ring.descriptors {
		d[WordControl] = r.control(i)
		d.setStatus(RxOwn)
	}
	return r, nil
}

// control returns the control word of slot i: the buffer size and, on the
// last slot, the end of ring flag.
func (r *RxRing) control(i int) uint32 {
	c := uint32(r.ring.bufferSize) & RxBufferSizeMask
	if r.ring.last(i) {
		c |= RxEndOfRing
	}
	return c
}

// Len returns the number of slots in the ring.
func (r *RxRing) Len() int {
	return r.ring.Len()
}

// Dropped returns the number of malformed frames that were dropped.
func (r *RxRing) Dropped() uint64 {
	return r.dropped.Load()
}

// Running reports whether the receive process of the DMA engine is active.
// A suspended process, waiting for a free descriptor, counts as running.
func (r *RxRing) Running() bool {
	state := (r.bus.Load(RegStatus) >> StatusRxStateShift) & statusProcessMask
	return state != ProcessStopped
}

// Slot returns a snapshot of the descriptor at index i.
func (r *RxRing) Slot(i int) SlotState {
	d := r.ring.descriptor(i)
	status := d.status()
	return SlotState{
		DMAOwned: status&RxOwn != 0,
		Status:   status,
		Control:  d[WordControl],
		Length:   int(status&RxFrameLenMask) >> RxFrameLenShift,
	}
}

// Next returns the frame in the slot at the read cursor.
//
// It returns [ErrWouldBlock] when the DMA engine still owns the slot, which
// leaves the ring untouched. A frame with an error status or an implausible
// length is recycled right away and reported as a [*MalformedFrameError];
// the following call looks at the next slot.
func (r *RxRing) Next() (*RxFrame, error) {
	if r.current != nil {
		return nil, ErrHandleOutstanding
	}

	d := r.ring.descriptor(r.cursor)
	status := d.status()
	if status&RxOwn != 0 {
		return nil, ErrWouldBlock
	}
	// The rest of the descriptor and the buffer must not be read before the
	// ownership was observed.
	r.barrier.Fence()

	length := int(status&RxFrameLenMask) >> RxFrameLenShift
	if reason := r.validate(status, length); reason != "" {
		err := &MalformedFrameError{
			Index:  r.cursor,
			Status: status,
			Length: length,
			Reason: reason,
		}
		r.recycle(d)
		r.dropped.Add(1)
		return nil, err
	}

	f := &RxFrame{
		ring:  r,
		index: r.cursor,
		data:  r.ring.buffers[r.cursor][:length:length],
	}
	if d.extended() && status&RxTimestampValid != 0 {
		ts, err := r.rollover.Decode(d[WordTimestampHigh], d[WordTimestampLow])
		if err == nil {
			f.timestamp = ts
			f.hasTimestamp = true
		}
	}
	r.current = f
	return f, nil
}

func (r *RxRing) validate(status uint32, length int) string {
	switch {
	case status&RxErrorSummary != 0:
		return "error summary set"
	case status&(RxFirst|RxLast) != RxFirst|RxLast:
		return "frame spans multiple descriptors"
	case length == 0:
		return "zero length"
	case length > r.ring.bufferSize:
		return "length exceeds buffer"
	}
	return ""
}

// recycle clears the descriptor of the slot at the cursor, hands it back to
// the DMA engine and advances the cursor.
func (r *RxRing) recycle(d descriptor) {
	d.clearTimestamp()
	d[WordControl] = r.control(r.cursor)
	// All writes to the descriptor must be visible before the DMA engine may
	// use it again.
	r.barrier.Fence()
	d.setStatus(RxOwn)
	// Resume a receive process that was suspended for lack of descriptors.
	r.bus.Store(RegRxPollDemand, pollDemandTrigger)
	r.cursor = r.ring.next(r.cursor)
}

func (r *RxRing) release(f *RxFrame) error {
	if f.released || r.current != f {
		return ErrHandleReleased
	}
	f.released = true
	f.data = nil
	r.current = nil

	if f.index != r.cursor {
		panic("receive cursor moved while a frame was outstanding")
	}
	r.recycle(r.ring.descriptor(f.index))
	return nil
}

// RxFrame is an exclusive view of a received frame. It stays valid until
// [RxFrame.Release] returns the slot to the DMA engine.
type RxFrame struct {
	_ noCopy

	ring         *RxRing
	index        int
	data         []byte
	timestamp    ptp.Timestamp
	hasTimestamp bool
	released     bool
}

// Bytes returns the frame as written by the DMA engine. The slice must not
// be used after the frame was released.
func (f *RxFrame) Bytes() []byte {
	return f.data
}

// Len returns the length reported by the DMA engine.
func (f *RxFrame) Len() int {
	return len(f.data)
}

// Index returns the ring slot of the frame.
func (f *RxFrame) Index() int {
	return f.index
}

// Timestamp returns the time the frame was received. ok is false when the
// hardware did not capture a timestamp for it.
func (f *RxFrame) Timestamp() (ts ptp.Timestamp, ok bool) {
	return f.timestamp, f.hasTimestamp
}

// Release returns the slot to the DMA engine and advances the ring. It
// returns [ErrHandleReleased] when called again.
func (f *RxFrame) Release() error {
	return f.ring.release(f)
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527 for details.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

package dma

import (
	"fmt"

	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/regs"
)

// TxRing hands out transmit buffers in ring order and commits them to the
// DMA engine in the order they are released.
//
// The ring has a single producer. At most one [TxBuffer] is outstanding at a
// time; the write cursor moves when it is released.
type TxRing struct {
	ring        *descriptorRing
	bus         regs.Bus
	barrier     Barrier
	rollover    ptp.Rollover
	maxFrameLen int

	cursor  int
	current *TxBuffer

	// seqs holds the sequence number of the frame last committed to each
	// slot, zero while the slot holds no committed frame.
	seqs    []uint64
	nextSeq uint64
}

// Ticket identifies a committed frame, to look up its completion timestamp.
type Ticket struct {
	index int
	seq   uint64
}

// Index returns the ring slot the frame was committed to.
func (t Ticket) Index() int {
	return t.index
}

func newTxRing(mem BufferProvider, bus regs.Bus, cfg Config) (*TxRing, error) {
	ring, err := newDescriptorRing(mem, cfg.TxRingLen, cfg.descriptorWords(), cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	r := &TxRing{
		ring:        ring,
		bus:         bus,
		barrier:     cfg.barrier(),
		rollover:    cfg.Rollover,
		maxFrameLen: cfg.MaxFrameLen,
		seqs:        make([]uint64, ring.Len()),
		nextSeq:     1,
	}
	// Slots start out free, owned by the CPU with no frame to send.
	for i, d := range ring.descriptors {
		d.setStatus(r.endOfRing(i))
	}
	return r, nil
}

func (r *TxRing) endOfRing(i int) uint32 {
	if r.ring.last(i) {
		return TxEndOfRing
	}
	return 0
}

// Len returns the number of slots in the ring.
func (r *TxRing) Len() int {
	return r.ring.Len()
}

// MaxFrameLen returns the largest length [TxRing.Acquire] accepts.
func (r *TxRing) MaxFrameLen() int {
	return r.maxFrameLen
}

// InFlight returns the number of frames the DMA engine has not completed.
func (r *TxRing) InFlight() int {
	n := 0
	for _, d := range r.ring.descriptors {
		if d.status()&TxOwn != 0 {
			n++
		}
	}
	return n
}

// Running reports whether the transmit process of the DMA engine is active.
func (r *TxRing) Running() bool {
	state := (r.bus.Load(RegStatus) >> StatusTxStateShift) & statusProcessMask
	return state != ProcessStopped
}

// Slot returns a snapshot of the descriptor at index i.
func (r *TxRing) Slot(i int) SlotState {
	d := r.ring.descriptor(i)
	status := d.status()
	control := d[WordControl]
	return SlotState{
		DMAOwned: status&TxOwn != 0,
		Status:   status,
		Control:  control,
		Length:   int(control & TxBufferSizeMask),
	}
}

// Acquire claims the slot at the write cursor for a frame of length bytes.
//
// It returns [ErrWouldBlock] while the DMA engine has not completed the
// previous frame in that slot. An invalid length is rejected with
// [ErrInvalidLength] without touching the ring.
func (r *TxRing) Acquire(length int) (*TxBuffer, error) {
	if r.current != nil {
		return nil, ErrHandleOutstanding
	}
	if length <= 0 || length > r.maxFrameLen {
		return nil, fmt.Errorf("%w: %d is not between 1 and %d", ErrInvalidLength, length, r.maxFrameLen)
	}

	d := r.ring.descriptor(r.cursor)
	if d.status()&TxOwn != 0 {
		return nil, ErrWouldBlock
	}
	// The completion status and the buffer must not be touched before the
	// ownership was observed.
	r.barrier.Fence()

	// The previous frame of this slot can no longer be looked up.
	r.seqs[r.cursor] = 0

	b := &TxBuffer{
		ring:   r,
		index:  r.cursor,
		data:   r.ring.buffers[r.cursor][:length:length],
		length: length,
	}
	r.current = b
	return b, nil
}

// Send acquires a buffer of length bytes, lets fill write the frame and
// releases it.
func (r *TxRing) Send(length int, fill func(buf []byte)) (Ticket, error) {
	b, err := r.Acquire(length)
	if err != nil {
		return Ticket{}, err
	}
	fill(b.Bytes())
	return b.Release()
}

// Timestamp returns the time the frame identified by t was sent. ok is false
// when the hardware did not capture a timestamp. It returns [ErrWouldBlock]
// while the frame is not sent yet and [ErrTicketExpired] once the slot was
// claimed for another frame.
func (r *TxRing) Timestamp(t Ticket) (ts ptp.Timestamp, ok bool, err error) {
	if t.seq == 0 || t.index < 0 || t.index >= len(r.seqs) || r.seqs[t.index] != t.seq {
		return 0, false, ErrTicketExpired
	}

	d := r.ring.descriptor(t.index)
	status := d.status()
	if status&TxOwn != 0 {
		return 0, false, ErrWouldBlock
	}
	r.barrier.Fence()

	if !d.extended() || status&TxTimestampStatus == 0 {
		return 0, false, nil
	}
	ts, err = r.rollover.Decode(d[WordTimestampHigh], d[WordTimestampLow])
	if err != nil {
		return 0, false, nil
	}
	return ts, true, nil
}

func (r *TxRing) commit(b *TxBuffer) (Ticket, error) {
	if err := r.finish(b); err != nil {
		return Ticket{}, err
	}
	if b.index != r.cursor {
		panic("transmit cursor moved while a buffer was outstanding")
	}

	d := r.ring.descriptor(b.index)
	d[WordControl] = uint32(b.length) & TxBufferSizeMask
	d.clearTimestamp()

	status := TxFirst | TxLast | TxInterrupt | r.endOfRing(b.index)
	if d.extended() {
		status |= TxTimestampEnable
	}
	d.setStatus(status)
	// The descriptor and the frame must be visible before the DMA engine
	// may pick them up.
	r.barrier.Fence()
	d.setStatus(status | TxOwn)

	// Resume a transmit process that was suspended on an empty ring.
	r.bus.Store(RegTxPollDemand, pollDemandTrigger)

	t := Ticket{index: b.index, seq: r.nextSeq}
	r.seqs[b.index] = t.seq
	r.nextSeq++
	r.cursor = r.ring.next(r.cursor)
	return t, nil
}

func (r *TxRing) discard(b *TxBuffer) error {
	return r.finish(b)
}

func (r *TxRing) finish(b *TxBuffer) error {
	if b.released || r.current != b {
		return ErrHandleReleased
	}
	b.released = true
	b.data = nil
	r.current = nil
	return nil
}

// TxBuffer is an exclusive, writable view of a transmit slot. The slot stays
// reserved until the buffer is released or discarded.
type TxBuffer struct {
	_ noCopy

	ring     *TxRing
	index    int
	data     []byte
	length   int
	released bool
}

// Bytes returns the writable frame buffer, as long as the frame. It returns
// nil once the buffer was released.
func (b *TxBuffer) Bytes() []byte {
	if b.released {
		return nil
	}
	return b.data[:b.length]
}

// Len returns the length of the frame that will be sent.
func (b *TxBuffer) Len() int {
	return b.length
}

// Index returns the ring slot of the buffer.
func (b *TxBuffer) Index() int {
	return b.index
}

// SetLen shortens the frame to n bytes.
func (b *TxBuffer) SetLen(n int) error {
	if b.released {
		return ErrHandleReleased
	}
	if n <= 0 || n > len(b.data) {
		return fmt.Errorf("%w: %d is not between 1 and %d", ErrInvalidLength, n, len(b.data))
	}
	b.length = n
	return nil
}

// Release commits the frame to the DMA engine and returns a ticket for its
// completion timestamp. It returns [ErrHandleReleased] when called again.
func (b *TxBuffer) Release() (Ticket, error) {
	return b.ring.commit(b)
}

// Discard gives the slot back without sending anything.
func (b *TxBuffer) Discard() error {
	return b.ring.discard(b)
}

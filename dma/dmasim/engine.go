package dmasim

import (
	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/ptp"
)

func (p *Peripheral) hookDMA() {
	p.DMA.OnStore(dma.RegBusMode, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if v&dma.BusModeSoftReset != 0 {
			for off := uint32(0); off < dma.BlockSize; off += 4 {
				p.DMA.Poke(off, 0)
			}
			p.rxDesc, p.txDesc = 0, 0
			v &^= dma.BusModeSoftReset
		}
		p.DMA.Poke(dma.RegBusMode, v)
	})

	p.DMA.OnStore(dma.RegRxDescList, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.DMA.Poke(dma.RegRxDescList, v)
		p.rxDesc = v
	})
	p.DMA.OnStore(dma.RegTxDescList, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.DMA.Poke(dma.RegTxDescList, v)
		p.txDesc = v
	})

	p.DMA.OnStore(dma.RegOperationMode, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.DMA.Poke(dma.RegOperationMode, v&^dma.OpModeFlushTx)
		if v&dma.OpModeStartRx != 0 {
			p.setProcessState(dma.StatusRxStateShift, rxRunning)
		} else {
			p.setProcessState(dma.StatusRxStateShift, dma.ProcessStopped)
		}
		if v&dma.OpModeStartTx != 0 {
			p.setProcessState(dma.StatusTxStateShift, dma.TxSuspended)
		} else {
			p.setProcessState(dma.StatusTxStateShift, dma.ProcessStopped)
		}
	})

	// Interrupt bits are cleared by writing ones, the rest is read only.
	p.DMA.OnStore(dma.RegStatus, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()
		sr := p.DMA.Peek(dma.RegStatus)
		p.DMA.Poke(dma.RegStatus, sr&^(v&statusInterruptMask))
	})

	p.DMA.OnStore(dma.RegRxPollDemand, func(uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.rxStarted() && (descriptor{p: p, addr: p.rxDesc}).load(dma.WordStatus)&dma.RxOwn != 0 {
			p.setProcessState(dma.StatusRxStateShift, rxRunning)
		}
	})

	p.DMA.OnStore(dma.RegTxPollDemand, func(uint32) {
		if !p.autoTx {
			return
		}
		p.CompleteTx(-1)
	})
}

func (p *Peripheral) rxStarted() bool {
	return p.DMA.Peek(dma.RegOperationMode)&dma.OpModeStartRx != 0
}

func (p *Peripheral) txStarted() bool {
	return p.DMA.Peek(dma.RegOperationMode)&dma.OpModeStartTx != 0
}

// RxOption changes how a frame is reported by [Peripheral.Receive].
type RxOption func(*rxFrame)

type rxFrame struct {
	err          bool
	length       int
	timestamp    ptp.Timestamp
	hasTimestamp bool
	noTimestamp  bool
}

// WithError reports the frame with the error summary bit set.
func WithError() RxOption {
	return func(f *rxFrame) {
		f.err = true
	}
}

// WithLength reports n as the frame length instead of the real length.
func WithLength(n int) RxOption {
	return func(f *rxFrame) {
		f.length = n
	}
}

// WithTimestamp stamps the frame with ts instead of the simulated clock.
func WithTimestamp(ts ptp.Timestamp) RxOption {
	return func(f *rxFrame) {
		f.timestamp = ts
		f.hasTimestamp = true
	}
}

// WithoutTimestamp reports the frame without a valid timestamp.
func WithoutTimestamp() RxOption {
	return func(f *rxFrame) {
		f.noTimestamp = true
	}
}

// Receive stores frame into the receive ring as the DMA engine would. A
// frame larger than one buffer spans several descriptors.
func (p *Peripheral) Receive(frame []byte, opts ...RxOption) error {
	var f rxFrame
	for _, opt := range opts {
		opt(&f)
	}

	p.mu.Lock()
	err := p.receive(frame, f)
	p.mu.Unlock()

	p.raise()
	return err
}

func (p *Peripheral) receive(frame []byte, f rxFrame) error {
	if !p.rxStarted() {
		return ErrRxStopped
	}

	// Make sure the whole frame fits before touching any descriptor.
	var chain []descriptor
	addr := p.rxDesc
	for remaining := len(frame); ; {
		d := descriptor{p: p, addr: addr}
		if d.load(dma.WordStatus)&dma.RxOwn == 0 {
			p.missed++
			p.setProcessState(dma.StatusRxStateShift, dma.RxSuspended)
			p.setStatus(dma.StatusRxUnavailable | dma.StatusAbnormal)
			p.DMA.Poke(dma.RegMissedFrames, p.DMA.Peek(dma.RegMissedFrames)+1)
			return ErrNoDescriptor
		}
		chain = append(chain, d)
		remaining -= int(d.load(dma.WordControl) & dma.RxBufferSizeMask)
		addr = p.nextRx(d)
		if remaining <= 0 {
			break
		}
	}

	length := len(frame)
	if f.length != 0 {
		length = f.length
	}
	ts, stamp := p.now, p.timestamping()
	if f.hasTimestamp {
		ts, stamp = f.timestamp, true
	}
	if f.noTimestamp {
		stamp = false
	}

	rest := frame
	for i, d := range chain {
		size := int(d.load(dma.WordControl) & dma.RxBufferSizeMask)
		n := copy(d.buffer(size), rest)
		rest = rest[n:]

		var status uint32
		if i == 0 {
			status |= dma.RxFirst
		}
		if i == len(chain)-1 {
			status |= dma.RxLast
			status |= uint32(length) << dma.RxFrameLenShift & dma.RxFrameLenMask
			if f.err {
				status |= dma.RxErrorSummary
			}
			if stamp && p.extended() {
				hi, lo, err := p.rollover().Encode(ts)
				if err == nil {
					d.store(dma.WordTimestampHigh, hi)
					d.store(dma.WordTimestampLow, lo)
					status |= dma.RxTimestampValid
				}
			}
		} else {
			status |= uint32(size) << dma.RxFrameLenShift & dma.RxFrameLenMask
		}
		// Handing the descriptor back is the last write.
		d.store(dma.WordStatus, status)
	}

	p.rxDesc = addr
	p.DMA.Poke(dma.RegCurRxDesc, addr)
	p.received.Add(1)
	p.setProcessState(dma.StatusRxStateShift, rxRunning)
	p.setStatus(dma.StatusReceive | dma.StatusNormal)
	return nil
}

func (p *Peripheral) nextRx(d descriptor) uint32 {
	if d.load(dma.WordControl)&dma.RxEndOfRing != 0 {
		return p.DMA.Peek(dma.RegRxDescList)
	}
	return d.addr + p.descriptorSize()
}

func (p *Peripheral) nextTx(d descriptor) uint32 {
	if d.load(dma.WordStatus)&dma.TxEndOfRing != 0 {
		return p.DMA.Peek(dma.RegTxDescList)
	}
	return d.addr + p.descriptorSize()
}

// CompleteTx sends up to n queued frames, all of them if n is negative,
// and returns the number of frames sent.
func (p *Peripheral) CompleteTx(n int) int {
	p.mu.Lock()
	sent := p.completeTx(n)
	if p.loopback {
		for _, frame := range sent {
			// A full receive ring drops the frame, as on the wire.
			_ = p.receive(frame, rxFrame{})
		}
	}
	peer := p.peer
	p.mu.Unlock()

	p.raise()
	if peer != nil {
		for _, frame := range sent {
			_ = peer.Receive(frame)
		}
	}
	return len(sent)
}

// Connect wires a and b back to back: frames sent by one are received by
// the other. Frames that are forwarded are not kept for [Peripheral.Sent].
func Connect(a, b *Peripheral) {
	for _, e := range [][2]*Peripheral{{a, b}, {b, a}} {
		e[0].mu.Lock()
		e[0].peer = e[1]
		e[0].mu.Unlock()
	}
}

func (p *Peripheral) completeTx(n int) [][]byte {
	if !p.txStarted() {
		return nil
	}

	var sent [][]byte
	interrupt := false
	for n < 0 || len(sent) < n {
		d := descriptor{p: p, addr: p.txDesc}
		status := d.load(dma.WordStatus)
		if status&dma.TxOwn == 0 {
			p.setStatus(dma.StatusTxUnavailable | dma.StatusNormal)
			break
		}
		p.setProcessState(dma.StatusTxStateShift, 0b011)

		length := int(d.load(dma.WordControl) & dma.TxBufferSizeMask)
		frame := make([]byte, length)
		copy(frame, d.buffer(length))
		sent = append(sent, frame)
		if p.peer == nil {
			p.sent = append(p.sent, frame)
		}
		p.transmitted.Add(1)

		status &^= dma.TxOwn | dma.TxTimestampStatus | dma.TxErrorSummary
		if status&dma.TxTimestampEnable != 0 && p.extended() && p.timestamping() {
			hi, lo, err := p.rollover().Encode(p.now)
			if err == nil {
				d.store(dma.WordTimestampHigh, hi)
				d.store(dma.WordTimestampLow, lo)
				status |= dma.TxTimestampStatus
			}
		}
		if status&dma.TxInterrupt != 0 {
			interrupt = true
		}

		next := p.nextTx(d)
		// Handing the descriptor back is the last write.
		d.store(dma.WordStatus, status)
		p.txDesc = next
		p.DMA.Poke(dma.RegCurTxDesc, next)
	}

	p.setProcessState(dma.StatusTxStateShift, dma.TxSuspended)
	if interrupt {
		p.setStatus(dma.StatusTransmit | dma.StatusNormal)
	}
	return sent
}

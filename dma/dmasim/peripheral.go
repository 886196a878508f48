package dmasim

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/regs"
)

var (
	// ErrRxStopped is returned when a frame arrives while the receive
	// process is stopped.
	ErrRxStopped = errors.New("receive process stopped")
	// ErrNoDescriptor is returned when a frame arrives and the DMA engine
	// does not own enough descriptors to store it.
	ErrNoDescriptor = errors.New("no receive descriptor available")
)

const (
	statusInterruptMask = 0x1ffff
	rxRunning           = 0b011
)

// Peripheral is a software model of the DMA, MAC and time stamp blocks.
type Peripheral struct {
	// DMA, MAC and PTP are the register blocks, to be handed to the driver.
	DMA *regs.Mem
	MAC *regs.Mem
	PTP *regs.Mem

	mem *dma.Memory

	mu        sync.Mutex
	rxDesc    uint32
	txDesc    uint32
	sent      [][]byte
	missed    uint64
	now       ptp.Timestamp
	autoTx    bool
	loopback  bool
	peer      *Peripheral
	interrupt func()
	phyAddr   uint8
	phy       [32]uint16

	transmitted atomic.Uint64
	received    atomic.Uint64
}

// Option configures a [Peripheral].
type Option func(*Peripheral)

// WithAutoComplete completes transmissions as soon as the driver issues a
// transmit poll demand.
func WithAutoComplete() Option {
	return func(p *Peripheral) {
		p.autoTx = true
	}
}

// WithLoopback feeds every transmitted frame back into the receive ring.
func WithLoopback() Option {
	return func(p *Peripheral) {
		p.loopback = true
	}
}

// WithInterrupt calls fn whenever the DMA engine raises an interrupt. fn
// runs on the goroutine that caused the event, without any lock held.
func WithInterrupt(fn func()) Option {
	return func(p *Peripheral) {
		p.interrupt = fn
	}
}

// WithPhyAddr places the PHY at addr on the management bus.
func WithPhyAddr(addr uint8) Option {
	return func(p *Peripheral) {
		p.phyAddr = addr
	}
}

// New returns a peripheral whose DMA engine reaches the memory in mem.
func New(mem *dma.Memory, opts ...Option) *Peripheral {
	p := &Peripheral{
		DMA: regs.NewMem(dma.BlockSize),
		MAC: regs.NewMem(mac.BlockSize),
		PTP: regs.NewMem(ptp.BlockSize),
		mem: mem,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.resetPhy()
	p.hookDMA()
	p.hookMAC()
	p.hookPTP()
	return p
}

// Memory returns the memory the DMA engine works on.
func (p *Peripheral) Memory() *dma.Memory {
	return p.mem
}

// Missed returns the number of frames that were lost for lack of a
// receive descriptor.
func (p *Peripheral) Missed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.missed
}

// Transmitted returns the number of frames the DMA engine has sent.
func (p *Peripheral) Transmitted() uint64 {
	return p.transmitted.Load()
}

// Received returns the number of frames the DMA engine has stored.
func (p *Peripheral) Received() uint64 {
	return p.received.Load()
}

// Sent returns the frames sent since the last call, in order.
func (p *Peripheral) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	sent := p.sent
	p.sent = nil
	return sent
}

// Now returns the time of the simulated clock.
func (p *Peripheral) Now() ptp.Timestamp {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Advance moves the simulated clock forward by d.
func (p *Peripheral) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now += ptp.FromDuration(d)
}

// raise runs the interrupt callback if an interrupt is pending. It must be
// called without p.mu held.
func (p *Peripheral) raise() {
	if p.interrupt == nil {
		return
	}
	pending := p.DMA.Peek(dma.RegStatus) & (dma.StatusNormal | dma.StatusAbnormal)
	enabled := p.DMA.Peek(dma.RegInterruptEn) & (dma.InterruptNormal | dma.InterruptAbnormal)
	if pending&enabled != 0 {
		p.interrupt()
	}
}

// setStatus sets bits in the status register.
func (p *Peripheral) setStatus(bits uint32) {
	p.DMA.Poke(dma.RegStatus, p.DMA.Peek(dma.RegStatus)|bits)
}

func (p *Peripheral) setProcessState(shift int, state uint32) {
	sr := p.DMA.Peek(dma.RegStatus)
	sr &^= 0b111 << shift
	sr |= state << shift
	p.DMA.Poke(dma.RegStatus, sr)
}

func (p *Peripheral) descriptorSize() uint32 {
	if p.DMA.Peek(dma.RegBusMode)&dma.BusModeExtended != 0 {
		return dma.ExtendedWords * 4
	}
	return dma.BasicWords * 4
}

func (p *Peripheral) extended() bool {
	return p.descriptorSize() == dma.ExtendedWords*4
}

// word returns the word of DMA memory at bus address addr.
func (p *Peripheral) word(addr uint32) *uint32 {
	b, err := p.mem.Resolve(addr, 4)
	if err != nil {
		panic(err)
	}
	return (*uint32)(unsafe.Pointer(&b[0]))
}

// descriptor is the DMA engine's view of one descriptor.
type descriptor struct {
	p    *Peripheral
	addr uint32
}

func (d descriptor) load(i int) uint32 {
	return atomic.LoadUint32(d.p.word(d.addr + uint32(i*4)))
}

func (d descriptor) store(i int, v uint32) {
	atomic.StoreUint32(d.p.word(d.addr+uint32(i*4)), v)
}

func (d descriptor) buffer(n int) []byte {
	b, err := d.p.mem.Resolve(d.load(dma.WordBuffer), n)
	if err != nil {
		panic(err)
	}
	return b
}

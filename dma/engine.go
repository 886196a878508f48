package dma

import (
	"errors"
	"fmt"

	"github.com/slackhq/ethdma/regs"
)

// Engine owns the receive and transmit rings of one DMA block.
type Engine struct {
	bus regs.Bus
	cfg Config
	rx  *RxRing
	tx  *TxRing
}

// New validates cfg, allocates both rings from mem and programs the DMA
// block behind bus. An invalid configuration is rejected before any register
// is written.
func New(bus regs.Bus, mem BufferProvider, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rx, err := newRxRing(mem, bus, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create receive ring: %w", err)
	}
	tx, err := newTxRing(mem, bus, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transmit ring: %w", err)
	}

	e := &Engine{bus: bus, cfg: cfg, rx: rx, tx: tx}
	e.program()
	return e, nil
}

func (e *Engine) program() {
	bmr := regs.At(e.bus, RegBusMode)
	bmr.ReplaceBits(defaultBurstLength, 1<<busModeBurstLenWidth-1, BusModeBurstShift)
	bmr.SetBits(BusModeFixedBurst | BusModeAddrAligned)
	if e.cfg.Extended {
		bmr.SetBits(BusModeExtended)
	} else {
		bmr.ClearBits(BusModeExtended)
	}

	regs.At(e.bus, RegOperationMode).SetBits(OpModeTxStoreForward | OpModeRxStoreForward)

	// The descriptor lists are handed to the DMA engine once, they never
	// move afterwards.
	e.bus.Store(RegRxDescList, e.rx.ring.table)
	e.bus.Store(RegTxDescList, e.tx.ring.table)

	regs.At(e.bus, RegInterruptEn).SetBits(InterruptNormal | InterruptReceive | InterruptTransmit)
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Rx returns the receive ring.
func (e *Engine) Rx() *RxRing {
	return e.rx
}

// Tx returns the transmit ring.
func (e *Engine) Tx() *TxRing {
	return e.tx
}

// Start starts the receive and transmit processes.
func (e *Engine) Start() {
	regs.At(e.bus, RegOperationMode).SetBits(OpModeStartRx | OpModeStartTx)
	e.bus.Store(RegRxPollDemand, pollDemandTrigger)
}

// Stop stops both processes. Frames already owned by the DMA engine stay
// owned until it is started again.
func (e *Engine) Stop() {
	regs.At(e.bus, RegOperationMode).ClearBits(OpModeStartRx | OpModeStartTx)
}

// Interrupt is the set of reasons a DMA interrupt was raised for.
type Interrupt uint32

// Has reports whether all bits of reason are set.
func (i Interrupt) Has(reason Interrupt) bool {
	return i&reason == reason
}

const (
	InterruptReceived       Interrupt = StatusReceive
	InterruptTransmitted    Interrupt = StatusTransmit
	InterruptRxUnavailable  Interrupt = StatusRxUnavailable
	InterruptTxUnavailable  Interrupt = StatusTxUnavailable
	InterruptAbnormalStatus Interrupt = StatusAbnormal
	InterruptNormalStatus   Interrupt = StatusNormal
)

// ErrFatalBusError is returned by [Engine.HandleInterrupt] when the DMA
// engine stopped after a bus error. The rings have to be rebuilt.
var ErrFatalBusError = errors.New("dma fatal bus error")

// HandleInterrupt acknowledges the pending interrupts of the DMA block and
// returns their reasons. It is meant to be called from the interrupt path
// and never touches the rings.
func (e *Engine) HandleInterrupt() (Interrupt, error) {
	status := e.bus.Load(RegStatus) & statusInterruptMask
	if status == 0 {
		return 0, nil
	}
	// The interrupt bits are cleared by writing ones.
	e.bus.Store(RegStatus, status)
	if status&StatusFatalBusError != 0 {
		return Interrupt(status), fmt.Errorf("%w: status %#08x", ErrFatalBusError, status)
	}
	return Interrupt(status), nil
}

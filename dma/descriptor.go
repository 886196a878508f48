package dma

import "sync/atomic"

// Word indexes inside a descriptor.
const (
	WordStatus        = 0 // RDES0/TDES0, owned bit and status
	WordControl       = 1 // RDES1/TDES1, control flags and buffer size
	WordBuffer        = 2 // RDES2/TDES2, buffer bus address
	WordNext          = 3 // RDES3/TDES3, unused in ring mode
	WordExtStatus     = 4 // RDES4, extended status
	WordTimestampLow  = 6 // RDES6/TDES6, sign and sub-seconds
	WordTimestampHigh = 7 // RDES7/TDES7, seconds

	// BasicWords is the size of a descriptor in 32-bit words.
	BasicWords = 4
	// ExtendedWords is the size of a descriptor with timestamp words.
	ExtendedWords = 8
)

// Receive descriptor bits.
const (
	// RxOwn is set while the DMA engine owns the descriptor.
	RxOwn            = 1 << 31
	RxFrameLenShift  = 16
	RxFrameLenMask   = 0x3fff << RxFrameLenShift
	RxErrorSummary   = 1 << 15
	RxFirst          = 1 << 9
	RxLast           = 1 << 8
	RxTimestampValid = 1 << 7
	RxEndOfRing      = 1 << 15 // in WordControl
	RxBufferSizeMask = 0x1fff  // in WordControl
)

// Transmit descriptor bits.
const (
	// TxOwn is set while the DMA engine owns the descriptor.
	TxOwn             = 1 << 31
	TxInterrupt       = 1 << 30
	TxLast            = 1 << 29
	TxFirst           = 1 << 28
	TxTimestampEnable = 1 << 25
	TxEndOfRing       = 1 << 21
	TxTimestampStatus = 1 << 17
	TxErrorSummary    = 1 << 15
	TxBufferSizeMask  = 0x1fff // in WordControl
)

// descriptor is a view over the words of one descriptor. The status word is
// shared with the DMA engine and only accessed atomically. The other words
// are only accessed by the current owner.
type descriptor []uint32

func (d descriptor) status() uint32 {
	return atomic.LoadUint32(&d[WordStatus])
}

func (d descriptor) setStatus(v uint32) {
	atomic.StoreUint32(&d[WordStatus], v)
}

func (d descriptor) extended() bool {
	return len(d) == ExtendedWords
}

func (d descriptor) clearTimestamp() {
	if d.extended() {
		d[WordExtStatus] = 0
		d[WordTimestampLow] = 0
		d[WordTimestampHigh] = 0
	}
}

// SlotState is a snapshot of one descriptor, for diagnostics.
type SlotState struct {
	// DMAOwned is true while the DMA engine owns the slot.
	DMAOwned bool
	// Status is the raw status word.
	Status uint32
	// Control is the raw control word.
	Control uint32
	// Length is the frame length recorded in the descriptor: the received
	// length for receive slots, the length to send for transmit slots.
	Length int
}

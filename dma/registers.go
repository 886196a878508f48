package dma

// Register offsets of the DMA block, relative to its base.
const (
	RegBusMode        = 0x00 // DMABMR
	RegTxPollDemand   = 0x04 // DMATPDR
	RegRxPollDemand   = 0x08 // DMARPDR
	RegRxDescList     = 0x0c // DMARDLAR
	RegTxDescList     = 0x10 // DMATDLAR
	RegStatus         = 0x14 // DMASR
	RegOperationMode  = 0x18 // DMAOMR
	RegInterruptEn    = 0x1c // DMAIER
	RegMissedFrames   = 0x20 // DMAMFBOCR
	RegCurTxDesc      = 0x48 // DMACHTDR
	RegCurRxDesc      = 0x4c // DMACHRDR
	RegCurTxBuffer    = 0x50 // DMACHTBAR
	RegCurRxBuffer    = 0x54 // DMACHRBAR
	BlockSize         = 0x58
	pollDemandTrigger = 1
)

// Bus mode register bits.
const (
	BusModeSoftReset     = 1 << 0  // SR
	BusModeExtended      = 1 << 7  // EDFE
	BusModeBurstShift    = 8       // PBL
	BusModeFixedBurst    = 1 << 16 // FB
	BusModeAddrAligned   = 1 << 25 // AAB
	defaultBurstLength   = 32
	busModeBurstLenWidth = 6
)

// Status register bits. The interrupt bits are cleared by writing 1.
const (
	StatusTransmit      = 1 << 0  // TS
	StatusTxStopped     = 1 << 1  // TPSS
	StatusTxUnavailable = 1 << 2  // TBUS
	StatusReceive       = 1 << 6  // RS
	StatusRxUnavailable = 1 << 7  // RBUS
	StatusRxStopped     = 1 << 8  // RPSS
	StatusFatalBusError = 1 << 13 // FBES
	StatusAbnormal      = 1 << 15 // AIS
	StatusNormal        = 1 << 16 // NIS
	StatusRxStateShift  = 17      // RPS
	StatusTxStateShift  = 20      // TPS
	StatusTimestamp     = 1 << 29 // TSTS
	statusProcessMask   = 0b111
	statusInterruptMask = 0x1ffff
)

// Process states reported in the status register.
const (
	ProcessStopped = 0b000
	RxSuspended    = 0b100
	TxSuspended    = 0b110
)

// Operation mode register bits.
const (
	OpModeStartRx        = 1 << 1  // SR
	OpModeStartTx        = 1 << 13 // ST
	OpModeFlushTx        = 1 << 20 // FTF
	OpModeTxStoreForward = 1 << 21 // TSF
	OpModeRxStoreForward = 1 << 25 // RSF
)

// Interrupt enable register bits.
const (
	InterruptTransmit = 1 << 0  // TIE
	InterruptReceive  = 1 << 6  // RIE
	InterruptAbnormal = 1 << 15 // AISE
	InterruptNormal   = 1 << 16 // NISE
)

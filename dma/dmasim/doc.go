// Package dmasim models the hardware side of the Ethernet peripheral: the
// DMA engine walking the descriptor rings, the time stamp counter and a
// PHY behind the MII management interface.
//
// The model is driven explicitly. Frames arrive through
// [Peripheral.Receive] and queued transmissions complete through
// [Peripheral.CompleteTx], unless the peripheral was created with
// [WithAutoComplete]. It is meant for tests and for running the driver
// without a board.
package dmasim

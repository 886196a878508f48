// Package dma implements the CPU side of the descriptor rings that an
// Ethernet MAC's DMA engine walks on its own.
//
// Each ring is a fixed array of descriptors, each paired with one buffer.
// A single ownership bit in the first descriptor word decides who may touch
// the slot: the CPU or the DMA engine. There is no other lock. The CPU only
// acts on slots it observes itself owning, and handing a slot over is the
// only write it makes to that bit. A [Barrier] chosen at construction orders
// the ownership transitions on cores that need it.
//
// Frames are exposed as exclusive handles ([RxFrame], [TxBuffer]). Only one
// handle per ring may be outstanding, and releasing it is the only way a
// slot goes back into circulation.
package dma

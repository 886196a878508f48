// Package regs provides typed access to memory-mapped peripheral registers.
// Register blocks are reached through a [Bus], so the code that drives the
// MAC, DMA and PTP blocks never dereferences raw addresses itself. The
// per-chip layer supplies the [Bus] for each block; [Mem] is a plain memory
// backed implementation used by the peripheral model and tests.
package regs

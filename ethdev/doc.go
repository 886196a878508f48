// Package ethdev puts the DMA rings, the MAC and the time stamp clock of the
// Ethernet peripheral behind a token based device, the shape network stacks
// expect from a packet device: try to receive a frame, try to get room for
// one frame to transmit, each non-blocking.
//
// The device adds no queue of its own. A token wraps exactly one ring
// handle and consuming the token releases it.
package ethdev

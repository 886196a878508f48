//go:build !linux

package dma

import "errors"

// NewMappedMemory is only available on linux.
func NewMappedMemory(base uint32, size int) (*Memory, error) {
	return nil, errors.New("mapped dma memory is not supported on this platform")
}

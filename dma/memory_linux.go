package dma

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewMappedMemory allocates size bytes of anonymous memory outside of the Go
// heap, visible on the bus at base. The garbage collector never sees it, so
// the memory stays put for as long as the rings use it. Call [Memory.Close]
// to unmap it.
func NewMappedMemory(base uint32, size int) (*Memory, error) {
	if err := CheckBusRange(base, size); err != nil {
		return nil, err
	}

	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("map dma memory: %w", err)
	}

	return &Memory{
		base: base,
		buf:  buf,
		release: func() error {
			if err := unix.Munmap(buf); err != nil {
				return fmt.Errorf("unmap dma memory: %w", err)
			}
			return nil
		},
	}, nil
}

package regs

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Mem is a [Bus] backed by plain memory. Every word is accessed atomically,
// so a peripheral model running on another goroutine observes stores in
// program order.
//
// Hooks let a peripheral model react to accesses: a store hook replaces the
// default store (it may call [Mem.Poke] to keep the value), a load hook
// produces the value returned for that offset.
type Mem struct {
	words []atomic.Uint32

	mu     sync.RWMutex
	stores map[uint32]func(v uint32)
	loads  map[uint32]func() uint32
}

// NewMem creates a register block of size bytes.
func NewMem(size int) *Mem {
	if size <= 0 || size%4 != 0 {
		panic(fmt.Sprintf("register block size %d must be a positive multiple of 4", size))
	}
	return &Mem{words: make([]atomic.Uint32, size/4)}
}

func (m *Mem) index(off uint32) int {
	if off%4 != 0 {
		panic(fmt.Sprintf("unaligned register offset %#x", off))
	}
	i := int(off / 4)
	if i >= len(m.words) {
		panic(fmt.Sprintf("register offset %#x out of range (block size %#x)", off, len(m.words)*4))
	}
	return i
}

// OnStore installs a hook that runs instead of the default store at off.
func (m *Mem) OnStore(off uint32, fn func(v uint32)) {
	m.index(off)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stores == nil {
		m.stores = map[uint32]func(uint32){}
	}
	m.stores[off] = fn
}

// OnLoad installs a hook that produces the value loaded from off.
func (m *Mem) OnLoad(off uint32, fn func() uint32) {
	m.index(off)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loads == nil {
		m.loads = map[uint32]func() uint32{}
	}
	m.loads[off] = fn
}

func (m *Mem) Load(off uint32) uint32 {
	i := m.index(off)
	m.mu.RLock()
	fn := m.loads[off]
	m.mu.RUnlock()
	if fn != nil {
		return fn()
	}
	return m.words[i].Load()
}

func (m *Mem) Store(off uint32, v uint32) {
	i := m.index(off)
	m.mu.RLock()
	fn := m.stores[off]
	m.mu.RUnlock()
	if fn != nil {
		fn(v)
		return
	}
	m.words[i].Store(v)
}

// Peek reads the stored word at off, bypassing hooks.
func (m *Mem) Peek(off uint32) uint32 {
	return m.words[m.index(off)].Load()
}

// Poke writes the word at off, bypassing hooks.
func (m *Mem) Poke(off uint32, v uint32) {
	m.words[m.index(off)].Store(v)
}

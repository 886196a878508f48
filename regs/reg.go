package regs

// Bus is a 32-bit register window. Offsets are byte offsets from the start
// of the register block and must be word aligned.
type Bus interface {
	Load(off uint32) uint32
	Store(off uint32, v uint32)
}

// Reg is a single 32-bit register at a fixed offset of a [Bus].
type Reg struct {
	bus Bus
	off uint32
}

// At returns the register at off.
func At(bus Bus, off uint32) Reg {
	return Reg{bus: bus, off: off}
}

// Offset returns the byte offset of the register within its block.
func (r Reg) Offset() uint32 {
	return r.off
}

func (r Reg) Get() uint32 {
	return r.bus.Load(r.off)
}

func (r Reg) Set(v uint32) {
	r.bus.Store(r.off, v)
}

// SetBits performs a read-modify-write that sets the given bits.
func (r Reg) SetBits(bits uint32) {
	r.bus.Store(r.off, r.bus.Load(r.off)|bits)
}

// ClearBits performs a read-modify-write that clears the given bits.
func (r Reg) ClearBits(bits uint32) {
	r.bus.Store(r.off, r.bus.Load(r.off)&^bits)
}

// HasBits reports whether all of bits are set.
func (r Reg) HasBits(bits uint32) bool {
	return r.bus.Load(r.off)&bits == bits
}

// ReplaceBits replaces the bits selected by mask<<pos with value<<pos.
func (r Reg) ReplaceBits(value, mask uint32, pos uint8) {
	v := r.bus.Load(r.off)
	v &^= mask << pos
	v |= (value & mask) << pos
	r.bus.Store(r.off, v)
}

// Field is a contiguous bit field inside a [Reg].
type Field struct {
	Reg   Reg
	Shift uint8
	Width uint8
}

func (f Field) mask() uint32 {
	if f.Width >= 32 {
		return 0xffffffff
	}
	return 1<<f.Width - 1
}

func (f Field) Get() uint32 {
	return (f.Reg.Get() >> f.Shift) & f.mask()
}

// Set writes v into the field, leaving the other bits of the register
// untouched. Bits of v that do not fit the field are dropped.
func (f Field) Set(v uint32) {
	f.Reg.ReplaceBits(v, f.mask(), f.Shift)
}

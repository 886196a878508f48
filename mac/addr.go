package mac

import (
	"fmt"
	"net"
)

// Addr is an Ethernet hardware address in transmission order.
type Addr [6]byte

// Broadcast is the all ones address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddr parses a colon, dash or dot separated EUI-48 address.
func ParseAddr(s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Addr{}, err
	}
	if len(hw) != len(Addr{}) {
		return Addr{}, fmt.Errorf("%q is not a 48-bit hardware address", s)
	}
	return Addr(hw), nil
}

func (a Addr) String() string {
	return net.HardwareAddr(a[:]).String()
}

// HardwareAddr returns a as a [net.HardwareAddr].
func (a Addr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(a[:])
}

// IsMulticast reports whether the group bit is set.
func (a Addr) IsMulticast() bool {
	return a[0]&0b01 != 0
}

// IsLocallyAdministered reports whether the local bit is set.
func (a Addr) IsLocallyAdministered() bool {
	return a[0]&0b10 != 0
}

// IsBroadcast reports whether a is the broadcast address.
func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

// High returns bytes 5 and 4 as they go into the high address register.
func (a Addr) High() uint16 {
	return uint16(a[5])<<8 | uint16(a[4])
}

// Low returns bytes 3 to 0 as they go into the low address register.
func (a Addr) Low() uint32 {
	return uint32(a[3])<<24 | uint32(a[2])<<16 | uint32(a[1])<<8 | uint32(a[0])
}

// AddrFromRegisters is the inverse of [Addr.High] and [Addr.Low].
func AddrFromRegisters(high uint16, low uint32) Addr {
	return Addr{byte(low), byte(low >> 8), byte(low >> 16), byte(low >> 24), byte(high), byte(high >> 8)}
}

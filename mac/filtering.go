package mac

import (
	"errors"
	"fmt"
	"strings"
)

// MaxAddressFilters is the number of perfect address filter registers
// shared by destination, source and multicast filtering.
const MaxAddressFilters = 3

// ErrTooManyAddressFilters is returned when a configuration needs more
// perfect address filters than the MAC has.
var ErrTooManyAddressFilters = errors.New("too many address filters")

// FrameFilteringMode is either [Promiscuous] or a [FrameFiltering].
type FrameFilteringMode interface {
	apply(m *MAC) error
}

type promiscuous struct{}

// Promiscuous passes every frame to the receive ring.
var Promiscuous FrameFilteringMode = promiscuous{}

func (promiscuous) apply(m *MAC) error {
	m.ffr.Set(FilterPromiscuous)
	return nil
}

// ByteMask selects address bytes that are ignored by an [AddressFilter].
type ByteMask uint8

const (
	MaskByte0 ByteMask = 1 << iota
	MaskByte1
	MaskByte2
	MaskByte3
	MaskByte4
	MaskByte5
)

// AddressFilter matches a hardware address, ignoring the masked bytes.
type AddressFilter struct {
	Addr Addr
	Mask ByteMask
}

// DestinationFiltering filters on the destination address.
type DestinationFiltering struct {
	// Inverse drops the frames that match Perfect instead of passing them.
	Inverse bool
	// Perfect lists the addresses matched besides the station address.
	Perfect []AddressFilter
	// HashTable also matches unicast addresses against the hash table.
	HashTable bool
}

// SourceMode selects how the source address is filtered.
type SourceMode uint8

const (
	SourceIgnore SourceMode = iota
	SourceNormal
	SourceInverse
)

// SourceFiltering filters on the source address.
type SourceFiltering struct {
	Mode  SourceMode
	Addrs []AddressFilter
}

// MulticastMode selects how multicast frames are filtered.
type MulticastMode uint8

const (
	MulticastPassAll MulticastMode = iota
	MulticastHash
	MulticastPerfect
)

// MulticastFiltering filters frames sent to a group address.
type MulticastFiltering struct {
	Mode MulticastMode
	// Addrs are matched in MulticastPerfect mode.
	Addrs []AddressFilter
}

// ControlFiltering selects which control frames are passed on.
type ControlFiltering uint8

const (
	ControlBlockAll ControlFiltering = iota
	ControlNoPause
	ControlAllowAll
	ControlAddressFilter
)

var controlNames = map[ControlFiltering]string{
	ControlBlockAll:      "block_all",
	ControlNoPause:       "no_pause",
	ControlAllowAll:      "allow_all",
	ControlAddressFilter: "address_filter",
}

func (c ControlFiltering) String() string {
	if s, ok := controlNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ControlFiltering(%d)", uint8(c))
}

// ParseControlFiltering parses the names returned by String.
func ParseControlFiltering(s string) (ControlFiltering, error) {
	s = strings.ToLower(s)
	if s == "" {
		return ControlBlockAll, nil
	}
	for c, name := range controlNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown control frame filtering %q", s)
}

// ParseMulticastMode parses pass_all, hash or perfect.
func ParseMulticastMode(s string) (MulticastMode, error) {
	switch strings.ToLower(s) {
	case "", "pass_all":
		return MulticastPassAll, nil
	case "hash":
		return MulticastHash, nil
	case "perfect":
		return MulticastPerfect, nil
	}
	return 0, fmt.Errorf("unknown multicast filtering %q", s)
}

// FrameFiltering is applied to received frames before they reach the DMA
// engine.
type FrameFiltering struct {
	// Address is the station address, always used for destination
	// filtering.
	Address     Addr
	Destination DestinationFiltering
	Source      SourceFiltering
	Multicast   MulticastFiltering
	Control     ControlFiltering
	// HashTable is the 64-bit hash table value.
	HashTable uint64
	// FilterBroadcast drops broadcast frames.
	FilterBroadcast bool
	// ReceiveAll passes every frame on but still reports the filter result
	// in the receive descriptors.
	ReceiveAll bool
}

// FilterDestinations returns a filtering that passes frames for station and
// the extra addresses, all multicast and broadcast frames, and blocks
// control frames.
func FilterDestinations(station Addr, extra ...Addr) FrameFiltering {
	perfect := make([]AddressFilter, 0, len(extra))
	for _, a := range extra {
		perfect = append(perfect, AddressFilter{Addr: a})
	}
	return FrameFiltering{
		Address:     station,
		Destination: DestinationFiltering{Perfect: perfect},
		Multicast:   MulticastFiltering{Mode: MulticastPassAll},
		Control:     ControlBlockAll,
	}
}

// Validate checks that the filtering fits into the address registers.
func (f FrameFiltering) Validate() error {
	n := len(f.Destination.Perfect) + len(f.multicastAddrs()) + len(f.sourceAddrs())
	if n > MaxAddressFilters {
		return fmt.Errorf("%w: %d configured, at most %d are supported", ErrTooManyAddressFilters, n, MaxAddressFilters)
	}
	return nil
}

func (f FrameFiltering) sourceAddrs() []AddressFilter {
	if f.Source.Mode == SourceIgnore {
		return nil
	}
	return f.Source.Addrs
}

func (f FrameFiltering) multicastAddrs() []AddressFilter {
	if f.Multicast.Mode != MulticastPerfect {
		return nil
	}
	return f.Multicast.Addrs
}

// register returns the frame filter register value.
func (f FrameFiltering) register() uint32 {
	var v uint32
	if f.ReceiveAll {
		v |= FilterReceiveAll
	}
	switch f.Source.Mode {
	case SourceNormal:
		v |= FilterSourceAddr
	case SourceInverse:
		v |= FilterSourceAddr | FilterSourceInverse
	}
	v |= uint32(f.Control) << FilterControlShift
	if f.FilterBroadcast {
		v |= FilterBroadcastDisable
	}
	switch f.Multicast.Mode {
	case MulticastPassAll:
		v |= FilterPassAllMulticast
	case MulticastHash:
		v |= FilterHashMulticast
	}
	if f.Destination.Inverse {
		v |= FilterDestInverse
	}
	if f.Destination.HashTable {
		v |= FilterHashUnicast
	}
	return v
}

func (f FrameFiltering) apply(m *MAC) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.addrHigh[0].Set(addrHighMO | uint32(f.Address.High()))
	m.addrLow[0].Set(f.Address.Low())

	// Destination and multicast filters come first, source filters last.
	type slot struct {
		filter AddressFilter
		source bool
	}
	var slots []slot
	for _, a := range f.Destination.Perfect {
		slots = append(slots, slot{filter: a})
	}
	for _, a := range f.multicastAddrs() {
		slots = append(slots, slot{filter: a})
	}
	for _, a := range f.sourceAddrs() {
		slots = append(slots, slot{filter: a, source: true})
	}

	for i := 1; i <= MaxAddressFilters; i++ {
		if i > len(slots) {
			m.addrHigh[i].Set(addrHighReset)
			m.addrLow[i].Set(addrLowReset)
			continue
		}
		s := slots[i-1]
		hi := AddrEnable | uint32(s.filter.Mask&0x3f)<<AddrMaskShift | uint32(s.filter.Addr.High())
		if s.source {
			hi |= AddrSource
		}
		m.addrHigh[i].Set(hi)
		m.addrLow[i].Set(s.filter.Addr.Low())
	}

	m.ffr.Set(f.register())
	m.hashHigh.Set(uint32(f.HashTable >> 32))
	m.hashLow.Set(uint32(f.HashTable))
	return nil
}

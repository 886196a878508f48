package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/ethdev"
	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/util"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/link/ethernet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"
)

const nicID = 1

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultQueueLen     = 512
)

// Config describes the network stack put on top of a device.
type Config struct {
	// Prefix is the address of the stack and the directly attached network.
	Prefix netip.Prefix
	// Gateway is the default route, if valid.
	Gateway netip.Addr
	// PollInterval bounds the time a pump sleeps without an event from the
	// device.
	PollInterval time.Duration
	// QueueLen is the number of outbound frames gVisor may queue.
	QueueLen int
}

// Service runs a gVisor network stack on an Ethernet device. One goroutine
// moves received frames into the stack and one moves frames out of the stack
// into the transmit ring.
type Service struct {
	l       *logrus.Logger
	eg      *errgroup.Group
	cancel  context.CancelFunc
	dev     *ethdev.Device
	linkEP  *channel.Endpoint
	ipstack *stack.Stack
	poll    time.Duration

	mu struct {
		sync.Mutex

		listeners map[uint16]*tcpListener
	}
}

// New starts a network stack on dev. The stack runs until ctx is done or
// [Service.Close] is called.
func New(ctx context.Context, l *logrus.Logger, dev *ethdev.Device, cfg Config) (*Service, error) {
	if !cfg.Prefix.IsValid() || !cfg.Prefix.Addr().Is4() {
		return nil, fmt.Errorf("netstack address must be an IPv4 prefix, got %q", cfg.Prefix)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = DefaultQueueLen
	}

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	s := Service{
		l:      l,
		eg:     eg,
		cancel: cancel,
		dev:    dev,
		poll:   cfg.PollInterval,
	}
	s.mu.listeners = map[uint16]*tcpListener{}

	s.ipstack = stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, arp.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol, icmp.NewProtocol4},
	})
	sackEnabledOpt := tcpip.TCPSACKEnabled(true) // TCP SACK is disabled by default
	if tcpipErr := s.ipstack.SetTransportProtocolOption(tcp.ProtocolNumber, &sackEnabledOpt); tcpipErr != nil {
		cancel()
		return nil, fmt.Errorf("could not enable TCP SACK: %v", tcpipErr)
	}

	// The channel endpoint carries whole frames, the ethernet endpoint on top
	// of it adds and strips the header.
	hw := dev.HardwareAddr()
	s.linkEP = channel.New(uint32(cfg.QueueLen), uint32(dev.MTU()+ethdev.EthernetHeaderLen), tcpip.LinkAddress(hw[:]))
	if tcpipProblem := s.ipstack.CreateNIC(nicID, ethernet.New(s.linkEP)); tcpipProblem != nil {
		cancel()
		return nil, fmt.Errorf("could not create netstack NIC: %v", tcpipProblem)
	}

	pa := tcpip.ProtocolAddress{
		Protocol: ipv4.ProtocolNumber,
		AddressWithPrefix: tcpip.AddressWithPrefix{
			Address:   tcpip.AddrFrom4(cfg.Prefix.Addr().As4()),
			PrefixLen: cfg.Prefix.Bits(),
		},
	}
	if err := s.ipstack.AddProtocolAddress(nicID, pa, stack.AddressProperties{}); err != nil {
		cancel()
		return nil, fmt.Errorf("error creating IP: %s", err)
	}

	routes := []tcpip.Route{{Destination: pa.AddressWithPrefix.Subnet(), NIC: nicID}}
	if cfg.Gateway.IsValid() {
		any4, _ := tcpip.NewSubnet(tcpip.AddrFrom4([4]byte{}), tcpip.MaskFrom(strings.Repeat("\x00", 4)))
		routes = append(routes, tcpip.Route{
			Destination: any4,
			Gateway:     tcpip.AddrFrom4(cfg.Gateway.As4()),
			NIC:         nicID,
		})
	}
	s.ipstack.SetRouteTable(routes)

	const tcpReceiveBufferSize = 0
	const maxInFlightConnectionAttempts = 1024
	tcpFwd := tcp.NewForwarder(s.ipstack, tcpReceiveBufferSize, maxInFlightConnectionAttempts, s.tcpHandler)
	s.ipstack.SetTransportProtocolHandler(tcp.ProtocolNumber, tcpFwd.HandlePacket)

	eg.Go(func() error {
		defer s.linkEP.Close()
		return s.receiveLoop(ctx)
	})
	eg.Go(func() error {
		return s.transmitLoop(ctx)
	})

	l.WithFields(logrus.Fields{
		"address": cfg.Prefix,
		"gateway": cfg.Gateway,
		"mac":     dev.HardwareAddr(),
	}).Info("Netstack started")

	return &s, nil
}

// receiveLoop moves every received frame into the stack, then waits for the
// device to report more.
func (s *Service) receiveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		for s.receive() {
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.dev.RxEvents():
		case <-ticker.C:
		}
	}
}

func (s *Service) receive() bool {
	tok, ok := s.dev.TryReceive()
	if !ok {
		return false
	}

	err := tok.Consume(func(frame []byte, _ ptp.Timestamp, _ bool) error {
		// The frame is copied, the slot goes back to the DMA engine as soon
		// as this returns.
		pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
			Payload: buffer.MakeWithData(frame),
		})
		s.linkEP.InjectInbound(0, pkt)
		pkt.DecRef()
		return nil
	})
	if err != nil {
		s.l.WithError(err).Error("Failed to hand a frame to the netstack")
	}
	return true
}

// transmitLoop writes every frame the stack produces into the transmit
// ring, waiting for room when it is full.
func (s *Service) transmitLoop(ctx context.Context) error {
	maxLen := s.dev.Capabilities().MaxFrameLen
	for {
		pkt := s.linkEP.ReadContext(ctx)
		if pkt == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		view := pkt.ToView()
		pkt.DecRef()
		frame := view.AsSlice()

		if len(frame) > maxLen {
			if s.l.Level >= logrus.DebugLevel {
				s.l.WithField("length", len(frame)).WithField("maxFrameLen", maxLen).Debug("Dropped oversized outbound frame")
			}
			view.Release()
			continue
		}

		err := s.transmit(ctx, frame)
		view.Release()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.l.WithError(err).Error("Failed to transmit a frame")
		}
	}
}

func (s *Service) transmit(ctx context.Context, frame []byte) error {
	var ticker *time.Ticker
	for {
		tok, ok := s.dev.TryTransmit(len(frame))
		if ok {
			_, err := tok.Consume(func(buf []byte) (int, error) {
				return copy(buf, frame), nil
			})
			return err
		}

		if ticker == nil {
			ticker = time.NewTicker(s.poll)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.dev.TxEvents():
		case <-ticker.C:
		}
	}
}

// Stack returns the gVisor stack.
func (s *Service) Stack() *stack.Stack {
	return s.ipstack
}

// DialContext dials the provided address.
func (s *Service) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "udp", "udp4":
		addr, err := net.ResolveUDPAddr(network, address)
		if err != nil {
			return nil, err
		}
		fullAddr := tcpip.FullAddress{
			NIC:  nicID,
			Addr: tcpip.AddrFromSlice(addr.IP.To4()),
			Port: uint16(addr.Port),
		}
		return gonet.DialUDP(s.ipstack, nil, &fullAddr, ipv4.ProtocolNumber)
	case "tcp", "tcp4":
		addr, err := net.ResolveTCPAddr(network, address)
		if err != nil {
			return nil, err
		}
		fullAddr := tcpip.FullAddress{
			NIC:  nicID,
			Addr: tcpip.AddrFromSlice(addr.IP.To4()),
			Port: uint16(addr.Port),
		}
		return gonet.DialContextTCP(ctx, s.ipstack, fullAddr, ipv4.ProtocolNumber)
	default:
		return nil, fmt.Errorf("unknown network type: %s", network)
	}
}

// Dial dials the provided address
func (s *Service) Dial(network, address string) (net.Conn, error) {
	return s.DialContext(context.Background(), network, address)
}

// Listen listens on the provided address. Currently only TCP with wildcard
// addresses are supported.
func (s *Service) Listen(network, address string) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, errors.New("only tcp is supported")
	}
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}
	if addr.IP != nil && !bytes.Equal(addr.IP, []byte{0, 0, 0, 0}) {
		return nil, fmt.Errorf("only wildcard address supported, got %q %v", address, addr.IP)
	}
	if addr.Port == 0 {
		return nil, errors.New("specific port required, got 0")
	}
	if addr.Port < 0 || addr.Port >= math.MaxUint16 {
		return nil, fmt.Errorf("invalid port %d", addr.Port)
	}
	l := newTCPListener(s, addr)
	port := l.port

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mu.listeners[port]; ok {
		return nil, fmt.Errorf("already listening on port %d", port)
	}
	s.mu.listeners[port] = l

	return l, nil
}

// ListenUDP binds a UDP socket to address.
func (s *Service) ListenUDP(address string) (*gonet.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	return gonet.DialUDP(s.ipstack, &tcpip.FullAddress{
		NIC:  nicID,
		Addr: tcpip.AddrFromSlice(addr.IP.To4()),
		Port: uint16(addr.Port),
	}, nil, ipv4.ProtocolNumber)
}

// Wait blocks until both pumps have stopped, then tears down the stack.
func (s *Service) Wait() error {
	err := s.eg.Wait()

	s.ipstack.Destroy()

	return err
}

// Close stops the pumps. The device is left running.
func (s *Service) Close() error {
	s.cancel()
	return nil
}

func (s *Service) CloseAndWait() error {
	s.Close()
	if err := s.Wait(); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			s.l.Debugf("Stop of netstack returned: %v", err)
			return nil
		}
		util.LogWithContextIfNeeded("Unclean stop", err, s.l)
		return err
	}

	return nil
}

func (s *Service) tcpHandler(r *tcp.ForwarderRequest) {
	endpointID := r.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.mu.listeners[endpointID.LocalPort]
	if !ok {
		r.Complete(true)
		return
	}

	var wq waiter.Queue
	ep, err := r.CreateEndpoint(&wq)
	if err != nil {
		s.l.WithField("error", err).WithField("port", endpointID.LocalPort).Warn("Failed to create a netstack endpoint")
		r.Complete(true)
		return
	}
	r.Complete(false)
	ep.SocketOptions().SetKeepAlive(true)

	conn := gonet.NewTCPConn(&wq, ep)
	if !l.deliver(conn) {
		s.l.WithField("port", endpointID.LocalPort).Debug("Listener backlog full, dropping connection")
		conn.Close()
	}
}

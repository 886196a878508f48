package service

import (
	"io"
	"net"
	"sync"
)

// listenBacklog is the number of accepted connections a listener queues
// before the forwarder resets new ones.
const listenBacklog = 16

// tcpListener hands connections accepted by the stack forwarder on one local
// port to Accept.
type tcpListener struct {
	port   uint16
	s      *Service
	addr   *net.TCPAddr
	accept chan net.Conn
	done   chan struct{}
	once   sync.Once
}

func newTCPListener(s *Service, addr *net.TCPAddr) *tcpListener {
	return &tcpListener{
		port:   uint16(addr.Port),
		s:      s,
		addr:   addr,
		accept: make(chan net.Conn, listenBacklog),
		done:   make(chan struct{}),
	}
}

// deliver queues conn for Accept. It reports false when the backlog is full
// or the listener is closed, the caller owns conn in that case.
func (l *tcpListener) deliver(conn net.Conn) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.accept <- conn:
		return true
	default:
		return false
	}
}

func (l *tcpListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.accept:
		return conn, nil
	case <-l.done:
		return nil, io.EOF
	}
}

// Close stops accepting on the port. Queued connections that were never
// accepted are closed.
func (l *tcpListener) Close() error {
	l.once.Do(func() {
		l.s.mu.Lock()
		if l.s.mu.listeners[l.port] == l {
			delete(l.s.mu.listeners, l.port)
		}
		close(l.done)
		l.s.mu.Unlock()

		for {
			select {
			case conn := <-l.accept:
				conn.Close()
			default:
				return
			}
		}
	})
	return nil
}

// Addr returns the listener's network address.
func (l *tcpListener) Addr() net.Addr {
	return l.addr
}

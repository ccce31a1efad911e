package dtls

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
)

// Session is an established, mutually-authenticated channel bound to one
// remote peer. Reads and writes preserve UDP datagram boundaries: one
// WriteFrame call corresponds to exactly one ReadFrame call on the peer.
type Session struct {
	pc         net.PacketConn
	remoteAddr net.Addr
	peerCert   *x509.Certificate
	ownedConn  bool // true for client-dialed sessions, which own pc exclusively

	inbox  chan []byte
	closed chan struct{}
}

func newSession(pc net.PacketConn, remoteAddr net.Addr, peerCert *x509.Certificate, ownedConn bool) *Session {
	return &Session{
		pc:         pc,
		remoteAddr: remoteAddr,
		peerCert:   peerCert,
		ownedConn:  ownedConn,
		inbox:      make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

// PeerCertificate returns the verified certificate the remote peer
// presented during the handshake.
func (s *Session) PeerCertificate() *x509.Certificate {
	return s.peerCert
}

// RemoteAddr returns the UDP address of the peer.
func (s *Session) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// ReadFrame blocks until one datagram payload arrives, the session is
// closed, or ctx is cancelled.
func (s *Session) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.inbox:
		if !ok {
			return nil, fmt.Errorf("dtls: session closed")
		}
		return frame, nil
	case <-s.closed:
		return nil, fmt.Errorf("dtls: session closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFrame sends data as a single datagram to the peer.
func (s *Session) WriteFrame(data []byte) error {
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, msgData)
	framed = append(framed, data...)
	if _, err := s.pc.WriteTo(framed, s.remoteAddr); err != nil {
		return fmt.Errorf("dtls: write frame: %w", err)
	}
	return nil
}

// deliver is called by the owning read loop when a data frame arrives
// for this session.
func (s *Session) deliver(payload []byte) {
	select {
	case s.inbox <- payload:
	case <-s.closed:
	default:
		// Inbox full: drop rather than block the shared demux loop. A
		// well-behaved peer does not pipeline requests faster than the
		// handler drains them.
	}
}

// Close tears down the session. For a client-dialed session this also
// closes the underlying socket, since the client owns it exclusively.
func (s *Session) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	if s.ownedConn {
		return s.pc.Close()
	}
	return nil
}

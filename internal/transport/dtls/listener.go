package dtls

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Listener accepts mutually-authenticated sessions on a shared UDP
// socket, demultiplexing incoming datagrams by remote address: one
// read loop fans packets out to per-peer handshake state or, once
// established, to the matching Session's inbox.
type Listener struct {
	pc     net.PacketConn
	cfg    *Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	acceptCh chan *Session
	closed   chan struct{}
}

// Listen opens a UDP socket at addr and begins accepting sessions.
func Listen(addr string, cfg *Config, logger *zap.Logger) (*Listener, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dtls: listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		pc:       pc,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		acceptCh: make(chan *Session, 16),
		closed:   make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Addr returns the local listening address.
func (l *Listener) Addr() net.Addr {
	return l.pc.LocalAddr()
}

// Accept blocks until a new peer completes the handshake.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	select {
	case s, ok := <-l.acceptCh:
		if !ok {
			return nil, fmt.Errorf("dtls: listener closed")
		}
		return s, nil
	case <-l.closed:
		return nil, fmt.Errorf("dtls: listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new sessions and closes the underlying socket.
// Established sessions are left to the caller to close individually.
func (l *Listener) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	return l.pc.Close()
}

func (l *Listener) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, remoteAddr, err := l.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
				l.logger.Warn("dtls: read loop error", zap.Error(err))
				return
			}
		}
		packet := append([]byte(nil), buf[:n]...)
		l.handlePacket(packet, remoteAddr)
	}
}

func (l *Listener) handlePacket(packet []byte, remoteAddr net.Addr) {
	if len(packet) < 1 {
		return
	}
	key := remoteAddr.String()

	l.mu.Lock()
	session, established := l.sessions[key]
	l.mu.Unlock()

	switch packet[0] {
	case msgClientHello:
		if established {
			// Duplicate hello from a peer we already accepted, e.g. a
			// retransmit; it is dropped without re-running the handshake
			// and no ServerHello is re-sent.
			return
		}
		l.handleClientHello(packet, remoteAddr)
	case msgData:
		if !established {
			l.logger.Debug("dtls: data frame from unestablished peer, dropping", zap.String("remote", key))
			return
		}
		session.deliver(packet[1:])
	default:
		l.logger.Debug("dtls: unknown handshake message type, dropping", zap.ByteString("type", packet[:1]))
	}
}

func (l *Listener) handleClientHello(packet []byte, remoteAddr net.Addr) {
	hello, err := decodeHello(packet)
	if err != nil {
		l.logger.Warn("dtls: malformed ClientHello", zap.Error(err))
		return
	}

	peerCert, err := parseLeafCertificate(hello.certDER)
	if err != nil {
		l.logger.Warn("dtls: ClientHello certificate parse failed", zap.Error(err))
		return
	}
	if err := verifyPeerChain(peerCert, l.cfg.RootCAs, l.cfg.ExpectedPeerName); err != nil {
		l.logger.Warn("dtls: ClientHello certificate chain rejected", zap.Error(err), zap.String("remote", remoteAddr.String()))
		return
	}
	if err := verifyNonceSignature(peerCert, hello.nonce, hello.signature); err != nil {
		l.logger.Warn("dtls: ClientHello signature rejected", zap.Error(err), zap.String("remote", remoteAddr.String()))
		return
	}

	signature, err := signNonce(l.cfg.PrivateKey, hello.nonce)
	if err != nil {
		l.logger.Error("dtls: sign ServerHello", zap.Error(err))
		return
	}
	serverHello := encodeHello(msgServerHello, helloMessage{
		certDER:   l.cfg.Certificate.Raw,
		nonce:     hello.nonce,
		signature: signature,
	})
	if _, err := l.pc.WriteTo(serverHello, remoteAddr); err != nil {
		l.logger.Warn("dtls: send ServerHello failed", zap.Error(err))
		return
	}

	session := newSession(l.pc, remoteAddr, peerCert, false)
	l.mu.Lock()
	l.sessions[remoteAddr.String()] = session
	l.mu.Unlock()

	select {
	case l.acceptCh <- session:
	case <-l.closed:
	}
}

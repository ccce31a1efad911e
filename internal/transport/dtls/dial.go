package dtls

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Dial performs the client side of the handshake against a listener at
// addr and returns an established Session. The client owns its socket
// exclusively, so it runs its own read loop rather than sharing the
// Listener's demux table.
func Dial(ctx context.Context, addr string, cfg *Config) (*Session, error) {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dtls: resolve %s: %w", addr, err)
	}

	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("dtls: open client socket: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		pc.Close()
		return nil, err
	}
	signature, err := signNonce(cfg.PrivateKey, nonce)
	if err != nil {
		pc.Close()
		return nil, err
	}
	clientHello := encodeHello(msgClientHello, helloMessage{
		certDER:   cfg.Certificate.Raw,
		nonce:     nonce,
		signature: signature,
	})

	if _, err := pc.WriteTo(clientHello, remoteAddr); err != nil {
		pc.Close()
		return nil, fmt.Errorf("dtls: send ClientHello: %w", err)
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(cfg.handshakeTimeout())
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		pc.Close()
		return nil, fmt.Errorf("dtls: set handshake deadline: %w", err)
	}

	buf := make([]byte, 64*1024)
	n, from, err := pc.ReadFrom(buf)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("dtls: await ServerHello: %w", err)
	}
	if from.String() != remoteAddr.String() {
		pc.Close()
		return nil, fmt.Errorf("dtls: ServerHello from unexpected address %s", from)
	}
	if n < 1 || buf[0] != msgServerHello {
		pc.Close()
		return nil, fmt.Errorf("dtls: expected ServerHello, got message type %d", buf[0])
	}

	hello, err := decodeHello(buf[:n])
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("dtls: malformed ServerHello: %w", err)
	}

	peerCert, err := parseLeafCertificate(hello.certDER)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := verifyPeerChain(peerCert, cfg.RootCAs, cfg.ExpectedPeerName); err != nil {
		pc.Close()
		return nil, err
	}
	if err := verifyNonceSignature(peerCert, nonce, hello.signature); err != nil {
		pc.Close()
		return nil, fmt.Errorf("dtls: ServerHello signature rejected: %w", err)
	}

	// Clear the handshake deadline before handing the socket to the
	// session's own read loop.
	if err := pc.SetReadDeadline(time.Time{}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("dtls: clear handshake deadline: %w", err)
	}

	session := newSession(pc, remoteAddr, peerCert, true)
	go clientReadLoop(session)
	return session, nil
}

func clientReadLoop(session *Session) {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := session.pc.ReadFrom(buf)
		if err != nil {
			session.Close()
			return
		}
		if n < 1 || buf[0] != msgData {
			continue
		}
		session.deliver(append([]byte(nil), buf[1:n]...))
	}
}

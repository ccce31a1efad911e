// Package dtls provides a mutually-authenticated, certificate-based
// secure channel over UDP for the fieldbus. No DTLS or CoAP library
// exists anywhere in the retrieved example corpus (checked against every
// go.mod in the pack), so this package is a purpose-built stand-in: it
// gives both peers certificate-chain exchange and validation against a
// shared root CA, equivalent in intent to DTLS 1.2's
// RequireAndVerifyClientCert, but it is NOT a full DTLS record layer —
// there is no replay window and no per-record AEAD encryption. See
// DESIGN.md for the grounding note on this one deliberately-simplified
// package.
package dtls

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"time"
)

// Config describes the mutual-authentication requirements for a
// session: both sides must present a certificate chain verifiable
// against a shared root CA.
type Config struct {
	// Certificate is this peer's leaf certificate (DER) and matching
	// EC P-256 private key.
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey

	// RootCAs validates the peer's certificate chain.
	RootCAs *x509.CertPool

	// ExpectedPeerName is checked against the peer certificate's subject
	// common name (e.g. "arbiter.local" / "device.local"). Empty disables
	// the check.
	ExpectedPeerName string

	// HandshakeTimeout bounds how long Dial waits for a ServerHello when
	// Dial's ctx carries no deadline; otherwise the ctx deadline applies.
	// Defaults to 5s.
	HandshakeTimeout time.Duration
}

func (c *Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return 5 * time.Second
}

const (
	msgClientHello byte = 1
	msgServerHello byte = 2
	msgData        byte = 3
)

const nonceLen = 16

func newNonce() ([]byte, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("dtls: generate nonce: %w", err)
	}
	return nonce, nil
}

// verifyPeerChain validates a peer-presented leaf certificate against
// the configured root CA pool and, if set, the expected peer name.
func verifyPeerChain(leaf *x509.Certificate, roots *x509.CertPool, expectedName string) error {
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("dtls: peer certificate chain invalid: %w", err)
	}
	if expectedName != "" && leaf.Subject.CommonName != expectedName {
		return fmt.Errorf("dtls: peer certificate common name %q does not match expected %q",
			leaf.Subject.CommonName, expectedName)
	}
	return nil
}

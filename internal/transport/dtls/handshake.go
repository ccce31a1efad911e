package dtls

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
)

// The handshake is a single round trip, not the multi-flight DTLS 1.2
// handshake: ClientHello carries the client's certificate, a nonce, and
// a signature over that nonce; ServerHello carries the server's
// certificate and a signature over the same nonce. Each side verifies
// the other's certificate chain against its root CA pool before trusting
// the signature. There is no session resumption and no key exchange —
// data frames ride unencrypted on the now-authenticated UDP 5-tuple.

type helloMessage struct {
	certDER   []byte
	nonce     []byte
	signature []byte
}

func encodeHello(kind byte, h helloMessage) []byte {
	buf := make([]byte, 0, 1+2+len(h.certDER)+2+len(h.nonce)+2+len(h.signature))
	buf = append(buf, kind)
	buf = appendLenPrefixed(buf, h.certDER)
	buf = appendLenPrefixed(buf, h.nonce)
	buf = appendLenPrefixed(buf, h.signature)
	return buf
}

func decodeHello(data []byte) (helloMessage, error) {
	if len(data) < 1 {
		return helloMessage{}, fmt.Errorf("dtls: empty handshake message")
	}
	pos := 1
	certDER, pos, err := readLenPrefixed(data, pos)
	if err != nil {
		return helloMessage{}, fmt.Errorf("dtls: read certificate: %w", err)
	}
	nonce, pos, err := readLenPrefixed(data, pos)
	if err != nil {
		return helloMessage{}, fmt.Errorf("dtls: read nonce: %w", err)
	}
	signature, _, err := readLenPrefixed(data, pos)
	if err != nil {
		return helloMessage{}, fmt.Errorf("dtls: read signature: %w", err)
	}
	return helloMessage{certDER: certDER, nonce: nonce, signature: signature}, nil
}

func appendLenPrefixed(buf, value []byte) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(value)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, value...)
}

func readLenPrefixed(data []byte, pos int) (value []byte, newPos int, err error) {
	if pos+2 > len(data) {
		return nil, pos, fmt.Errorf("truncated length prefix")
	}
	length := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+length > len(data) {
		return nil, pos, fmt.Errorf("truncated value")
	}
	return data[pos : pos+length], pos + length, nil
}

// signNonce signs the SHA-256 digest of material with key.
func signNonce(key *ecdsa.PrivateKey, material []byte) ([]byte, error) {
	digest := sha256.Sum256(material)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("dtls: sign handshake nonce: %w", err)
	}
	return sig, nil
}

// verifyNonceSignature verifies a signature produced by signNonce against
// the peer certificate's public key.
func verifyNonceSignature(cert *x509.Certificate, material, signature []byte) error {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("dtls: peer certificate does not carry an EC public key")
	}
	digest := sha256.Sum256(material)
	if !ecdsa.VerifyASN1(pub, digest[:], signature) {
		return fmt.Errorf("dtls: handshake signature verification failed")
	}
	return nil
}

func parseLeafCertificate(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("dtls: parse peer certificate: %w", err)
	}
	return cert, nil
}

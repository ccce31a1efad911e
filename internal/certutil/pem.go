package certutil

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadCertificate reads a single PEM-encoded certificate from path.
func LoadCertificate(path string) (*x509.Certificate, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse certificate %s: %w", path, err)
	}
	return cert, nil
}

// LoadPrivateKey reads a single PEM-encoded EC private key from path.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse private key %s: %w", path, err)
	}
	return key, nil
}

// ParsePrivateKeyPEM parses a PEM-encoded EC private key given directly
// as a string, for key material sourced from Vault rather than a file.
func ParsePrivateKeyPEM(data string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("certutil: no PEM block found in supplied key material")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse private key: %w", err)
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PEM-encoded PKIX EC public key given
// directly as a string, for key material sourced from Vault rather than
// a file.
func ParsePublicKeyPEM(data string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("certutil: no PEM block found in supplied key material")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certutil: supplied key material is not an EC public key")
	}
	return ecPub, nil
}

// LoadPublicKey reads a single PEM-encoded PKIX public key from path and
// asserts it is an EC key.
func LoadPublicKey(path string) (*ecdsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certutil: parse public key %s: %w", path, err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certutil: %s is not an EC public key", path)
	}
	return ecPub, nil
}

// LoadRootCAPool reads one or more PEM-encoded certificates from path
// into a fresh CertPool.
func LoadRootCAPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certutil: read root ca file %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("certutil: no certificates found in %s", path)
	}
	return pool, nil
}

func readPEMBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certutil: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certutil: no PEM block found in %s", path)
	}
	return block, nil
}

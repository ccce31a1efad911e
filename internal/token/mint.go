package token

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ngtfieldbus/trust-broker/internal/component"
)

// Expiry is the fixed control-token lifetime. It is intentionally
// independent of device registration TTL: a short, constant window
// bounds the blast radius of a leaked token without requiring
// revocation infrastructure.
const Expiry = 6000 * time.Second

// Minter signs control tokens with the Arbiter's EC P-256 private key.
type Minter struct {
	PrivateKey *ecdsa.PrivateKey
	Issuer     component.Id
	Clock      Clock
}

// NewMinter constructs a Minter with the system clock.
func NewMinter(key *ecdsa.PrivateKey, issuer component.Id) *Minter {
	return &Minter{PrivateKey: key, Issuer: issuer, Clock: SystemClock{}}
}

// Mint signs one token binding subject (the requesting controller) to
// audience (a single target device), granting exactly the given
// parameter sets. One token is minted per device: the caller is
// expected to call Mint once per entry in a multi-device request;
// claims are never shared across devices.
func (m *Minter) Mint(subject, audience component.Id, paramsRead, paramsWrite []string) (string, error) {
	now := m.Clock.Now()
	claims := Claims{
		Issuer:      m.Issuer.String(),
		Subject:     subject.String(),
		Audience:    audience.String(),
		Expiry:      now.Add(Expiry).Unix(),
		ParamsRead:  paramsRead,
		ParamsWrite: paramsWrite,
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := jwtToken.SignedString(m.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign control token: %w", err)
	}
	return signed, nil
}

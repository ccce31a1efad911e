package token

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ngtfieldbus/trust-broker/internal/component"
)

// ErrExpired is returned when the token's exp claim is not strictly in
// the future at verification time; exp == now is rejected, not just
// exp < now.
var ErrExpired = errors.New("token expired")

// ErrWrongAudience is returned when the token's aud claim does not match
// the verifying device.
var ErrWrongAudience = errors.New("token audience mismatch")

// Verifier checks control tokens against the Arbiter's EC public key.
type Verifier struct {
	PublicKey *ecdsa.PublicKey
	Device    component.Id
	Clock     Clock
}

// NewVerifier constructs a Verifier with the system clock.
func NewVerifier(key *ecdsa.PublicKey, device component.Id) *Verifier {
	return &Verifier{PublicKey: key, Device: device, Clock: SystemClock{}}
}

// Verify decodes and validates tokenString, enforcing, in order:
// alg == ES256 (never honouring any other alg even if the signature
// field is empty), signature validity, exp > now, and aud == this device.
// exp is checked against v.Clock only; golang-jwt's own claim validation
// (which would read the real wall clock) is disabled.
// It does not check parameter permission; callers check CanRead/CanWrite
// on the returned Claims themselves, since that decision depends on the
// requested parameter and access direction.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithoutClaimsValidation())
	if err != nil {
		return Claims{}, fmt.Errorf("decode control token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, fmt.Errorf("decode control token: invalid claims")
	}

	now := v.Clock.Now()
	if claims.Expiry <= now.Unix() {
		return Claims{}, ErrExpired
	}

	if !claims.IssuedTo(v.Device) {
		return Claims{}, ErrWrongAudience
	}

	return *claims, nil
}

// Package token implements control-token claims, minting, and
// verification: a compact JWS signed with the Arbiter's EC P-256 key,
// alg=ES256 exclusively.
package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/ngtfieldbus/trust-broker/internal/component"
)

// Claims is the control-token claim set: issuer, subject, audience,
// expiry, and the granted read/write parameter sets. Field names are
// snake_case on the wire, distinct from the camelCase used by the
// request/response JSON around it.
type Claims struct {
	Issuer      string   `json:"iss"`
	Subject     string   `json:"sub"`
	Audience    string   `json:"aud"`
	Expiry      int64    `json:"exp"`
	ParamsRead  []string `json:"params_read"`
	ParamsWrite []string `json:"params_write"`
}

// GetExpirationTime, GetIssuedAt, GetNotBefore, GetIssuer, GetSubject,
// and GetAudience implement jwt.ClaimsValidator's required jwt.Claims
// interface. Only iss/sub/aud/exp are meaningful here; iat and nbf
// return nil. Verify turns off golang-jwt's registered-claim validation
// and checks exp and aud itself.
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(unixToTime(c.Expiry)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c Claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return jwt.ClaimStrings{c.Audience}, nil }

// IssuedTo reports whether these claims bind the given device as the
// audience. Signature verification covers aud, so an attacker who
// intercepts a token cannot rewrite it to target a different device.
func (c Claims) IssuedTo(device component.Id) bool {
	return c.Audience == device.String()
}

// CanRead reports whether parameter is in the granted read set.
func (c Claims) CanRead(parameter string) bool {
	return containsString(c.ParamsRead, parameter)
}

// CanWrite reports whether parameter is in the granted write set.
func (c Claims) CanWrite(parameter string) bool {
	return containsString(c.ParamsWrite, parameter)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

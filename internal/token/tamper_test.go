package token_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// tamperAudience re-encodes the payload segment of a compact JWS with a
// different "aud" value, leaving the header and signature segments
// untouched, simulating an attacker rewriting the audience claim on an
// intercepted token without access to the signing key.
func tamperAudience(t *testing.T, signed, newAudience string) string {
	t.Helper()
	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &claims))
	claims["aud"] = newAudience

	tamperedPayload, err := json.Marshal(claims)
	require.NoError(t, err)

	parts[1] = base64.RawURLEncoding.EncodeToString(tamperedPayload)
	return strings.Join(parts, ".")
}

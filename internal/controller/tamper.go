package controller

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TamperAudience re-encodes the payload segment of a compact JWS with a
// different "aud" claim, leaving the header and signature segments
// untouched. It exists to drive the audience-tamper negative test: a
// token minted for one device, rewritten post-hoc to target another,
// must fail signature verification at the target device.
func TamperAudience(signed, newAudience string) (string, error) {
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("controller: not a compact JWS: %d segments", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("controller: decode token payload: %w", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("controller: unmarshal token payload: %w", err)
	}
	claims["aud"] = newAudience

	tampered, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("controller: marshal tampered payload: %w", err)
	}

	parts[1] = base64.RawURLEncoding.EncodeToString(tampered)
	return strings.Join(parts, "."), nil
}

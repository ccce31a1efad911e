// Package component defines ComponentId, the UUID identifying every
// Arbiter, Device, and Controller in the fieldbus.
package component

import (
	"fmt"

	"github.com/google/uuid"
)

// Id is a universally unique 128-bit identifier, rendered in canonical
// 8-4-4-4-12 hex form on the wire and in JWT claims.
type Id uuid.UUID

// Nil is the zero Id.
var Nil = Id(uuid.Nil)

// New generates a random (v4) Id.
func New() Id {
	return Id(uuid.New())
}

// Parse parses the canonical string form of an Id.
func Parse(s string) (Id, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse component id %q: %w", s, err)
	}
	return Id(u), nil
}

// String renders the canonical 8-4-4-4-12 form.
func (id Id) String() string {
	return uuid.UUID(id).String()
}

// MarshalJSON renders the Id as its canonical JSON string form.
func (id Id) MarshalJSON() ([]byte, error) {
	return uuid.UUID(id).MarshalJSON()
}

// UnmarshalJSON parses the canonical JSON string form into the Id.
func (id *Id) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalJSON(data); err != nil {
		return err
	}
	*id = Id(u)
	return nil
}

// MarshalText supports using an Id as a map key in encoding/json.
func (id Id) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText supports using an Id as a map key in encoding/json.
func (id *Id) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

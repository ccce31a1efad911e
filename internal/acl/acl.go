// Package acl implements the Arbiter's immutable ACL database and the
// matching rule used to gate control-token issuance.
package acl

import (
	"github.com/ngtfieldbus/trust-broker/internal/component"
)

// Access is the direction of a parameter operation.
type Access int

const (
	// Read gates GET operations.
	Read Access = iota
	// Write gates PUT operations.
	Write
)

// Entry authorizes a set of controllers to read/write a set of
// parameters on a set of devices.
type Entry struct {
	ControllerCIDs []component.Id `json:"controllerCids"`
	DeviceCIDs     []component.Id `json:"deviceCids"`
	Parameters     Parameters     `json:"parameters"`
}

// Parameters splits the readable and writable parameter sets of an Entry.
type Parameters struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Database is an ordered, immutable set of ACL entries, loaded once at
// startup from config.json's inline "acl" array.
type Database struct {
	Entries []Entry
}

// Allows reports whether any entry in the database matches the request
// triple (controller, device, parameter) for the given access direction.
func (db Database) Allows(controller, device component.Id, parameter string, access Access) bool {
	for _, e := range db.Entries {
		if !containsID(e.ControllerCIDs, controller) {
			continue
		}
		if !containsID(e.DeviceCIDs, device) {
			continue
		}
		params := e.Parameters.Read
		if access == Write {
			params = e.Parameters.Write
		}
		if containsString(params, parameter) {
			return true
		}
	}
	return false
}

// AllowsAll reports whether the database grants controller access to
// every parameter in reads (for Read) and writes (for Write) on device.
// Used by the control-token mint path, which must issue zero tokens if
// any single parameter grant is missing.
func (db Database) AllowsAll(controller, device component.Id, reads, writes []string) bool {
	for _, p := range reads {
		if !db.Allows(controller, device, p, Read) {
			return false
		}
	}
	for _, p := range writes {
		if !db.Allows(controller, device, p, Write) {
			return false
		}
	}
	return true
}

func containsID(haystack []component.Id, needle component.Id) bool {
	for _, id := range haystack {
		if id == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

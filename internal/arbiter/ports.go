package arbiter

import "github.com/ngtfieldbus/trust-broker/internal/component"

// Metrics receives counts for the operations the registry/mint actor
// performs. NopMetrics discards everything; a real implementation is
// wired from internal/telemetry in cmd/arbiter.
type Metrics interface {
	DeviceRegistered()
	RegistrationRejected(reason string)
	TokenMinted()
	TokenDenied(reason string)
}

type NopMetrics struct{}

func (NopMetrics) DeviceRegistered()            {}
func (NopMetrics) RegistrationRejected(string)  {}
func (NopMetrics) TokenMinted()                 {}
func (NopMetrics) TokenDenied(string)           {}

// AuditPublisher emits best-effort audit events. Publish failures must
// never affect the authorization decision; implementations log and
// swallow their own errors. NopAuditPublisher is the test/default.
type AuditPublisher interface {
	DeviceRegistered(cid component.Id)
	TokenMinted(controller, device component.Id)
	TokenDenied(controller component.Id, reason string)
}

type NopAuditPublisher struct{}

func (NopAuditPublisher) DeviceRegistered(component.Id)          {}
func (NopAuditPublisher) TokenMinted(component.Id, component.Id) {}
func (NopAuditPublisher) TokenDenied(component.Id, string)       {}

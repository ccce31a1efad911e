// Package eventbus publishes best-effort audit events onto a NATS
// JetStream stream. Publish failures are logged and swallowed: nothing
// here may affect an authorization decision.
package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/component"
)

const (
	streamAuditEvents = "FIELDBUS_AUDIT"

	subjectDeviceRegistered = "fieldbus.device.registered"
	subjectTokenMinted      = "fieldbus.token.minted"
	subjectTokenDenied      = "fieldbus.token.denied"
)

// Publisher wraps a NATS connection and JetStream context, publishing
// the Arbiter's audit events.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials url and provisions the audit events stream if it does
// not already exist.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: init jetstream: %w", err)
	}

	p := &Publisher{conn: nc, js: js, logger: logger}
	if err := p.provisionStream(); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("eventbus connected", zap.String("url", url))
	return p, nil
}

func (p *Publisher) provisionStream() error {
	if _, err := p.js.StreamInfo(streamAuditEvents); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("eventbus: stream info: %w", err)
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:      streamAuditEvents,
		Subjects:  []string{"fieldbus.>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("eventbus: create stream: %w", err)
	}
	return nil
}

// Close drains outstanding publishes before closing the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// publish marshals and sends payload in its own goroutine: JetStream
// publish acks are synchronous, and nothing in the audit path may add
// latency to the caller's request.
func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("eventbus: marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	go func() {
		if _, err := p.js.Publish(subject, data); err != nil {
			p.logger.Warn("eventbus: publish failed", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

// DeviceRegistered satisfies arbiter.AuditPublisher.
func (p *Publisher) DeviceRegistered(cid component.Id) {
	p.publish(subjectDeviceRegistered, struct {
		Cid string    `json:"cid"`
		At  time.Time `json:"at"`
	}{Cid: cid.String(), At: time.Now()})
}

// TokenMinted satisfies arbiter.AuditPublisher.
func (p *Publisher) TokenMinted(controller, device component.Id) {
	p.publish(subjectTokenMinted, struct {
		Controller string    `json:"controller"`
		Device     string    `json:"device"`
		At         time.Time `json:"at"`
	}{Controller: controller.String(), Device: device.String(), At: time.Now()})
}

// TokenDenied satisfies arbiter.AuditPublisher.
func (p *Publisher) TokenDenied(controller component.Id, reason string) {
	p.publish(subjectTokenDenied, struct {
		Controller string    `json:"controller"`
		Reason     string    `json:"reason"`
		At         time.Time `json:"at"`
	}{Controller: controller.String(), Reason: reason, At: time.Now()})
}

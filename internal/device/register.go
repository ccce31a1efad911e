package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
	"github.com/ngtfieldbus/trust-broker/internal/transport/dtls"
)

// RegistrationConfig names everything RegisterWithArbiter needs to
// announce this device to the Arbiter.
type RegistrationConfig struct {
	ArbiterAddr string
	DtlsConfig  *dtls.Config
	Cid         component.Id
	Label       string
	Manufacturer string
	Model       string
	Port        uint16
	TTLSeconds  uint64
}

// RegisterWithArbiter dials the Arbiter and issues PUT /devices/{cid},
// retrying with exponential backoff (at most 5 retries after the first
// attempt, 6 attempts in all) before giving up. The original reference implementation treats the first
// registration failure as fatal; this redesign tolerates a transient
// Arbiter restart during Device startup.
func RegisterWithArbiter(ctx context.Context, cfg RegistrationConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	body, err := json.Marshal(arbiter.RegisterPayload{
		Label:        cfg.Label,
		Manufacturer: cfg.Manufacturer,
		Model:        cfg.Model,
		Port:         cfg.Port,
		TTL:          cfg.TTLSeconds,
	})
	if err != nil {
		return fmt.Errorf("device: encode registration payload: %w", err)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		session, err := dtls.Dial(ctx, cfg.ArbiterAddr, cfg.DtlsConfig)
		if err != nil {
			logger.Warn("registration attempt failed to connect", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer session.Close()

		client := coap.NewClient(session)
		resp, err := client.Do(ctx, coap.CodePUT, []string{"devices", cfg.Cid.String()}, body)
		if err != nil {
			logger.Warn("registration attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if resp.Code != coap.CodeChanged {
			registrationErr := fmt.Errorf("arbiter rejected registration: %s", string(resp.Payload))
			logger.Warn("registration rejected", zap.Int("attempt", attempt), zap.Error(registrationErr))
			return registrationErr
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("device: registration with arbiter failed after retries: %w", err)
	}
	logger.Info("registered with arbiter", zap.String("cid", cfg.Cid.String()))
	return nil
}

package arbiter_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngtfieldbus/trust-broker/internal/acl"
	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/token"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func newTestRegistry(t *testing.T, aclDB *acl.Database) (*arbiter.Registry, func()) {
	t.Helper()
	if aclDB == nil {
		aclDB = &acl.Database{}
	}
	arbiterCid := component.New()
	minter := &token.Minter{PrivateKey: generateKey(t), Issuer: arbiterCid, Clock: fixedClock{time.Unix(1_700_000_000, 0)}}
	registry := arbiter.NewRegistry(minter, aclDB, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	return registry, cancel
}

func TestRegisterThenListRoundTrip(t *testing.T) {
	registry, cancel := newTestRegistry(t, nil)
	defer cancel()

	cid := component.New()
	ctx := context.Background()
	err := registry.Register(ctx, cid, arbiter.RegisterPayload{Label: "thermo", TTL: 3600})
	require.NoError(t, err)

	devices, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, cid, devices[0].Cid)
	assert.LessOrEqual(t, devices[0].TTL, uint64(3600))
}

func TestDuplicateRegistrationRejectedAndFirstRecordUnchanged(t *testing.T) {
	registry, cancel := newTestRegistry(t, nil)
	defer cancel()
	ctx := context.Background()

	cid := component.New()
	require.NoError(t, registry.Register(ctx, cid, arbiter.RegisterPayload{Label: "first", TTL: 3600}))

	err := registry.Register(ctx, cid, arbiter.RegisterPayload{Label: "second", TTL: 3600})
	assert.Error(t, err)

	devices, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "first", devices[0].Label)
}

func TestZeroTTLReportsImmediatelyExpired(t *testing.T) {
	registry, cancel := newTestRegistry(t, nil)
	defer cancel()
	ctx := context.Background()

	cid := component.New()
	require.NoError(t, registry.Register(ctx, cid, arbiter.RegisterPayload{Label: "edge", TTL: 0}))

	devices, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, uint64(0), devices[0].TTL)
}

func TestControlTokenDeniedWhenAnyParameterUnauthorized(t *testing.T) {
	controller, device := component.New(), component.New()
	aclDB := &acl.Database{Entries: []acl.Entry{{
		ControllerCIDs: []component.Id{controller},
		DeviceCIDs:     []component.Id{device},
		Parameters:     acl.Parameters{Read: []string{"temperature"}},
	}}}
	registry, cancel := newTestRegistry(t, aclDB)
	defer cancel()

	resp, err := registry.ControlToken(context.Background(), arbiter.ControlTokenRequest{
		Cid:        controller,
		Devices:    []component.Id{device},
		ParamsRead: []string{"temperature", "pressure"}, // pressure is not granted
	})
	assert.Error(t, err)
	assert.True(t, arbiter.IsForbidden(err))
	assert.Nil(t, resp.Tokens)
}

func TestControlTokenIssuedWhenFullyAuthorized(t *testing.T) {
	controller, deviceA, deviceB := component.New(), component.New(), component.New()
	aclDB := &acl.Database{Entries: []acl.Entry{{
		ControllerCIDs: []component.Id{controller},
		DeviceCIDs:     []component.Id{deviceA, deviceB},
		Parameters:     acl.Parameters{Read: []string{"speed"}, Write: []string{"setpoint"}},
	}}}
	registry, cancel := newTestRegistry(t, aclDB)
	defer cancel()

	resp, err := registry.ControlToken(context.Background(), arbiter.ControlTokenRequest{
		Cid:         controller,
		Devices:     []component.Id{deviceA, deviceB},
		ParamsRead:  []string{"speed"},
		ParamsWrite: []string{"setpoint"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Tokens, 2)
	assert.NotEmpty(t, resp.Tokens[deviceA])
	assert.NotEmpty(t, resp.Tokens[deviceB])
}

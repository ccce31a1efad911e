package controller_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngtfieldbus/trust-broker/internal/acl"
	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/certutil"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/controller"
	"github.com/ngtfieldbus/trust-broker/internal/device"
	"github.com/ngtfieldbus/trust-broker/internal/token"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
	"github.com/ngtfieldbus/trust-broker/internal/transport/dtls"
)

var rootCA *certutil.CA

func TestMain(m *testing.M) {
	ca, err := certutil.NewCA("e2e-test-root")
	if err != nil {
		panic(err)
	}
	rootCA = ca
	os.Exit(m.Run())
}

func dtlsConfigFor(t *testing.T, commonName, expectedPeer string) *dtls.Config {
	t.Helper()
	leaf, err := rootCA.IssueLeaf(commonName)
	require.NoError(t, err)
	return &dtls.Config{
		Certificate:      leaf.Certificate,
		PrivateKey:       leaf.PrivateKey,
		RootCAs:          rootCA.Pool(),
		ExpectedPeerName: expectedPeer,
		HandshakeTimeout: 2 * time.Second,
	}
}

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// startArbiter stands up a live Arbiter (registry + CoAP-over-mutual-DTLS
// listener) and returns its private key (for minting out-of-band test
// tokens), its CID, and its loopback address.
func startArbiter(t *testing.T, aclDB *acl.Database) (*ecdsa.PrivateKey, component.Id, string) {
	t.Helper()
	if aclDB == nil {
		aclDB = &acl.Database{}
	}
	arbiterCid := component.New()
	arbiterKey := generateKey(t)

	minter := &token.Minter{PrivateKey: arbiterKey, Issuer: arbiterCid, Clock: token.SystemClock{}}
	registry := arbiter.NewRegistry(minter, aclDB, nil, nil, nil)
	handler := arbiter.NewHandler(registry, nil)

	// The Arbiter's listener serves both Devices (registration) and
	// Controllers (discovery, control-token), so it cannot pin a single
	// expected client common name; only CA-chain validity is enforced.
	cfg := dtlsConfigFor(t, "arbiter.local", "")
	listener, err := dtls.Listen("127.0.0.1:0", cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	go coap.Serve(ctx, coap.AcceptFunc(func(ctx context.Context) (coap.FrameConn, error) {
		return listener.Accept(ctx)
	}), handler, nil)

	t.Cleanup(func() {
		cancel()
		listener.Close()
	})

	return arbiterKey, arbiterCid, listener.Addr().String()
}

// startDevice stands up a live Device CoAP-over-mutual-DTLS listener
// validating tokens against arbiterKey's public half.
func startDevice(t *testing.T, arbiterKey *ecdsa.PrivateKey, myCid component.Id, store device.ParameterStore) string {
	t.Helper()
	return startDeviceWithClock(t, arbiterKey, myCid, store, token.SystemClock{})
}

// fixedClock reports a constant instant, used to simulate a Device whose
// wall clock has moved past a token's expiry.
type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// startDeviceWithClock is startDevice with the verifier's Clock overridden,
// so tests can exercise expiry handling without waiting in real time.
func startDeviceWithClock(t *testing.T, arbiterKey *ecdsa.PrivateKey, myCid component.Id, store device.ParameterStore, clock token.Clock) string {
	t.Helper()
	verifier := &token.Verifier{PublicKey: &arbiterKey.PublicKey, Device: myCid, Clock: clock}
	handler := device.NewHandler(verifier, store, nil, nil)

	// The Device's listener serves Controllers only in this test, but
	// leaves the expected peer name unpinned to match the Arbiter's
	// listener posture above.
	cfg := dtlsConfigFor(t, "device.local", "")
	listener, err := dtls.Listen("127.0.0.1:0", cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go coap.Serve(ctx, coap.AcceptFunc(func(ctx context.Context) (coap.FrameConn, error) {
		return listener.Accept(ctx)
	}), handler, nil)

	t.Cleanup(func() {
		cancel()
		listener.Close()
	})

	return listener.Addr().String()
}

func dialArbiter(t *testing.T, controllerCid component.Id, addr string) *controller.Client {
	t.Helper()
	cfg := dtlsConfigFor(t, "controller.local", "arbiter.local")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := dtls.Dial(ctx, addr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return controller.NewClient(session)
}

func dialDevice(t *testing.T, addr string) coap.FrameConn {
	t.Helper()
	cfg := dtlsConfigFor(t, "controller.local", "device.local")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := dtls.Dial(ctx, addr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

// Scenario 1: happy-path read.
func TestEndToEndHappyPathRead(t *testing.T) {
	deviceCid := component.New()
	controllerCid := component.New()
	aclDB := &acl.Database{Entries: []acl.Entry{{
		ControllerCIDs: []component.Id{controllerCid},
		DeviceCIDs:     []component.Id{deviceCid},
		Parameters:     acl.Parameters{Read: []string{"speed"}},
	}}}

	arbiterKey, _, arbiterAddr := startArbiter(t, aclDB)
	deviceAddr := startDevice(t, arbiterKey, deviceCid, nil)

	arbiterClient := dialArbiter(t, controllerCid, arbiterAddr)
	require.NoError(t, registerDevice(t, arbiterAddr, deviceCid, 40001, 3600))

	ctx := context.Background()
	tokenResp, err := arbiterClient.RequestControlToken(ctx, controllerCid, []component.Id{deviceCid}, []string{"speed"}, nil)
	require.NoError(t, err)
	require.Contains(t, tokenResp.Tokens, deviceCid)

	deviceSession := dialDevice(t, deviceAddr)
	resp, err := controller.ReadParameter(ctx, deviceSession, "speed", tokenResp.Tokens[deviceCid])
	require.NoError(t, err)
	assert.Equal(t, coap.CodeContent, resp.Code)
	assert.Equal(t, "42", string(resp.Payload))
}

// Scenario 2: audience tamper attack.
func TestEndToEndAudienceTamperAttackRejected(t *testing.T) {
	deviceA := component.New()
	deviceB := component.New()
	controllerCid := component.New()
	aclDB := &acl.Database{Entries: []acl.Entry{{
		ControllerCIDs: []component.Id{controllerCid},
		DeviceCIDs:     []component.Id{deviceA, deviceB},
		Parameters:     acl.Parameters{Write: []string{"setpoint"}},
	}}}

	arbiterKey, _, arbiterAddr := startArbiter(t, aclDB)
	deviceBAddr := startDevice(t, arbiterKey, deviceB, nil)

	arbiterClient := dialArbiter(t, controllerCid, arbiterAddr)
	require.NoError(t, registerDevice(t, arbiterAddr, deviceA, 40001, 3600))
	require.NoError(t, registerDevice(t, arbiterAddr, deviceB, 40002, 3600))

	ctx := context.Background()
	tokenResp, err := arbiterClient.RequestControlToken(ctx, controllerCid, []component.Id{deviceA}, nil, []string{"setpoint"})
	require.NoError(t, err)

	tampered, err := controller.TamperAudience(tokenResp.Tokens[deviceA], deviceB.String())
	require.NoError(t, err)

	deviceSession := dialDevice(t, deviceBAddr)
	resp, err := controller.WriteParameter(ctx, deviceSession, "setpoint", tampered, "99")
	require.NoError(t, err)
	assert.Equal(t, coap.CodeForbidden, resp.Code)
}

// Scenario 3: expired token.
func TestEndToEndExpiredTokenRejected(t *testing.T) {
	deviceCid := component.New()
	controllerCid := component.New()
	aclDB := &acl.Database{Entries: []acl.Entry{{
		ControllerCIDs: []component.Id{controllerCid},
		DeviceCIDs:     []component.Id{deviceCid},
		Parameters:     acl.Parameters{Read: []string{"speed"}},
	}}}

	arbiterKey, _, arbiterAddr := startArbiter(t, aclDB)
	// The Device's clock is fixed just past the token's expiry window so
	// verification fails on exp without waiting in real time.
	deviceClock := fixedClock{at: time.Now().Add(token.Expiry + time.Minute)}
	deviceAddr := startDeviceWithClock(t, arbiterKey, deviceCid, nil, deviceClock)

	arbiterClient := dialArbiter(t, controllerCid, arbiterAddr)
	require.NoError(t, registerDevice(t, arbiterAddr, deviceCid, 40001, 3600))

	ctx := context.Background()
	tokenResp, err := arbiterClient.RequestControlToken(ctx, controllerCid, []component.Id{deviceCid}, []string{"speed"}, nil)
	require.NoError(t, err)

	deviceSession := dialDevice(t, deviceAddr)
	resp, err := controller.ReadParameter(ctx, deviceSession, "speed", tokenResp.Tokens[deviceCid])
	require.NoError(t, err)
	assert.Equal(t, coap.CodeForbidden, resp.Code)
}

// Scenario 4: unauthorized parameter.
func TestEndToEndUnauthorizedParameterRejected(t *testing.T) {
	deviceCid := component.New()
	controllerCid := component.New()
	aclDB := &acl.Database{Entries: []acl.Entry{{
		ControllerCIDs: []component.Id{controllerCid},
		DeviceCIDs:     []component.Id{deviceCid},
		Parameters:     acl.Parameters{Read: []string{"temperature"}},
	}}}

	arbiterKey, _, arbiterAddr := startArbiter(t, aclDB)
	deviceAddr := startDevice(t, arbiterKey, deviceCid, nil)

	arbiterClient := dialArbiter(t, controllerCid, arbiterAddr)
	require.NoError(t, registerDevice(t, arbiterAddr, deviceCid, 40001, 3600))

	ctx := context.Background()
	tokenResp, err := arbiterClient.RequestControlToken(ctx, controllerCid, []component.Id{deviceCid}, []string{"temperature"}, nil)
	require.NoError(t, err)

	deviceSession := dialDevice(t, deviceAddr)
	resp, err := controller.ReadParameter(ctx, deviceSession, "pressure", tokenResp.Tokens[deviceCid])
	require.NoError(t, err)
	assert.Equal(t, coap.CodeForbidden, resp.Code)
}

// Scenario 5: duplicate registration.
func TestEndToEndDuplicateRegistrationRejected(t *testing.T) {
	deviceCid := component.New()
	controllerCid := component.New()
	_, _, arbiterAddr := startArbiter(t, nil)
	arbiterClient := dialArbiter(t, controllerCid, arbiterAddr)

	require.NoError(t, registerDevice(t, arbiterAddr, deviceCid, 40001, 3600))
	err := registerDevice(t, arbiterAddr, deviceCid, 40001, 3600)
	assert.Error(t, err)

	devices, err := arbiterClient.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

// Scenario 6: ACL-denied mint, no partial issuance.
func TestEndToEndACLDeniedMintIssuesNoTokens(t *testing.T) {
	deviceCid := component.New()
	controllerCid := component.New()
	aclDB := &acl.Database{} // no entries at all

	_, _, arbiterAddr := startArbiter(t, aclDB)
	arbiterClient := dialArbiter(t, controllerCid, arbiterAddr)
	require.NoError(t, registerDevice(t, arbiterAddr, deviceCid, 40001, 3600))

	_, err := arbiterClient.RequestControlToken(context.Background(), controllerCid, []component.Id{deviceCid}, nil, []string{"setpoint"})
	assert.Error(t, err)
}

// registerDevice drives the same registration path a real Device takes
// at startup: dial the Arbiter and PUT /devices/{cid}.
func registerDevice(t *testing.T, arbiterAddr string, cid component.Id, port uint16, ttl uint64) error {
	t.Helper()
	cfg := registrationConfigFor(t, arbiterAddr, cid, port, ttl)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return device.RegisterWithArbiter(ctx, cfg, nil)
}

// registrationConfigFor builds a device.RegistrationConfig dialing the
// given arbiter address under a fresh leaf certificate.
func registrationConfigFor(t *testing.T, arbiterAddr string, cid component.Id, port uint16, ttl uint64) device.RegistrationConfig {
	t.Helper()
	return device.RegistrationConfig{
		ArbiterAddr:  arbiterAddr,
		DtlsConfig:   dtlsConfigFor(t, "device.local", "arbiter.local"),
		Cid:          cid,
		Label:        "test-device",
		Manufacturer: "acme",
		Model:        "widget",
		Port:         port,
		TTLSeconds:   ttl,
	}
}

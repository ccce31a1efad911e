package dtls_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngtfieldbus/trust-broker/internal/certutil"
	"github.com/ngtfieldbus/trust-broker/internal/transport/dtls"
)

func newTestConfig(t *testing.T, ca *certutil.CA, commonName string) *dtls.Config {
	t.Helper()
	leaf, err := ca.IssueLeaf(commonName)
	require.NoError(t, err)
	return &dtls.Config{
		Certificate:      leaf.Certificate,
		PrivateKey:       leaf.PrivateKey,
		RootCAs:          ca.Pool(),
		HandshakeTimeout: 2 * time.Second,
	}
}

func TestHandshakeAndFrameRoundTrip(t *testing.T) {
	ca, err := certutil.NewCA("test-root")
	require.NoError(t, err)

	serverCfg := newTestConfig(t, ca, "arbiter.local")
	serverCfg.ExpectedPeerName = "device.local"
	clientCfg := newTestConfig(t, ca, "device.local")
	clientCfg.ExpectedPeerName = "arbiter.local"

	listener, err := dtls.Listen("127.0.0.1:0", serverCfg, nil)
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type acceptResult struct {
		session *dtls.Session
		err     error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		s, err := listener.Accept(ctx)
		acceptCh <- acceptResult{s, err}
	}()

	clientSession, err := dtls.Dial(ctx, listener.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer clientSession.Close()

	accepted := <-acceptCh
	require.NoError(t, accepted.err)
	serverSession := accepted.session
	defer serverSession.Close()

	require.Equal(t, "device.local", serverSession.PeerCertificate().Subject.CommonName)
	require.Equal(t, "arbiter.local", clientSession.PeerCertificate().Subject.CommonName)

	require.NoError(t, clientSession.WriteFrame([]byte("hello arbiter")))
	frame, err := serverSession.ReadFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello arbiter", string(frame))

	require.NoError(t, serverSession.WriteFrame([]byte("hello device")))
	frame, err = clientSession.ReadFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello device", string(frame))
}

func TestDialRejectsUntrustedServerCertificate(t *testing.T) {
	trustedCA, err := certutil.NewCA("trusted-root")
	require.NoError(t, err)
	untrustedCA, err := certutil.NewCA("untrusted-root")
	require.NoError(t, err)

	serverCfg := newTestConfig(t, untrustedCA, "arbiter.local")
	clientCfg := newTestConfig(t, trustedCA, "device.local")

	listener, err := dtls.Listen("127.0.0.1:0", serverCfg, nil)
	require.NoError(t, err)
	defer listener.Close()

	clientCfg.HandshakeTimeout = 500 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = dtls.Dial(ctx, listener.Addr().String(), clientCfg)
	require.Error(t, err)
}

func TestListenerRejectsClientWithWrongCommonName(t *testing.T) {
	ca, err := certutil.NewCA("test-root")
	require.NoError(t, err)

	serverCfg := newTestConfig(t, ca, "arbiter.local")
	serverCfg.ExpectedPeerName = "device.local"
	clientCfg := newTestConfig(t, ca, "impostor.local")

	listener, err := dtls.Listen("127.0.0.1:0", serverCfg, nil)
	require.NoError(t, err)
	defer listener.Close()

	clientCfg.HandshakeTimeout = 500 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = dtls.Dial(ctx, listener.Addr().String(), clientCfg)
	require.Error(t, err)
}

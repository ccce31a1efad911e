package coap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := coap.Message{
		Type:      coap.Confirmable,
		Code:      coap.CodePUT,
		MessageID: 0xBEEF,
		Token:     []byte{0x01, 0x02, 0x03},
		Path:      []string{"devices", "11111111-1111-1111-1111-111111111111"},
		Payload:   []byte(`{"label":"thermo"}`),
	}

	encoded, err := coap.Encode(msg)
	require.NoError(t, err)

	decoded, err := coap.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.Code, decoded.Code)
	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.Token, decoded.Token)
	assert.Equal(t, msg.Path, decoded.Path)
	assert.Equal(t, msg.Payload, decoded.Payload)
}

func TestEncodeDecodeNoPayloadNoOptions(t *testing.T) {
	msg := coap.Message{
		Type:      coap.Acknowledgement,
		Code:      coap.CodeChanged,
		MessageID: 7,
	}

	encoded, err := coap.Encode(msg)
	require.NoError(t, err)

	decoded, err := coap.Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded.Path)
	assert.Empty(t, decoded.Payload)
	assert.Equal(t, msg.Code, decoded.Code)
}

func TestPathStringJoinsSegments(t *testing.T) {
	msg := coap.Message{Path: []string{"devices", "abc"}}
	assert.Equal(t, "devices/abc", msg.PathString())
}

func TestIsRequest(t *testing.T) {
	assert.True(t, coap.Message{Code: coap.CodeGET}.IsRequest())
	assert.False(t, coap.Message{Code: coap.CodeChanged}.IsRequest())
	assert.False(t, coap.Message{Code: 0}.IsRequest())
}

func TestDecodeRejectsTooShort(t *testing.T) {
	_, err := coap.Decode([]byte{0x40, 0x01})
	assert.Error(t, err)
}

func TestDecodeShortPathSegment(t *testing.T) {
	// Exercise the direct (non-extended) option-length path alongside the
	// extended path covered by the UUID segment above.
	msg := coap.Message{
		Type: coap.Confirmable,
		Code: coap.CodeGET,
		Path: []string{"speed"},
	}
	encoded, err := coap.Encode(msg)
	require.NoError(t, err)
	decoded, err := coap.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []string{"speed"}, decoded.Path)
}

package arbiter_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
)

func TestHandlerRegisterListAndNotFound(t *testing.T) {
	registry, cancel := newTestRegistry(t, nil)
	defer cancel()
	handler := arbiter.NewHandler(registry, nil)
	ctx := context.Background()

	cid := component.New()
	body, err := json.Marshal(arbiter.RegisterPayload{Label: "thermo", Manufacturer: "Acme", Model: "T1", Port: 40001, TTL: 3600})
	require.NoError(t, err)

	resp := handler.Handle(ctx, nil, coap.Message{Code: coap.CodePUT, Path: []string{"devices", cid.String()}, Payload: body})
	assert.Equal(t, coap.CodeChanged, resp.Code)

	resp = handler.Handle(ctx, nil, coap.Message{Code: coap.CodeGET, Path: []string{"devices"}})
	assert.Equal(t, coap.CodeContent, resp.Code)
	var devices []arbiter.ApiDevice
	require.NoError(t, json.Unmarshal(resp.Payload, &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, cid, devices[0].Cid)

	resp = handler.Handle(ctx, nil, coap.Message{Code: coap.CodeGET, Path: []string{"unknown"}})
	assert.Equal(t, coap.CodeNotFound, resp.Code)
}

func TestHandlerRegisterRejectsMalformedBody(t *testing.T) {
	registry, cancel := newTestRegistry(t, nil)
	defer cancel()
	handler := arbiter.NewHandler(registry, nil)

	cid := component.New()
	resp := handler.Handle(context.Background(), nil, coap.Message{
		Code:    coap.CodePUT,
		Path:    []string{"devices", cid.String()},
		Payload: []byte("not json"),
	})
	assert.Equal(t, coap.CodeBadRequest, resp.Code)
}

func TestHandlerControlTokenEmptyDevicesRejected(t *testing.T) {
	registry, cancel := newTestRegistry(t, nil)
	defer cancel()
	handler := arbiter.NewHandler(registry, nil)

	body, err := json.Marshal(arbiter.ControlTokenRequest{Cid: component.New()})
	require.NoError(t, err)

	resp := handler.Handle(context.Background(), nil, coap.Message{Code: coap.CodeGET, Path: []string{"controlToken"}, Payload: body})
	assert.Equal(t, coap.CodeBadRequest, resp.Code)
}

// Package controller implements the minimal programmatic client needed
// to exercise the Arbiter/Device core end-to-end: device discovery,
// control-token request, and parameter GET/PUT. The interactive
// front-end this stands in for is out of scope.
package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
)

// Client drives an Arbiter and, once a token is in hand, any Device
// directly, each over its own established CoAP session.
type Client struct {
	arbiter *coap.Client
}

// NewClient wraps an established session to the Arbiter.
func NewClient(arbiterSession coap.FrameConn) *Client {
	return &Client{arbiter: coap.NewClient(arbiterSession)}
}

// ListDevices calls GET /devices on the Arbiter.
func (c *Client) ListDevices(ctx context.Context) ([]arbiter.ApiDevice, error) {
	resp, err := c.arbiter.Do(ctx, coap.CodeGET, []string{"devices"}, nil)
	if err != nil {
		return nil, fmt.Errorf("controller: list devices: %w", err)
	}
	if resp.Code != coap.CodeContent {
		return nil, fmt.Errorf("controller: list devices failed: %s", string(resp.Payload))
	}
	var devices []arbiter.ApiDevice
	if err := json.Unmarshal(resp.Payload, &devices); err != nil {
		return nil, fmt.Errorf("controller: decode device list: %w", err)
	}
	return devices, nil
}

// RequestControlToken calls GET /controlToken on the Arbiter, requesting
// the given read/write parameter grants on each device.
func (c *Client) RequestControlToken(ctx context.Context, self component.Id, devices []component.Id, paramsRead, paramsWrite []string) (arbiter.ControlTokenResponse, error) {
	req := arbiter.ControlTokenRequest{Cid: self, Devices: devices, ParamsRead: paramsRead, ParamsWrite: paramsWrite}
	payload, err := json.Marshal(req)
	if err != nil {
		return arbiter.ControlTokenResponse{}, fmt.Errorf("controller: encode control token request: %w", err)
	}

	resp, err := c.arbiter.Do(ctx, coap.CodeGET, []string{"controlToken"}, payload)
	if err != nil {
		return arbiter.ControlTokenResponse{}, fmt.Errorf("controller: control token request: %w", err)
	}
	if resp.Code != coap.CodeContent {
		return arbiter.ControlTokenResponse{}, fmt.Errorf("controller: control token denied: %s", string(resp.Payload))
	}

	var result arbiter.ControlTokenResponse
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return arbiter.ControlTokenResponse{}, fmt.Errorf("controller: decode control token response: %w", err)
	}
	return result, nil
}

// ReadParameter calls GET /{parameter} on an already-dialed Device
// session, presenting token.
func ReadParameter(ctx context.Context, deviceSession coap.FrameConn, parameter, token string) (coap.Message, error) {
	client := coap.NewClient(deviceSession)
	payload, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: token})
	if err != nil {
		return coap.Message{}, fmt.Errorf("controller: encode read request: %w", err)
	}
	return client.Do(ctx, coap.CodeGET, []string{parameter}, payload)
}

// WriteParameter calls PUT /{parameter} on an already-dialed Device
// session, presenting token and value.
func WriteParameter(ctx context.Context, deviceSession coap.FrameConn, parameter, token, value string) (coap.Message, error) {
	client := coap.NewClient(deviceSession)
	payload, err := json.Marshal(struct {
		Token string `json:"token"`
		Value string `json:"value"`
	}{Token: token, Value: value})
	if err != nil {
		return coap.Message{}, fmt.Errorf("controller: encode write request: %w", err)
	}
	return client.Do(ctx, coap.CodePUT, []string{parameter}, payload)
}

package arbiter

import "github.com/ngtfieldbus/trust-broker/internal/component"

// ApiDevice is the wire representation of a registered device, used as
// an element of the GET /devices response array. The PUT /devices/{cid}
// request body is RegisterPayload.
type ApiDevice struct {
	Cid          component.Id `json:"cid"`
	Label        string       `json:"label"`
	Manufacturer string       `json:"manufacturer"`
	Model        string       `json:"model"`
	Port         uint16       `json:"port"`
	TTL          uint64       `json:"ttl"`
}

// RegisterPayload is the PUT /devices/{cid} request body; cid itself
// comes from the path, not the body.
type RegisterPayload struct {
	Label        string `json:"label"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Port         uint16 `json:"port"`
	TTL          uint64 `json:"ttl"`
}

// ControlTokenRequest is the GET /controlToken request body.
type ControlTokenRequest struct {
	Cid         component.Id   `json:"cid"`
	Devices     []component.Id `json:"devices"`
	ParamsRead  []string       `json:"paramsRead"`
	ParamsWrite []string       `json:"paramsWrite"`
}

// ControlTokenResponse is the GET /controlToken response body: one
// signed token per requested device, keyed by that device's CID.
type ControlTokenResponse struct {
	Tokens map[component.Id]string `json:"tokens"`
}

package arbiter

import (
	"context"
	"crypto/x509"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/fberrors"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
)

// Handler dispatches CoAP requests to the Registry per the routing
// table: GET devices -> List, PUT devices/{cid} -> Register, GET
// controlToken -> ControlToken.
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHandler constructs a Handler bound to registry.
func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, logger: logger}
}

var _ coap.Handler = (*Handler)(nil)

func (h *Handler) Handle(ctx context.Context, _ *x509.Certificate, req coap.Message) coap.Message {
	switch {
	case req.Code == coap.CodeGET && len(req.Path) == 1 && req.Path[0] == "devices":
		return h.handleList(ctx)
	case req.Code == coap.CodePUT && len(req.Path) == 2 && req.Path[0] == "devices":
		return h.handleRegister(ctx, req.Path[1], req.Payload)
	case req.Code == coap.CodeGET && len(req.Path) == 1 && req.Path[0] == "controlToken":
		return h.handleControlToken(ctx, req.Payload)
	default:
		return errorResponse(fberrors.NotFound())
	}
}

func (h *Handler) handleList(ctx context.Context) coap.Message {
	devices, err := h.registry.List(ctx)
	if err != nil {
		return errorResponse(fberrors.Internalf(err, "registry unavailable"))
	}
	body, err := json.Marshal(devices)
	if err != nil {
		return errorResponse(fberrors.Internalf(err, "encode device list"))
	}
	return coap.Message{Code: coap.CodeContent, Payload: body}
}

func (h *Handler) handleRegister(ctx context.Context, cidSegment string, payload []byte) coap.Message {
	cid, err := component.Parse(cidSegment)
	if err != nil {
		return errorResponse(fberrors.BadRequestf("invalid device CID %q", cidSegment))
	}

	var body RegisterPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return errorResponse(fberrors.BadRequestf("malformed registration payload: %v", err))
	}

	if err := h.registry.Register(ctx, cid, body); err != nil {
		return errorResponse(fberrors.BadRequestf("%s", err.Error()))
	}
	return coap.Message{Code: coap.CodeChanged}
}

func (h *Handler) handleControlToken(ctx context.Context, payload []byte) coap.Message {
	var req ControlTokenRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorResponse(fberrors.BadRequestf("malformed control token request: %v", err))
	}
	if len(req.Devices) == 0 {
		return errorResponse(fberrors.BadRequestf("devices must be non-empty"))
	}

	resp, err := h.registry.ControlToken(ctx, req)
	if err != nil {
		if IsForbidden(err) {
			return errorResponse(fberrors.Forbiddenf("not authorized for one or more requested parameters"))
		}
		return errorResponse(fberrors.Internalf(err, "token mint failed"))
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return errorResponse(fberrors.Internalf(err, "encode control token response"))
	}
	return coap.Message{Code: coap.CodeContent, Payload: body}
}

func errorResponse(err *fberrors.Error) coap.Message {
	return coap.Message{
		Code:    coap.NewCode(err.Code.Class, err.Code.Detail),
		Payload: []byte(err.Message),
	}
}

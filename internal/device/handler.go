package device

import (
	"context"
	"crypto/x509"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/fberrors"
	"github.com/ngtfieldbus/trust-broker/internal/token"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
)

// Handler validates control tokens and serves parameter GET/PUT
// requests. Each request is handled statelessly: the token carries
// every fact the handler needs.
type Handler struct {
	verifier *token.Verifier
	store    ParameterStore
	logger   *zap.Logger
	metrics  Metrics
}

// NewHandler constructs a Handler. A nil store defaults to
// StubParameterStore, matching the reference behaviour of returning
// "42" for every read and discarding every write.
func NewHandler(verifier *token.Verifier, store ParameterStore, logger *zap.Logger, metrics Metrics) *Handler {
	if store == nil {
		store = StubParameterStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Handler{verifier: verifier, store: store, logger: logger, metrics: metrics}
}

var _ coap.Handler = (*Handler)(nil)

func (h *Handler) Handle(ctx context.Context, _ *x509.Certificate, req coap.Message) coap.Message {
	if len(req.Path) != 1 {
		return errorResponse(fberrors.NotFound())
	}
	parameter := req.Path[0]

	switch req.Code {
	case coap.CodeGET:
		return h.handleGet(ctx, parameter, req.Payload)
	case coap.CodePUT:
		return h.handlePut(ctx, parameter, req.Payload)
	default:
		return errorResponse(fberrors.NotFound())
	}
}

func (h *Handler) handleGet(ctx context.Context, parameter string, payload []byte) coap.Message {
	var body getParamPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return errorResponse(fberrors.BadRequestf("malformed request body: %v", err))
	}

	claims, err := h.verifyToken(body.Token)
	if err != nil {
		return errorResponse(err)
	}
	if !claims.CanRead(parameter) {
		h.metrics.ParameterDenied("read")
		return errorResponse(fberrors.Forbiddenf("No permission for parameter"))
	}

	value, err := h.store.Read(ctx, parameter)
	if err != nil {
		return errorResponse(fberrors.Internalf(err, "parameter read failed"))
	}
	h.metrics.ParameterServed("read")
	return coap.Message{Code: coap.CodeContent, Payload: []byte(value)}
}

func (h *Handler) handlePut(ctx context.Context, parameter string, payload []byte) coap.Message {
	var body setParamPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return errorResponse(fberrors.BadRequestf("malformed request body: %v", err))
	}

	claims, err := h.verifyToken(body.Token)
	if err != nil {
		return errorResponse(err)
	}
	if !claims.CanWrite(parameter) {
		h.metrics.ParameterDenied("write")
		return errorResponse(fberrors.Forbiddenf("No permission for parameter"))
	}

	if err := h.store.Write(ctx, parameter, body.Value); err != nil {
		return errorResponse(fberrors.Internalf(err, "parameter write failed"))
	}
	h.logger.Debug("parameter written", zap.String("parameter", parameter), zap.String("value", body.Value))
	h.metrics.ParameterServed("write")
	return coap.Message{Code: coap.CodeChanged}
}

// verifyToken decodes and validates a control token, translating the
// token package's sentinel errors into the client-safe forbidden
// message the request/response wire protocol expects, never echoing
// the underlying cryptographic error text.
func (h *Handler) verifyToken(tokenString string) (token.Claims, *fberrors.Error) {
	claims, err := h.verifier.Verify(tokenString)
	if err != nil {
		h.metrics.TokenRejected()
		return token.Claims{}, fberrors.Forbiddenf("token invalid or expired")
	}
	return claims, nil
}

func errorResponse(err *fberrors.Error) coap.Message {
	return coap.Message{
		Code:    coap.NewCode(err.Code.Class, err.Code.Detail),
		Payload: []byte(err.Message),
	}
}

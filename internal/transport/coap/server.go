package coap

import (
	"context"
	"crypto/x509"

	"go.uber.org/zap"
)

// FrameConn is the minimum a transport session must offer to carry CoAP
// messages: one WriteFrame call delivers exactly one Decode-able frame
// to the peer's ReadFrame call. *dtls.Session satisfies this.
type FrameConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(data []byte) error
	PeerCertificate() *x509.Certificate
	Close() error
}

// SessionListener accepts FrameConn sessions. Since *dtls.Listener's
// Accept method returns the concrete *dtls.Session type rather than
// this interface, callers adapt it with AcceptFunc.
type SessionListener interface {
	Accept(ctx context.Context) (FrameConn, error)
}

// AcceptFunc adapts a function, typically a closure wrapping a concrete
// listener's Accept method, to SessionListener.
type AcceptFunc func(ctx context.Context) (FrameConn, error)

func (f AcceptFunc) Accept(ctx context.Context) (FrameConn, error) {
	return f(ctx)
}

// Handler answers one decoded CoAP request with a response message. The
// MessageID and Token on the returned Message are filled in by Serve
// from the request; handlers only need to set Type, Code, and Payload.
type Handler interface {
	Handle(ctx context.Context, peerCert *x509.Certificate, req Message) Message
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, peerCert *x509.Certificate, req Message) Message

func (f HandlerFunc) Handle(ctx context.Context, peerCert *x509.Certificate, req Message) Message {
	return f(ctx, peerCert, req)
}

// Serve accepts sessions from listener until ctx is cancelled, running
// one goroutine per session that decodes requests and dispatches them to
// handler. Each session is served until its ReadFrame returns an error
// (peer disconnect or ctx cancellation).
func Serve(ctx context.Context, listener SessionListener, handler Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		session, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serveSession(ctx, session, handler, logger)
	}
}

func serveSession(ctx context.Context, session FrameConn, handler Handler, logger *zap.Logger) {
	defer session.Close()
	peerCert := session.PeerCertificate()
	for {
		frame, err := session.ReadFrame(ctx)
		if err != nil {
			return
		}

		req, err := Decode(frame)
		if err != nil {
			logger.Warn("coap: dropping undecodable frame", zap.Error(err))
			continue
		}
		if !req.IsRequest() {
			continue
		}

		resp := handler.Handle(ctx, peerCert, req)
		resp.MessageID = req.MessageID
		resp.Token = req.Token
		if resp.Type == 0 && req.Type == Confirmable {
			resp.Type = Acknowledgement
		}

		encoded, err := Encode(resp)
		if err != nil {
			logger.Error("coap: encode response", zap.Error(err))
			continue
		}
		if err := session.WriteFrame(encoded); err != nil {
			logger.Warn("coap: write response frame failed", zap.Error(err))
			return
		}
	}
}

// Package coap implements the subset of CoAP (RFC 7252) this fieldbus
// needs: confirmable GET/PUT requests, the Uri-Path option, and a small
// set of response codes. No third-party CoAP library exists anywhere in
// the retrieved example corpus, so this codec is written directly
// against the RFC — see DESIGN.md for the grounding note.
package coap

import (
	"fmt"
	"strings"
)

// Type is the CoAP message type (RFC 7252 §3).
type Type uint8

const (
	Confirmable    Type = 0
	NonConfirmable Type = 1
	Acknowledgement Type = 2
	Reset          Type = 3
)

// Code is a CoAP method or response code, (class, detail) packed as
// class<<5 | detail per RFC 7252 §3.
type Code uint8

func NewCode(class, detail uint8) Code {
	return Code(class<<5 | (detail & 0x1f))
}

func (c Code) Class() uint8  { return uint8(c) >> 5 }
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

// String renders c in RFC 7252's dotted class.detail notation, e.g. "2.05".
func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// Request methods.
const (
	CodeGET Code = 1
	CodePUT Code = 3
)

// Response codes used by the Arbiter and Device handlers.
var (
	CodeChanged    = NewCode(2, 4) // 2.04
	CodeContent    = NewCode(2, 5) // 2.05
	CodeBadRequest = NewCode(4, 0) // 4.00
	CodeForbidden  = NewCode(4, 3) // 4.03
	CodeNotFound   = NewCode(4, 4) // 4.04
	CodeInternal   = NewCode(5, 0) // 5.00
)

// optionNumberUriPath is the only CoAP option this implementation needs:
// Uri-Path (RFC 7252 §5.10), repeated once per path segment.
const optionNumberUriPath = 11

// Message is a decoded CoAP message.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Path      []string // decoded Uri-Path segments, in order
	Payload   []byte
}

// PathString renders Path as a "/"-joined string, e.g. "devices/<cid>".
func (m Message) PathString() string {
	return strings.Join(m.Path, "/")
}

// IsRequest reports whether this message carries a request code
// (class 0, detail != 0) as opposed to an empty Acknowledgement/Reset.
func (m Message) IsRequest() bool {
	return m.Code.Class() == 0 && m.Code.Detail() != 0
}

package coap

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
)

// Client issues confirmable requests over an already-established
// FrameConn session and waits for the matching response.
type Client struct {
	conn    FrameConn
	nextMID uint32
}

// NewClient wraps an established session for request/response use.
func NewClient(conn FrameConn) *Client {
	return &Client{conn: conn}
}

// Do sends a confirmable request built from code/path/payload and
// returns the decoded response. It is not safe for concurrent use by
// multiple goroutines against the same Client; callers needing
// pipelining should issue requests serially or use separate sessions.
func (c *Client) Do(ctx context.Context, code Code, path []string, payload []byte) (Message, error) {
	token := make([]byte, 4)
	if _, err := rand.Read(token); err != nil {
		return Message{}, fmt.Errorf("coap: generate token: %w", err)
	}

	req := Message{
		Type:      Confirmable,
		Code:      code,
		MessageID: uint16(atomic.AddUint32(&c.nextMID, 1)),
		Token:     token,
		Path:      path,
		Payload:   payload,
	}

	encoded, err := Encode(req)
	if err != nil {
		return Message{}, fmt.Errorf("coap: encode request: %w", err)
	}
	if err := c.conn.WriteFrame(encoded); err != nil {
		return Message{}, fmt.Errorf("coap: send request: %w", err)
	}

	for {
		frame, err := c.conn.ReadFrame(ctx)
		if err != nil {
			return Message{}, fmt.Errorf("coap: await response: %w", err)
		}
		resp, err := Decode(frame)
		if err != nil {
			continue
		}
		if resp.MessageID != req.MessageID {
			continue
		}
		return resp, nil
	}
}

package coap

import (
	"bytes"
	"fmt"
)

const (
	version      = 1
	payloadMarker = 0xFF
	maxTokenLen  = 8
)

// Encode renders m as a CoAP binary message (RFC 7252 §3).
func Encode(m Message) ([]byte, error) {
	if len(m.Token) > maxTokenLen {
		return nil, fmt.Errorf("coap: token length %d exceeds %d", len(m.Token), maxTokenLen)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(version<<6 | uint8(m.Type)<<4 | uint8(len(m.Token))))
	buf.WriteByte(byte(m.Code))
	buf.WriteByte(byte(m.MessageID >> 8))
	buf.WriteByte(byte(m.MessageID))
	buf.Write(m.Token)

	lastOptionNumber := 0
	for _, segment := range m.Path {
		if err := writeOption(&buf, optionNumberUriPath, &lastOptionNumber, []byte(segment)); err != nil {
			return nil, err
		}
	}

	if len(m.Payload) > 0 {
		buf.WriteByte(payloadMarker)
		buf.Write(m.Payload)
	}

	return buf.Bytes(), nil
}

func writeOption(buf *bytes.Buffer, number int, lastNumber *int, value []byte) error {
	delta := number - *lastNumber
	if delta < 0 {
		return fmt.Errorf("coap: options must be written in ascending number order")
	}
	*lastNumber = number

	deltaNibble, deltaExt, err := splitExtended(delta)
	if err != nil {
		return err
	}
	lenNibble, lenExt, err := splitExtended(len(value))
	if err != nil {
		return err
	}

	buf.WriteByte(byte(deltaNibble<<4 | lenNibble))
	buf.Write(deltaExt)
	buf.Write(lenExt)
	buf.Write(value)
	return nil
}

// splitExtended encodes a CoAP option delta or length as a 4-bit nibble
// plus optional 1-byte extension, supporting values up to 268 (13-byte
// direct range plus the 1-byte extended range) — sufficient for Uri-Path
// segments up to and including a 36-character UUID string.
func splitExtended(v int) (nibble int, ext []byte, err error) {
	switch {
	case v < 13:
		return v, nil, nil
	case v <= 13+255:
		return 13, []byte{byte(v - 13)}, nil
	default:
		return 0, nil, fmt.Errorf("coap: value %d exceeds supported extended-length range", v)
	}
}

// Decode parses a CoAP binary message.
func Decode(data []byte) (Message, error) {
	if len(data) < 4 {
		return Message{}, fmt.Errorf("coap: message too short (%d bytes)", len(data))
	}

	ver := data[0] >> 6
	if ver != version {
		return Message{}, fmt.Errorf("coap: unsupported version %d", ver)
	}
	typ := Type((data[0] >> 4) & 0x3)
	tkl := int(data[0] & 0xf)
	if tkl > maxTokenLen {
		return Message{}, fmt.Errorf("coap: invalid token length %d", tkl)
	}

	code := Code(data[1])
	messageID := uint16(data[2])<<8 | uint16(data[3])

	pos := 4
	if pos+tkl > len(data) {
		return Message{}, fmt.Errorf("coap: truncated token")
	}
	token := append([]byte(nil), data[pos:pos+tkl]...)
	pos += tkl

	var path []string
	lastOptionNumber := 0
	for pos < len(data) {
		if data[pos] == payloadMarker {
			pos++
			break
		}

		deltaNibble := int(data[pos] >> 4)
		lenNibble := int(data[pos] & 0xf)
		pos++

		delta, newPos, err := readExtended(data, pos, deltaNibble)
		if err != nil {
			return Message{}, err
		}
		pos = newPos

		length, newPos, err := readExtended(data, pos, lenNibble)
		if err != nil {
			return Message{}, err
		}
		pos = newPos

		if pos+length > len(data) {
			return Message{}, fmt.Errorf("coap: truncated option value")
		}
		value := data[pos : pos+length]
		pos += length

		optionNumber := lastOptionNumber + delta
		lastOptionNumber = optionNumber

		if optionNumber == optionNumberUriPath {
			path = append(path, string(value))
		}
	}

	payload := append([]byte(nil), data[pos:]...)

	return Message{
		Type:      typ,
		Code:      code,
		MessageID: messageID,
		Token:     token,
		Path:      path,
		Payload:   payload,
	}, nil
}

func readExtended(data []byte, pos int, nibble int) (value int, newPos int, err error) {
	switch {
	case nibble < 13:
		return nibble, pos, nil
	case nibble == 13:
		if pos >= len(data) {
			return 0, pos, fmt.Errorf("coap: truncated extended option")
		}
		return 13 + int(data[pos]), pos + 1, nil
	default:
		return 0, pos, fmt.Errorf("coap: unsupported extended option nibble %d", nibble)
	}
}

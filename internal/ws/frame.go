package ws

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// FrameKind is the decoded kind of a transport frame.
type FrameKind int

const (
	FrameText FrameKind = iota
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return fmt.Sprintf("frame(%d)", int(k))
	}
}

// maxControlPayload is the RFC 6455 limit for ping, pong and close payloads.
const maxControlPayload = 125

// Frame is a transport frame after decoding. CloseCode and CloseReason are
// only set for FrameClose.
type Frame struct {
	Kind        FrameKind
	Payload     []byte
	CloseCode   int
	CloseReason string
}

// FrameError reports a malformed frame. The connection stays usable; the
// frame is skipped.
type FrameError struct {
	Opcode int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed %s frame: %s", opcodeName(e.Opcode), e.Reason)
}

// OpcodeName returns the frame type name, e.g. "text" or "close".
func (e *FrameError) OpcodeName() string { return opcodeName(e.Opcode) }

// DecodeFrame maps a websocket message type (gorilla opcodes) and its
// payload to a Frame. Binary payloads are accepted as text when they are
// valid UTF-8, since some gateways send JSON in binary frames.
func DecodeFrame(opcode int, payload []byte) (Frame, error) {
	switch opcode {
	case websocket.TextMessage:
		if !utf8.Valid(payload) {
			return Frame{}, &FrameError{Opcode: opcode, Reason: "invalid utf-8 payload"}
		}
		return Frame{Kind: FrameText, Payload: payload}, nil

	case websocket.BinaryMessage:
		if !utf8.Valid(payload) {
			return Frame{}, &FrameError{Opcode: opcode, Reason: "binary payload is not utf-8 text"}
		}
		return Frame{Kind: FrameText, Payload: payload}, nil

	case websocket.PingMessage, websocket.PongMessage:
		if len(payload) > maxControlPayload {
			return Frame{}, &FrameError{Opcode: opcode, Reason: fmt.Sprintf("control payload of %d bytes", len(payload))}
		}
		kind := FramePing
		if opcode == websocket.PongMessage {
			kind = FramePong
		}
		return Frame{Kind: kind, Payload: payload}, nil

	case websocket.CloseMessage:
		return decodeClose(payload)

	default:
		return Frame{}, &FrameError{Opcode: opcode, Reason: "unknown opcode"}
	}
}

func decodeClose(payload []byte) (Frame, error) {
	if len(payload) > maxControlPayload {
		return Frame{}, &FrameError{Opcode: websocket.CloseMessage, Reason: fmt.Sprintf("control payload of %d bytes", len(payload))}
	}
	switch len(payload) {
	case 0:
		return Frame{Kind: FrameClose, CloseCode: websocket.CloseNoStatusReceived}, nil
	case 1:
		return Frame{}, &FrameError{Opcode: websocket.CloseMessage, Reason: "truncated close code"}
	}

	code := int(binary.BigEndian.Uint16(payload[:2]))
	if !validCloseCode(code) {
		return Frame{}, &FrameError{Opcode: websocket.CloseMessage, Reason: fmt.Sprintf("invalid close code %d", code)}
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return Frame{}, &FrameError{Opcode: websocket.CloseMessage, Reason: "invalid utf-8 close reason"}
	}
	return Frame{
		Kind:        FrameClose,
		Payload:     payload,
		CloseCode:   code,
		CloseReason: string(reason),
	}, nil
}

// EncodeClose builds a close payload. CloseNoStatusReceived encodes to an
// empty payload.
func EncodeClose(code int, reason string) []byte {
	return websocket.FormatCloseMessage(code, reason)
}

// validCloseCode reports whether code may appear on the wire (RFC 6455
// section 7.4 plus the IANA registered 1012-1014).
func validCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

func opcodeName(opcode int) string {
	switch opcode {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	case websocket.CloseMessage:
		return "close"
	case websocket.PingMessage:
		return "ping"
	case websocket.PongMessage:
		return "pong"
	default:
		return fmt.Sprintf("opcode %d", opcode)
	}
}

package websocket

// MessageType identifies whether a data frame carries text or binary
// payload (RFC 6455 Section 5.6).
type MessageType int

const (
	// TextMessage is a UTF-8 text message (opcode 0x1).
	TextMessage MessageType = 1

	// BinaryMessage is an arbitrary binary message (opcode 0x2).
	BinaryMessage MessageType = 2
)

func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "Text"
	case BinaryMessage:
		return "Binary"
	default:
		return "Unknown"
	}
}

// CloseCode is a WebSocket close status code (RFC 6455 Section 7.4).
type CloseCode int

const (
	CloseNormalClosure    CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	CloseProtocolError    CloseCode = 1002
	CloseUnsupportedData  CloseCode = 1003
	CloseNoStatusReceived CloseCode = 1005
	CloseAbnormalClosure  CloseCode = 1006
)

// encodeCloseFrame builds a Close control frame payload per RFC 6455
// Section 7.4: a 2-byte big-endian status code followed by an optional
// UTF-8 reason. It is used when the server loop itself initiates a close
// after a protocol violation, rather than echoing a peer-sent Close.
func encodeCloseFrame(code CloseCode, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return payload
}

// Type reports whether f carries a text or binary payload. It panics if
// called on a non-data frame (a control frame or a reserved opcode);
// callers should only call it after confirming f came from a Chat-style
// protocol's ProcessFrame, which only ever sees data frames.
func (f *Frame) Type() MessageType {
	switch f.Opcode {
	case opcodeText:
		return TextMessage
	case opcodeBinary:
		return BinaryMessage
	default:
		panic("websocket: Type called on a non-data frame")
	}
}

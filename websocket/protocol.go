package websocket

import "context"

// Protocol is the capability trait every application sub-protocol
// implements (spec.md §3). A prototype instance lives in the
// ProtocolRegistry; a fresh Clone is bound to each upgraded connection so
// per-connection state never leaks across connections.
type Protocol interface {
	// Name is the token negotiated in Sec-WebSocket-Protocol, matched
	// case-insensitively by the registry and the handshake.
	Name() string

	// ProcessFrame handles one inbound data frame already read off the
	// wire. It returns a non-nil Frame when an answer should be sent back
	// immediately, or (nil, nil) when the protocol has nothing to send in
	// reply (e.g. Chat).
	ProcessFrame(ctx context.Context, conn *Connection, in *Frame) (*Frame, error)

	// Clone returns an independent, freshly-constructed instance carrying
	// this prototype's configuration (e.g. compression/encryption
	// settings) but none of its per-connection state.
	Clone() Protocol
}

// RestEnvelopeCodec is implemented by the two REST sub-protocols
// (synopsejson, synopsebinary). The callback dispatcher (spec.md §4.6)
// type-asserts a connection's protocol against this interface and returns
// ErrNoRestProtocol if it doesn't satisfy it.
type RestEnvelopeCodec interface {
	Protocol

	// EncodeRequest packs a RestRequest into a "request"-headed frame,
	// used by the callback dispatcher to inject an outbound request.
	EncodeRequest(req *RestRequest) (*Frame, error)

	// DecodeAnswer unpacks an "answer"-headed frame back into a
	// RestResponse, used by the callback dispatcher to read the client's
	// reply.
	DecodeAnswer(f *Frame) (*RestResponse, error)
}

// ChatProtocol carries opaque text/binary frames and fires a callback for
// each one; it never produces an answer frame from ProcessFrame (spec.md
// §3).
type ChatProtocol struct {
	// OnFrame, if set, is invoked for every inbound data frame. It is
	// copied (not deep-cloned) into every connection-bound clone, so it
	// is normally a closure over shared, thread-safe state (e.g. a
	// broadcast Hub).
	OnFrame func(conn *Connection, frame *Frame)
}

// NewChatProtocol constructs a Chat protocol prototype with the given
// inbound-frame callback.
func NewChatProtocol(onFrame func(conn *Connection, frame *Frame)) *ChatProtocol {
	return &ChatProtocol{OnFrame: onFrame}
}

func (p *ChatProtocol) Name() string { return "chat" }

func (p *ChatProtocol) ProcessFrame(_ context.Context, conn *Connection, in *Frame) (*Frame, error) {
	if p.OnFrame != nil {
		p.OnFrame(conn, in)
	}
	return nil, nil
}

func (p *ChatProtocol) Clone() Protocol {
	return &ChatProtocol{OnFrame: p.OnFrame}
}

package websocket

import (
	"bufio"
	"context"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// websocketGUID is the magic GUID from RFC 6455 Section 1.3, concatenated
// onto the client's Sec-WebSocket-Key before SHA-1 hashing to produce
// Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// Server owns the protocol registry, the live connection index, and the
// handshake/callback entry points described in spec.md §4.6-§4.8.
type Server struct {
	Registry *ProtocolRegistry
	Config   Config
	Log      zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewServer constructs a Server bound to registry and cfg. log may be the
// zero zerolog.Logger, in which case every call is a silent no-op. A nil
// registry is replaced by an empty one, so s.Registry is never nil.
func NewServer(registry *ProtocolRegistry, cfg Config, log zerolog.Logger) *Server {
	if registry == nil {
		registry = NewProtocolRegistry()
	}
	return &Server{
		Registry: registry,
		Config:   cfg,
		Log:      log,
		conns:    make(map[string]*Connection),
	}
}

// Upgrade performs the RFC 6455 opening handshake (spec.md §4.8), clones a
// protocol from the registry by subprotocol negotiation, registers the
// resulting Connection under a fresh shortuuid identity, and returns it.
// The caller is expected to drive the connection's server loop (see Serve)
// afterward.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	if r.Method != http.MethodGet {
		return nil, ErrInvalidMethod
	}
	if !headerContainsToken(r.Header.Get("Upgrade"), "websocket") {
		return nil, ErrMissingUpgrade
	}
	if !headerContainsToken(r.Header.Get("Connection"), "upgrade") {
		return nil, ErrMissingConnection
	}
	version, err := strconv.Atoi(r.Header.Get("Sec-WebSocket-Version"))
	if err != nil || version < 13 {
		return nil, ErrInvalidVersion
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if !validSecKey(key) {
		return nil, ErrMissingSecKey
	}

	offered := r.Header.Get("Sec-WebSocket-Protocol")
	if offered == "" {
		return nil, ErrMissingProtocol
	}

	proto, negotiated := s.negotiateProtocol(offered)
	if proto == nil {
		return nil, ErrUnknownProtocol
	}

	accept := computeAcceptKey(key)

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", accept)
	w.Header().Set("Sec-WebSocket-Protocol", negotiated)
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, ErrHijackFailed
	}

	netConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return nil, err
	}
	if err := bufrw.Flush(); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	var reader *bufio.Reader
	if bufrw.Reader.Size() >= defaultReadBufferSize {
		reader = bufrw.Reader
	} else {
		reader = bufio.NewReaderSize(netConn, defaultReadBufferSize)
	}
	writer := bufio.NewWriterSize(netConn, defaultWriteBufferSize)

	id := shortuuid.New()
	conn := newConnection(id, netConn, reader, writer)
	conn.Protocol = proto
	conn.setState(StateOpen)

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	s.Log.Info().Str("conn", id).Str("protocol", negotiated).Msg("connection upgraded")

	return conn, nil
}

// negotiateProtocol picks the first subprotocol in the client's offered
// list (RFC 6455 Section 1.9 order) that the registry recognizes, and
// returns a fresh clone of it.
func (s *Server) negotiateProtocol(offered string) (Protocol, string) {
	for _, candidate := range strings.Split(offered, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if proto := s.Registry.CloneByName(candidate); proto != nil {
			return proto, candidate
		}
	}
	return nil, ""
}

// Serve drives conn's server loop until a terminal outcome, then removes
// it from the server's index and closes it. Call it in its own goroutine
// right after Upgrade succeeds.
func (s *Server) Serve(ctx context.Context, conn *Connection) {
	defer s.removeAndClose(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch conn.ProcessOne(ctx) {
		case OutcomeError, OutcomeClosed:
			return
		default:
		}
	}
}

func (s *Server) removeAndClose(conn *Connection) {
	s.mu.Lock()
	delete(s.conns, conn.ID)
	s.mu.Unlock()

	_ = conn.Close()
	s.Log.Info().Str("conn", conn.ID).Msg("connection closed")
}

// Lookup returns the connection registered under id, or nil.
func (s *Server) Lookup(id string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// Callback is the server-initiated half of the bidirectional exchange
// (spec.md §4.6): it resolves a connection by id, requires its protocol
// to be a RestEnvelopeCodec, acquires the connection (draining any
// pending inbound traffic first), injects req, and waits for the
// matching answer.
//
// It returns ErrUnknownConnection if id is not registered,
// ErrNoRestProtocol if the connection's protocol cannot carry a REST
// envelope, and ErrAcquireTimeout / ErrAnswerTimeout on the two
// configurable timeouts in s.Config.
func (s *Server) Callback(ctx context.Context, id string, req *RestRequest) (*RestResponse, error) {
	conn := s.Lookup(id)
	if conn == nil {
		return nil, ErrUnknownConnection
	}

	codec, ok := conn.Protocol.(RestEnvelopeCodec)
	if !ok {
		return nil, ErrNoRestProtocol
	}

	switch conn.drain(ctx) {
	case OutcomeError, OutcomeClosed:
		return nil, ErrConnectionClosed
	default:
	}

	acquireTimeout := time.Duration(s.Config.CallbackAcquireTimeoutMS) * time.Millisecond
	if !conn.TryAcquire(acquireTimeout) {
		return nil, ErrAcquireTimeout
	}
	defer conn.Release()

	reqFrame, err := codec.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	answerTimeout := time.Duration(s.Config.CallbackAnswerTimeoutMS) * time.Millisecond
	answerFrame, err := conn.injectAndAwait(reqFrame, answerTimeout)
	if err != nil {
		return nil, err
	}

	return codec.DecodeAnswer(answerFrame)
}

// computeAcceptKey computes Sec-WebSocket-Accept per RFC 6455 Section
// 1.3: base64(SHA-1(key + GUID)).
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// validSecKey reports whether key is present and, per RFC 6455 Section
// 1.3, base64-decodes to exactly 16 bytes.
func validSecKey(key string) bool {
	if key == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(decoded) == 16
}

// headerContainsToken reports whether header contains token as one of
// its comma-separated, case-insensitive entries.
func headerContainsToken(header, token string) bool {
	header = strings.ToLower(header)
	token = strings.ToLower(token)

	for _, h := range strings.Split(header, ",") {
		if strings.TrimSpace(h) == token {
			return true
		}
	}
	return false
}

package websocket

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is a Connection's position in the lifecycle spec.md §4.5 defines:
// PreUpgrade -> Upgrading -> Open -> Closing -> Closed.
type State int32

const (
	StatePreUpgrade State = iota
	StateUpgrading
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePreUpgrade:
		return "PreUpgrade"
	case StateUpgrading:
		return "Upgrading"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Outcome is ProcessOne's report of what happened on one pass of the
// server loop (spec.md §4.5).
type Outcome int

const (
	// OutcomeNone means no frame was available within the read timeout;
	// the caller should check liveness and loop again.
	OutcomeNone Outcome = iota
	// OutcomeDone means a frame was read and handled normally.
	OutcomeDone
	// OutcomeError means a protocol or I/O error occurred; the caller
	// should tear the connection down.
	OutcomeError
	// OutcomeClosed means a Close frame was received and echoed; the
	// caller should tear the connection down without treating it as an
	// error.
	OutcomeClosed
)

const (
	// acquireTryInterval is how long TryAcquire waits for the lock before
	// giving up, per pass of the server loop (spec.md §4.5).
	acquireTryInterval = 5 * time.Millisecond

	// readPollTimeout bounds each getFrame call so the loop can re-check
	// liveness and the acquire lock even when the peer is silent.
	readPollTimeout = 5 * time.Millisecond

	// pingIdleThreshold is how long a connection may go without a frame
	// before the server loop emits a keepalive ping.
	pingIdleThreshold = 5 * time.Second
)

// Connection is one upgraded WebSocket connection: the raw socket, the
// buffered reader/writer pair, the negotiated Protocol clone, and the
// acquire lock that arbitrates between the server's own read loop and a
// server-initiated callback injecting an outbound request (spec.md §4.5,
// §4.6).
type Connection struct {
	ID string

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	Protocol Protocol

	state atomic.Int32

	// lastPingTick is a unix-nanosecond timestamp of the last time a
	// frame was read from or a ping was sent on this connection, read
	// and written atomically so the server loop and callback dispatcher
	// never need to share a mutex just to check liveness.
	lastPingTick atomic.Int64

	// acquireMu is the mutual-exclusion lock between the server's own
	// read-dispatch loop and a callback dispatcher injecting an outbound
	// request (spec.md §4.6): only one side may be reading/writing the
	// connection's frames at a time.
	acquireMu sync.Mutex

	// tryAcquireCount fences acquireMu's destruction: it is incremented
	// before every TryAcquire attempt and decremented when that attempt
	// returns, so Close can spin until no goroutine is mid-acquire
	// before it tears the connection down (spec.md §9, adapted from the
	// reference engine's atomic acquire-count fencing).
	tryAcquireCount atomic.Int64
}

// newConnection wraps an already-hijacked net.Conn. The caller is
// responsible for negotiating and attaching Protocol before the
// connection enters its server loop.
func newConnection(id string, conn net.Conn, reader *bufio.Reader, writer *bufio.Writer) *Connection {
	c := &Connection{
		ID:     id,
		conn:   conn,
		reader: reader,
		writer: writer,
	}
	c.state.Store(int32(StatePreUpgrade))
	c.touch()
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) touch() {
	c.lastPingTick.Store(time.Now().UnixNano())
}

func (c *Connection) idleFor() time.Duration {
	last := c.lastPingTick.Load()
	return time.Since(time.Unix(0, last))
}

// TryAcquire attempts to take the connection's acquire lock within
// timeout. It returns false on timeout rather than blocking
// indefinitely, so a caller (the server loop or a callback dispatcher)
// can re-check for shutdown between attempts.
func (c *Connection) TryAcquire(timeout time.Duration) bool {
	c.tryAcquireCount.Add(1)
	defer c.tryAcquireCount.Add(-1)

	done := make(chan struct{})
	go func() {
		c.acquireMu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		// The goroutine above is still trying to Lock; it will
		// succeed eventually and the Unlock in the goroutine below
		// balances it. This mirrors the teacher engine's try-lock-with-timeout
		// pattern, which Go's sync.Mutex does not expose directly.
		go func() {
			<-done
			c.acquireMu.Unlock()
		}()
		return false
	}
}

// Release releases the acquire lock taken by a successful TryAcquire.
func (c *Connection) Release() {
	c.acquireMu.Unlock()
}

// waitIdle spins until no goroutine is mid-TryAcquire, so Close can tear
// the connection down without racing a concurrent acquire attempt.
func (c *Connection) waitIdle() {
	for c.tryAcquireCount.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// ProcessOne runs one pass of the per-connection server loop (spec.md
// §4.5): try to acquire the connection, read one frame with a short
// timeout, dispatch it by opcode, and release. When no frame arrives
// before the read timeout, it sends a keepalive ping if the connection
// has been idle past pingIdleThreshold.
func (c *Connection) ProcessOne(ctx context.Context) Outcome {
	if !c.TryAcquire(acquireTryInterval) {
		return OutcomeNone
	}
	defer c.Release()

	frame, status, err := getFrame(c.conn, c.reader, readPollTimeout)
	if err != nil {
		c.setState(StateClosing)
		// Best-effort: tell the peer why, per RFC 6455 Section 7.1.5. If
		// the underlying error was itself an I/O failure this write will
		// usually fail too, and that's fine since the connection is being
		// torn down either way.
		_ = sendFrame(c.conn, c.writer, opcodeClose, encodeCloseFrame(CloseProtocolError, err.Error()))
		return OutcomeError
	}

	if status == frameNoData {
		if c.idleFor() >= pingIdleThreshold {
			if err := sendFrame(c.conn, c.writer, opcodePing, nil); err != nil {
				c.setState(StateClosing)
				return OutcomeError
			}
			c.touch()
		}
		return OutcomeNone
	}

	c.touch()

	switch {
	case frame.Opcode == opcodeClose:
		_ = sendFrame(c.conn, c.writer, opcodeClose, frame.Payload)
		c.setState(StateClosing)
		return OutcomeClosed

	case frame.Opcode == opcodePing:
		if err := sendFrame(c.conn, c.writer, opcodePong, frame.Payload); err != nil {
			c.setState(StateClosing)
			return OutcomeError
		}
		return OutcomeDone

	case frame.Opcode == opcodePong:
		return OutcomeDone

	case isDataFrame(frame.Opcode):
		return c.dispatchData(ctx, frame)

	default:
		// Reserved opcode: pass through unprocessed (spec.md §3).
		return OutcomeDone
	}
}

// dispatchData routes a reassembled data frame to the connection's
// protocol for handling.
func (c *Connection) dispatchData(ctx context.Context, frame *Frame) Outcome {
	if c.Protocol == nil {
		return OutcomeDone
	}

	reply, err := c.Protocol.ProcessFrame(ctx, c, frame)
	if err != nil {
		c.setState(StateClosing)
		return OutcomeError
	}
	if reply == nil {
		return OutcomeDone
	}
	if err := sendFrame(c.conn, c.writer, reply.Opcode, reply.Payload); err != nil {
		c.setState(StateClosing)
		return OutcomeError
	}
	return OutcomeDone
}

// injectAndAwait is the callback dispatcher's half of the acquire
// protocol (spec.md §4.6). The caller must already hold the connection's
// acquire lock (via TryAcquire), which shuts the server loop's own
// ProcessOne passes out for the duration — so injectAndAwait is the sole
// reader of c.reader here and can read the answer frame directly off the
// wire without racing the server loop.
func (c *Connection) injectAndAwait(req *Frame, answerTimeout time.Duration) (*Frame, error) {
	if err := sendFrame(c.conn, c.writer, req.Opcode, req.Payload); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(answerTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrAnswerTimeout
		}

		frame, status, err := getFrame(c.conn, c.reader, minDuration(remaining, readPollTimeout))
		if err != nil {
			return nil, err
		}
		if status == frameOK && frame != nil {
			c.touch()
			return frame, nil
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// drain runs ProcessOne passes until one returns OutcomeNone (no frame
// arrived within the read poll timeout, or the acquire lock could not be
// taken) or a terminal outcome occurs.
// The callback dispatcher calls this before acquiring the connection for
// its own use, so a backlog of ordinary client frames is processed
// through the protocol's normal ProcessFrame path rather than being
// mistaken for the callback's answer (spec.md §4.6).
func (c *Connection) drain(ctx context.Context) Outcome {
	for {
		switch c.ProcessOne(ctx) {
		case OutcomeNone:
			return OutcomeNone
		case OutcomeError:
			return OutcomeError
		case OutcomeClosed:
			return OutcomeClosed
		case OutcomeDone:
			continue
		}
	}
}

// Close transitions the connection to Closed and releases the
// underlying socket. It waits for any in-flight TryAcquire attempts to
// resolve first.
func (c *Connection) Close() error {
	c.waitIdle()
	c.setState(StateClosed)
	return c.conn.Close()
}

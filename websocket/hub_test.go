package websocket

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func newHubTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := pipeConn(t)
	conn := newConnection("hub-conn", server, bufio.NewReader(server), bufio.NewWriter(server))
	return conn, client
}

// TestHub_BroadcastDeliversToRegisteredClients verifies a broadcast
// message reaches every registered connection's socket.
func TestHub_BroadcastDeliversToRegisteredClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	connA, clientA := newHubTestConnection(t)
	hub.Register(connA)

	hub.BroadcastText("hello")

	clientA.SetReadDeadline(time.Now().Add(time.Second))
	header := make([]byte, 2)
	if _, err := clientA.Read(header); err != nil {
		t.Fatalf("read broadcast header: %v", err)
	}
	if header[0]&0x0F != opcodeText {
		t.Errorf("opcode = 0x%X, want text", header[0]&0x0F)
	}

	payload := make([]byte, header[1]&0x7F)
	if _, err := clientA.Read(payload); err != nil {
		t.Fatalf("read broadcast payload: %v", err)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
}

// TestHub_ClientCount verifies registration and unregistration update
// ClientCount synchronously with respect to the calling goroutine.
func TestHub_ClientCount(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	connA, _ := newHubTestConnection(t)
	hub.Register(connA)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}

	hub.Unregister(connA)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount = %d, want 0", got)
	}
}

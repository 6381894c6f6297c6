package websocket

import (
	"bytes"
	"testing"
)

// TestBinaryProtocol_RoundTrip_PlainNoEncryption exercises the
// compression-only configuration (no encryption).
func TestBinaryProtocol_RoundTrip_PlainNoEncryption(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, true, "", "")

	req := &RestRequest{Method: "GET", URL: "/a/b", Headers: "k=v", ContentType: "text/plain", Content: []byte("hello, binary world")}
	frame, err := p.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if frame.Opcode != opcodeBinary {
		t.Fatalf("opcode = 0x%X, want binary", frame.Opcode)
	}

	got, err := p.decodeRequest(frame)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if got.Method != req.Method || got.URL != req.URL || got.Headers != req.Headers {
		t.Errorf("fields mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Content, req.Content) {
		t.Errorf("content = %q, want %q", got.Content, req.Content)
	}
}

// TestBinaryProtocol_RoundTrip_EncryptedCompressed exercises the full
// compression + AES-CFB encryption configuration.
func TestBinaryProtocol_RoundTrip_EncryptedCompressed(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, true, "s3cr3t-key", "s3cr3t-iv")

	req := &RestRequest{Method: "POST", URL: "/upload", Headers: "", ContentType: "application/octet-stream", Content: bytes.Repeat([]byte{0x42}, 4096)}
	frame, err := p.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	got, err := p.decodeRequest(frame)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if !bytes.Equal(got.Content, req.Content) {
		t.Errorf("content mismatch after encrypted round-trip")
	}
}

// TestBinaryProtocol_RoundTrip_EncryptedNoCompression verifies
// encryption works independently of the compression stage.
func TestBinaryProtocol_RoundTrip_EncryptedNoCompression(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, false, "another-key", "another-iv")

	req := &RestRequest{Method: "DELETE", URL: "/x", ContentType: "", Content: []byte("short")}
	frame, err := p.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	got, err := p.decodeRequest(frame)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if !bytes.Equal(got.Content, req.Content) {
		t.Errorf("content = %q, want %q", got.Content, req.Content)
	}
}

// TestBinaryProtocol_ContentWithFieldSepByte verifies that a raw 0x01
// byte inside content doesn't corrupt decoding, since decode only splits
// the fixed number of leading fields before treating the remainder as
// opaque content.
func TestBinaryProtocol_ContentWithFieldSepByte(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, false, "", "")

	content := []byte{'a', fieldSep, 'b', fieldSep, 'c'}
	req := &RestRequest{Method: "GET", URL: "/x", ContentType: "application/octet-stream", Content: content}
	frame, err := p.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	got, err := p.decodeRequest(frame)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if !bytes.Equal(got.Content, content) {
		t.Errorf("content = %v, want %v", got.Content, content)
	}
}

// TestBinaryProtocol_HeadMismatch verifies an "answer" envelope is
// rejected when decoded as a "request".
func TestBinaryProtocol_HeadMismatch(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, true, "", "")

	frame, err := p.encodeAnswer(&RestResponse{Status: 204})
	if err != nil {
		t.Fatalf("encodeAnswer: %v", err)
	}
	if _, err := p.decodeRequest(frame); err != ErrEnvelopeHeadMismatch {
		t.Fatalf("err = %v, want ErrEnvelopeHeadMismatch", err)
	}
}

// TestBinaryProtocol_Clone_IndependentKeyMaterial verifies Clone carries
// forward the same key material (so a cloned connection can still
// decrypt what the prototype would) without sharing mutable state.
func TestBinaryProtocol_Clone_IndependentKeyMaterial(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, true, "clone-key", "clone-iv")
	clone, ok := p.Clone().(*BinaryProtocol)
	if !ok {
		t.Fatalf("Clone did not return *BinaryProtocol")
	}

	req := &RestRequest{Method: "GET", URL: "/", Content: []byte("via clone")}
	frame, err := clone.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	got, err := p.decodeRequest(frame)
	if err != nil {
		t.Fatalf("decodeRequest on original prototype: %v", err)
	}
	if string(got.Content) != "via clone" {
		t.Errorf("content = %q, want %q", got.Content, "via clone")
	}
}

// TestBinaryProtocol_WrongFrameType verifies a text frame is rejected by
// the binary codec.
func TestBinaryProtocol_WrongFrameType(t *testing.T) {
	p := NewBinaryProtocol(echoRestHandler, false, "", "")
	_, err := p.decodeRequest(&Frame{Opcode: opcodeText, Payload: []byte("request\x01")})
	if err != ErrEnvelopeWrongFrameType {
		t.Fatalf("err = %v, want ErrEnvelopeWrongFrameType", err)
	}
}

package websocket

import (
	"bytes"
	"context"
	"testing"
)

func echoRestHandler(_ context.Context, req *RestRequest) (*RestResponse, error) {
	return &RestResponse{Status: 200, ContentType: req.ContentType, Content: req.Content}, nil
}

// TestJSONProtocol_EncodeDecodeRequest_RawJSON verifies the
// "application/json" content-type slot carries the content as a raw
// (unescaped) JSON value, per spec.md §4.2.
func TestJSONProtocol_EncodeDecodeRequest_RawJSON(t *testing.T) {
	p := NewJSONProtocol(echoRestHandler)

	req := &RestRequest{Method: "POST", URL: "/things", Headers: "x=1", ContentType: "application/json", Content: []byte(`{"a":1}`)}
	frame, err := p.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if frame.Opcode != opcodeText {
		t.Fatalf("opcode = 0x%X, want text", frame.Opcode)
	}

	got, err := p.decodeRequest(frame)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if got.Method != req.Method || got.URL != req.URL || got.Headers != req.Headers {
		t.Errorf("fields mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Content, req.Content) {
		t.Errorf("content = %s, want %s", got.Content, req.Content)
	}
}

// TestJSONProtocol_ContentTypeBranches exercises all four content-slot
// rules from spec.md §4.2: empty, raw-JSON, text string, and base64 for
// everything else.
func TestJSONProtocol_ContentTypeBranches(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		content     []byte
	}{
		{"empty", "text/plain", nil},
		{"raw-json-object", "application/json", []byte(`{"x":[1,2,3]}`)},
		{"raw-json-default", "", []byte(`42`)},
		{"text", "text/plain", []byte("hello world")},
		{"binary", "application/octet-stream", []byte{0x00, 0x01, 0xFF, 0xFE}},
	}

	p := NewJSONProtocol(echoRestHandler)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &RestRequest{Method: "GET", URL: "/x", ContentType: tc.contentType, Content: tc.content}
			frame, err := p.EncodeRequest(req)
			if err != nil {
				t.Fatalf("EncodeRequest: %v", err)
			}

			got, err := p.decodeRequest(frame)
			if err != nil {
				t.Fatalf("decodeRequest: %v", err)
			}
			if !bytes.Equal(got.Content, tc.content) {
				t.Errorf("content = %v, want %v", got.Content, tc.content)
			}
		})
	}
}

// TestJSONProtocol_HeadMismatch verifies decoding an "answer" envelope as
// a "request" is rejected.
func TestJSONProtocol_HeadMismatch(t *testing.T) {
	p := NewJSONProtocol(echoRestHandler)

	frame, err := p.encodeAnswer(&RestResponse{Status: 200})
	if err != nil {
		t.Fatalf("encodeAnswer: %v", err)
	}
	if _, err := p.decodeRequest(frame); err != ErrEnvelopeHeadMismatch {
		t.Fatalf("err = %v, want ErrEnvelopeHeadMismatch", err)
	}
}

// TestJSONProtocol_ProcessFrame drives the inbound REST adapter
// end-to-end: request frame in, handler invoked, answer frame out.
func TestJSONProtocol_ProcessFrame(t *testing.T) {
	p := NewJSONProtocol(echoRestHandler)

	req := &RestRequest{Method: "PUT", URL: "/items/1", ContentType: "text/plain", Content: []byte("payload")}
	reqFrame, err := p.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	answerFrame, err := p.ProcessFrame(context.Background(), nil, reqFrame)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}

	resp, err := p.DecodeAnswer(answerFrame)
	if err != nil {
		t.Fatalf("DecodeAnswer: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Content) != "payload" {
		t.Errorf("content = %q, want %q", resp.Content, "payload")
	}
}

// TestJSONProtocol_WrongFrameType verifies a binary frame is rejected by
// the JSON codec, which only carries text frames.
func TestJSONProtocol_WrongFrameType(t *testing.T) {
	p := NewJSONProtocol(echoRestHandler)
	_, err := p.decodeRequest(&Frame{Opcode: opcodeBinary, Payload: []byte("{}")})
	if err != ErrEnvelopeWrongFrameType {
		t.Fatalf("err = %v, want ErrEnvelopeWrongFrameType", err)
	}
}

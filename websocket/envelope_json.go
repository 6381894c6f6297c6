package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// JSON envelope constants (spec.md §4.2).
const (
	jsonCanonicalContentType = "application/json"

	// jsonBinaryMagic prefixes a base64-encoded content string so decode
	// can tell a base64 blob apart from an ordinary text string.
	jsonBinaryMagic = "\x00wsb64\x00"
)

// JSONProtocol is the "synopsejson" sub-protocol: a text-frame envelope
// carrying a REST-shaped message as a JSON object of shape
// {"<head>":["v1","v2",...,"<content_type>",<content>]}.
type JSONProtocol struct {
	Handler RestHandler
}

// NewJSONProtocol constructs a synopsejson prototype bound to handler.
func NewJSONProtocol(handler RestHandler) *JSONProtocol {
	return &JSONProtocol{Handler: handler}
}

func (p *JSONProtocol) Name() string { return "synopsejson" }

func (p *JSONProtocol) Clone() Protocol {
	return &JSONProtocol{Handler: p.Handler}
}

// ProcessFrame implements the inbound REST adapter (spec.md §4.4).
func (p *JSONProtocol) ProcessFrame(ctx context.Context, _ *Connection, in *Frame) (*Frame, error) {
	req, err := p.decodeRequest(in)
	if err != nil {
		return nil, err
	}
	if p.Handler == nil {
		return nil, ErrNoRestHandler
	}
	resp, err := p.Handler(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.encodeAnswer(resp)
}

// EncodeRequest packs req under head "request", for the callback
// dispatcher's outbound direction.
func (p *JSONProtocol) EncodeRequest(req *RestRequest) (*Frame, error) {
	return p.encode(headRequest, []string{req.Method, req.URL, req.Headers}, req.ContentType, req.Content)
}

// DecodeAnswer unpacks a frame under head "answer" back into a
// RestResponse, for the callback dispatcher's return path.
func (p *JSONProtocol) DecodeAnswer(f *Frame) (*RestResponse, error) {
	fields, contentType, content, err := p.decode(headAnswer, f)
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 {
		return nil, ErrEnvelopeMalformed
	}
	status, convErr := strconv.Atoi(fields[0])
	if convErr != nil {
		return nil, fmt.Errorf("%w: status %q", ErrEnvelopeMalformed, fields[0])
	}
	return &RestResponse{Status: status, Headers: fields[1], ContentType: contentType, Content: content}, nil
}

func (p *JSONProtocol) decodeRequest(f *Frame) (*RestRequest, error) {
	fields, contentType, content, err := p.decode(headRequest, f)
	if err != nil {
		return nil, err
	}
	if len(fields) < 3 {
		return nil, ErrEnvelopeMalformed
	}
	return &RestRequest{Method: fields[0], URL: fields[1], Headers: fields[2], ContentType: contentType, Content: content}, nil
}

func (p *JSONProtocol) encodeAnswer(resp *RestResponse) (*Frame, error) {
	return p.encode(headAnswer, []string{strconv.Itoa(resp.Status), resp.Headers}, resp.ContentType, resp.Content)
}

// encode builds the {"<head>":[...fields, contentType, content]} text
// frame described in spec.md §4.2.
func (p *JSONProtocol) encode(head string, fields []string, contentType string, content []byte) (*Frame, error) {
	arr := make([]any, 0, len(fields)+2)
	for _, field := range fields {
		arr = append(arr, field)
	}
	arr = append(arr, contentType)

	contentValue, err := encodeJSONContent(contentType, content)
	if err != nil {
		return nil, err
	}
	arr = append(arr, contentValue)

	payload, err := json.Marshal(map[string]any{head: arr})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeMalformed, err)
	}

	return &Frame{Opcode: opcodeText, Payload: payload}, nil
}

// decode unpacks a text frame's envelope, checking the expected head tag
// case-insensitively, and returns the positional string fields, content
// type, and recovered content bytes.
func (p *JSONProtocol) decode(expectedHead string, f *Frame) (fields []string, contentType string, content []byte, err error) {
	if f.Opcode != opcodeText {
		return nil, "", nil, ErrEnvelopeWrongFrameType
	}
	if len(f.Payload) < 10 {
		return nil, "", nil, ErrEnvelopeTooShort
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(f.Payload, &raw); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrEnvelopeMalformed, err)
	}

	var arrRaw json.RawMessage
	found := false
	for k, v := range raw {
		if strings.EqualFold(k, expectedHead) {
			arrRaw = v
			found = true
			break
		}
	}
	if !found {
		return nil, "", nil, ErrEnvelopeHeadMismatch
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(arrRaw, &arr); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrEnvelopeMalformed, err)
	}
	if len(arr) < 2 {
		return nil, "", nil, ErrEnvelopeMalformed
	}

	fieldCount := len(arr) - 2
	fields = make([]string, fieldCount)
	for i := 0; i < fieldCount; i++ {
		if err := json.Unmarshal(arr[i], &fields[i]); err != nil {
			return nil, "", nil, fmt.Errorf("%w: field %d: %v", ErrEnvelopeMalformed, i, err)
		}
	}

	if err := json.Unmarshal(arr[fieldCount], &contentType); err != nil {
		return nil, "", nil, fmt.Errorf("%w: content type: %v", ErrEnvelopeMalformed, err)
	}

	content, err = decodeJSONContent(contentType, arr[fieldCount+1])
	if err != nil {
		return nil, "", nil, err
	}

	return fields, contentType, content, nil
}

// encodeJSONContent implements the four content-slot rules of spec.md
// §4.2.
func encodeJSONContent(contentType string, content []byte) (any, error) {
	if len(content) == 0 {
		return "", nil
	}
	switch {
	case contentType == "" || strings.EqualFold(contentType, jsonCanonicalContentType):
		return json.RawMessage(content), nil
	case strings.HasPrefix(strings.ToLower(contentType), "text/"):
		return string(content), nil
	default:
		return jsonBinaryMagic + base64.StdEncoding.EncodeToString(content), nil
	}
}

// decodeJSONContent is the inverse of encodeJSONContent.
func decodeJSONContent(contentType string, raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == `""` {
		return nil, nil
	}

	switch {
	case contentType == "" || strings.EqualFold(contentType, jsonCanonicalContentType):
		out := make([]byte, len(trimmed))
		copy(out, trimmed)
		return out, nil

	case strings.HasPrefix(strings.ToLower(contentType), "text/"):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: text content: %v", ErrEnvelopeMalformed, err)
		}
		return []byte(s), nil

	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: binary content: %v", ErrEnvelopeMalformed, err)
		}
		if !strings.HasPrefix(s, jsonBinaryMagic) {
			return nil, fmt.Errorf("%w: missing base64 marker", ErrEnvelopeMalformed)
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, jsonBinaryMagic))
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrEnvelopeMalformed, err)
		}
		return decoded, nil
	}
}

package websocket

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"golang.org/x/crypto/blake2b"
)

// fieldSep separates the positional tokens inside a binary envelope
// (spec.md §4.3).
const fieldSep = 0x01

// BinaryProtocol is the "synopsebinary" sub-protocol: a binary-frame
// envelope with optional SynLZ-style compression and symmetric AES-CFB
// encryption, laid out as
//
//	<head>\x01[<field_1>\x01 ... <field_n>\x01]<content_type>\x01<content>
//
// optionally compressed, then optionally encrypted, with the head tag
// stored redundantly both outside and inside the compressed/encrypted
// blob (spec.md §9: the outer head lets the demultiplexer reject cheaply;
// the inner head authenticates the decompressed/decrypted payload).
type BinaryProtocol struct {
	Handler    RestHandler
	Compressed bool

	// aesKey/aesIV are nil/zero-length when encryption is disabled.
	aesKey []byte
	aesIV  []byte
}

// NewBinaryProtocol constructs a synopsebinary prototype. Encryption is
// enabled only when both key and iv are non-empty; each is hashed with a
// 256-bit digest (blake2b-256) to derive the 256-bit AES key and the
// leading 128 bits of the iv digest are used as the CFB IV.
func NewBinaryProtocol(handler RestHandler, compressed bool, key, iv string) *BinaryProtocol {
	p := &BinaryProtocol{Handler: handler, Compressed: compressed}

	if key == "" || iv == "" {
		return p
	}

	keyDigest := blake2b.Sum256([]byte(key))
	ivDigest := blake2b.Sum256([]byte(iv))
	p.aesKey = keyDigest[:]
	p.aesIV = ivDigest[:aes.BlockSize]
	return p
}

func (p *BinaryProtocol) Name() string { return "synopsebinary" }

// Clone returns a connection-bound copy. Key material is immutable after
// construction so it is shared, not recopied; each clone builds its own
// cipher.Stream per encrypt/decrypt call, so connections never share
// mutable stream state (spec.md §4.3 "Cloning").
func (p *BinaryProtocol) Clone() Protocol {
	return &BinaryProtocol{
		Handler:    p.Handler,
		Compressed: p.Compressed,
		aesKey:     p.aesKey,
		aesIV:      p.aesIV,
	}
}

func (p *BinaryProtocol) ProcessFrame(ctx context.Context, _ *Connection, in *Frame) (*Frame, error) {
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

func (p *BinaryProtocol) EncodeRequest(req *RestRequest) (*Frame, error) {
	return p.encode(headRequest, []string{req.Method, req.URL, req.Headers}, req.ContentType, req.Content)
}

func (p *BinaryProtocol) DecodeAnswer(f *Frame) (*RestResponse, error) {
	fields, contentType, content, err := p.decode(headAnswer, 2, f)
	if err != nil {
		return nil, err
	}
	status, convErr := strconv.Atoi(fields[0])
	if convErr != nil {
		return nil, fmt.Errorf("%w: status %q", ErrEnvelopeMalformed, fields[0])
	}
	return &RestResponse{Status: status, Headers: fields[1], ContentType: contentType, Content: content}, nil
}

func (p *BinaryProtocol) decodeRequest(f *Frame) (*RestRequest, error) {
	fields, contentType, content, err := p.decode(headRequest, 3, f)
	if err != nil {
		return nil, err
	}
	return &RestRequest{Method: fields[0], URL: fields[1], Headers: fields[2], ContentType: contentType, Content: content}, nil
}

func (p *BinaryProtocol) encodeAnswer(resp *RestResponse) (*Frame, error) {
	return p.encode(headAnswer, []string{strconv.Itoa(resp.Status), resp.Headers}, resp.ContentType, resp.Content)
}

// encode builds the binary envelope described in spec.md §4.3.
func (p *BinaryProtocol) encode(head string, fields []string, contentType string, content []byte) (*Frame, error) {
	var inner bytes.Buffer
	inner.WriteString(head)
	inner.WriteByte(fieldSep)
	for _, field := range fields {
		inner.WriteString(field)
		inner.WriteByte(fieldSep)
	}
	inner.WriteString(contentType)
	inner.WriteByte(fieldSep)
	inner.Write(content)

	result := inner.Bytes()

	if p.Compressed {
		compressed, err := compressBytes(result)
		if err != nil {
			return nil, fmt.Errorf("%w: compress: %v", ErrEnvelopeMalformed, err)
		}
		result = compressed
	}

	if p.aesKey != nil {
		encrypted, err := p.encrypt(result)
		if err != nil {
			return nil, fmt.Errorf("%w: encrypt: %v", ErrEnvelopeMalformed, err)
		}
		result = encrypted
	}

	var payload bytes.Buffer
	payload.WriteString(head)
	payload.WriteByte(fieldSep)
	payload.Write(result)

	return &Frame{Opcode: opcodeBinary, Payload: payload.Bytes()}, nil
}

// decode unpacks a binary envelope, expecting fieldCount positional
// string tokens ahead of the content type.
func (p *BinaryProtocol) decode(expectedHead string, fieldCount int, f *Frame) ([]string, string, []byte, error) {
	if f.Opcode != opcodeBinary {
		return nil, "", nil, ErrEnvelopeWrongFrameType
	}

	sep := bytes.IndexByte(f.Payload, fieldSep)
	if sep < 0 {
		return nil, "", nil, ErrEnvelopeMalformed
	}
	outerHead := string(f.Payload[:sep])
	rest := f.Payload[sep+1:]
	if len(rest) < 5 {
		return nil, "", nil, ErrEnvelopeTooShort
	}
	if !strings.EqualFold(outerHead, expectedHead) {
		return nil, "", nil, ErrEnvelopeHeadMismatch
	}

	var err error
	if p.aesKey != nil {
		rest, err = p.decrypt(rest)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%w: decrypt: %v", ErrEnvelopeMalformed, err)
		}
	}

	if p.Compressed {
		rest, err = decompressBytes(rest)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%w: decompress: %v", ErrEnvelopeMalformed, err)
		}
		if len(rest) < 4 {
			return nil, "", nil, ErrEnvelopeMalformed
		}
	}

	innerSep := bytes.IndexByte(rest, fieldSep)
	if innerSep < 0 {
		return nil, "", nil, ErrEnvelopeMalformed
	}
	innerHead := string(rest[:innerSep])
	if !strings.EqualFold(innerHead, expectedHead) {
		return nil, "", nil, ErrEnvelopeHeadMismatch
	}
	cursor := rest[innerSep+1:]

	fields := make([]string, fieldCount)
	for i := 0; i < fieldCount; i++ {
		idx := bytes.IndexByte(cursor, fieldSep)
		if idx < 0 {
			return nil, "", nil, ErrEnvelopeMalformed
		}
		fields[i] = string(cursor[:idx])
		cursor = cursor[idx+1:]
	}

	idx := bytes.IndexByte(cursor, fieldSep)
	if idx < 0 {
		return nil, "", nil, ErrEnvelopeMalformed
	}
	contentType := string(cursor[:idx])
	content := make([]byte, len(cursor)-idx-1)
	copy(content, cursor[idx+1:])

	return fields, contentType, content, nil
}

func (p *BinaryProtocol) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.aesKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	stream := cipher.NewCFBEncrypter(block, p.aesIV)
	out := make([]byte, len(padded))
	stream.XORKeyStream(out, padded)
	return out, nil
}

func (p *BinaryProtocol) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.aesKey)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCFBDecrypter(block, p.aesIV)
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return pkcs7Unpad(out)
}

// pkcs7Pad pads data to a multiple of blockSize, per PKCS#7 (RFC 5652
// §6.3).
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad strips and validates PKCS#7 padding.
func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("websocket: invalid PKCS7 padding length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("websocket: invalid PKCS7 padding byte")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("websocket: invalid PKCS7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// compressBytes is the SynLZ-equivalent compression step (spec.md §4.3):
// a fast, simple general-purpose compressor, realized here with flate at
// its fastest setting.
func compressBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBytes(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

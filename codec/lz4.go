package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/annogo/packed"
)

// LZ4 is an lz4-frame compressed codec.
type LZ4 struct{}

// NewLZ4 creates an lz4 codec.
func NewLZ4() *LZ4 { return &LZ4{} }

// Name implements Codec.
func (*LZ4) Name() string { return "lz4" }

// Encode implements Codec.
func (*LZ4) Encode(b *packed.Buffer) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(encodeBody(b)); err != nil {
		return nil, fmt.Errorf("codec: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: lz4 flush: %w", err)
	}
	return frame(codecLZ4, buf.Bytes()), nil
}

// Decode implements Codec.
func (*LZ4) Decode(data []byte, serializers packed.Serializers) (*packed.Buffer, error) {
	id, body, err := unframe(data)
	if err != nil {
		return nil, err
	}
	if id != codecLZ4 {
		return nil, &MalformedError{Field: "codec", cause: fmt.Errorf("frame codec %d, want lz4", id)}
	}
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	if err != nil {
		return nil, &MalformedError{Field: "lz4 body", cause: err}
	}
	return decodeBody(raw, serializers)
}

package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/annogo/packed"
)

// Zstd is a zstd-compressed codec. Safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a zstd codec at the given compression level.
func NewZstd(level zstd.EncoderLevel) (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("codec: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: create zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Name implements Codec.
func (z *Zstd) Name() string { return "zstd" }

// Encode implements Codec.
func (z *Zstd) Encode(b *packed.Buffer) ([]byte, error) {
	compressed := z.enc.EncodeAll(encodeBody(b), nil)
	return frame(codecZstd, compressed), nil
}

// Decode implements Codec.
func (z *Zstd) Decode(data []byte, serializers packed.Serializers) (*packed.Buffer, error) {
	id, body, err := unframe(data)
	if err != nil {
		return nil, err
	}
	if id != codecZstd {
		return nil, &MalformedError{Field: "codec", cause: fmt.Errorf("frame codec %d, want zstd", id)}
	}
	raw, err := z.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, &MalformedError{Field: "zstd body", cause: err}
	}
	return decodeBody(raw, serializers)
}

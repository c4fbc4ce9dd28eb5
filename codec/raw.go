package codec

import (
	"fmt"

	"github.com/hupe1980/annogo/packed"
)

// Raw returns the uncompressed codec.
func Raw() Codec { return rawCodec{} }

// Default is the codec used when none is configured.
var Default = Raw()

type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Encode(b *packed.Buffer) ([]byte, error) {
	return frame(codecRaw, encodeBody(b)), nil
}

func (rawCodec) Decode(data []byte, serializers packed.Serializers) (*packed.Buffer, error) {
	id, body, err := unframe(data)
	if err != nil {
		return nil, err
	}
	if id != codecRaw {
		return nil, &MalformedError{Field: "codec", cause: fmt.Errorf("frame codec %d, want raw", id)}
	}
	return decodeBody(body, serializers)
}

// Package codec implements the byte-exact wire format for serialized
// annotation sets: a framed, optionally compressed, checksummed container
// around the packed columnar payload and its per-kind id tables.
//
// Frame layout:
//
//	magic "AGO1" | codec id (1 byte) | body | crc32c of everything before
//
// Body layout (after decompression):
//
//	rank uvarint
//	per kind: instance count uvarint
//	per kind, per instance: id (uvarint length + bytes)
//	packed columnar payload (length implied by schema and counts)
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
)

// Magic identifies an annogo annotation set frame.
const Magic = "AGO1"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Codec encodes and decodes serialized annotation sets.
type Codec interface {
	// Name returns the codec identifier used in the frame header.
	Name() string
	// Encode frames the buffer's packed data and id tables.
	Encode(b *packed.Buffer) ([]byte, error)
	// Decode parses a frame into a new buffer using the schema serializers.
	Decode(data []byte, serializers packed.Serializers) (*packed.Buffer, error)
}

// MalformedError reports a wire payload that failed to parse, naming the
// field at which parsing failed. Resident state is never modified by a
// failed decode.
type MalformedError struct {
	Field string
	cause error
}

func (e *MalformedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("codec: malformed payload at %s: %v", e.Field, e.cause)
	}
	return fmt.Sprintf("codec: malformed payload at %s", e.Field)
}

func (e *MalformedError) Unwrap() error { return e.cause }

func malformed(field string) error { return &MalformedError{Field: field} }

const (
	codecRaw  byte = 0
	codecZstd byte = 1
	codecLZ4  byte = 2
)

// encodeBody serializes the schema-independent body of a frame.
func encodeBody(b *packed.Buffer) []byte {
	sers := b.Serializers()
	rank := sers[model.KindPoint].Rank()
	out := make([]byte, 0, 16+b.Len())
	out = binary.AppendUvarint(out, uint64(rank))
	for k := model.Kind(0); k < model.KindCount; k++ {
		out = binary.AppendUvarint(out, uint64(b.Count(k)))
	}
	for k := model.Kind(0); k < model.KindCount; k++ {
		for _, id := range b.IDs(k) {
			out = binary.AppendUvarint(out, uint64(len(id)))
			out = append(out, id...)
		}
	}
	out = append(out, b.Snapshot()...)
	return out
}

// decodeBody parses a decompressed body into a buffer.
func decodeBody(body []byte, serializers packed.Serializers) (*packed.Buffer, error) {
	rank, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, malformed("rank")
	}
	body = body[n:]
	if int(rank) != serializers[model.KindPoint].Rank() {
		return nil, &MalformedError{
			Field: "rank",
			cause: fmt.Errorf("payload rank %d, schema rank %d", rank, serializers[model.KindPoint].Rank()),
		}
	}

	var counts [model.KindCount]int
	payloadLen := 0
	for k := 0; k < model.KindCount; k++ {
		c, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, malformed(fmt.Sprintf("count[%s]", model.Kind(k)))
		}
		body = body[n:]
		counts[k] = int(c)
		payloadLen += counts[k] * serializers[k].SerializedBytes()
	}

	var ids [model.KindCount][]string
	for k := 0; k < model.KindCount; k++ {
		ids[k] = make([]string, 0, counts[k])
		seen := make(map[string]struct{}, counts[k])
		for i := 0; i < counts[k]; i++ {
			l, n := binary.Uvarint(body)
			if n <= 0 || uint64(len(body)-n) < l {
				return nil, malformed(fmt.Sprintf("id[%s][%d]", model.Kind(k), i))
			}
			body = body[n:]
			id := string(body[:l])
			body = body[l:]
			// A duplicate id within one kind would leave the buffer's id
			// list and id index disagreeing on the instance count.
			if _, dup := seen[id]; dup {
				return nil, &MalformedError{
					Field: fmt.Sprintf("id[%s][%d]", model.Kind(k), i),
					cause: fmt.Errorf("duplicate id %q", id),
				}
			}
			seen[id] = struct{}{}
			ids[k] = append(ids[k], id)
		}
	}

	if len(body) != payloadLen {
		return nil, &MalformedError{
			Field: "payload",
			cause: fmt.Errorf("got %d bytes, want %d", len(body), payloadLen),
		}
	}
	return packed.FromParts(serializers, ids, body), nil
}

// frame wraps a possibly compressed body with magic, codec id and checksum.
func frame(codecID byte, body []byte) []byte {
	out := make([]byte, 0, len(Magic)+1+len(body)+4)
	out = append(out, Magic...)
	out = append(out, codecID)
	out = append(out, body...)
	sum := crc32.Checksum(out, castagnoli)
	return binary.LittleEndian.AppendUint32(out, sum)
}

// unframe validates magic and checksum and returns the codec id and body.
func unframe(data []byte) (byte, []byte, error) {
	if len(data) < len(Magic)+1+4 {
		return 0, nil, malformed("frame")
	}
	if string(data[:len(Magic)]) != Magic {
		return 0, nil, malformed("magic")
	}
	trailer := len(data) - 4
	want := binary.LittleEndian.Uint32(data[trailer:])
	if crc32.Checksum(data[:trailer], castagnoli) != want {
		return 0, nil, malformed("checksum")
	}
	return data[len(Magic)], data[len(Magic)+1 : trailer], nil
}

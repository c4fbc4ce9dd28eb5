package model

import "fmt"

// NumericKind enumerates the numeric storage types a property may use.
type NumericKind uint8

const (
	Float32 NumericKind = iota
	Uint32
	Int32
	Uint16
	Int16
	Uint8
	Int8
)

// Bytes returns the storage width of one lane.
func (k NumericKind) Bytes() int {
	switch k {
	case Float32, Uint32, Int32:
		return 4
	case Uint16, Int16:
		return 2
	case Uint8, Int8:
		return 1
	default:
		panic(fmt.Sprintf("model: unknown numeric kind %d", k))
	}
}

// String returns the canonical name of the numeric kind.
func (k NumericKind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	default:
		return fmt.Sprintf("numeric(%d)", uint8(k))
	}
}

// PropertyType is a scalar numeric type or a short vector of 1-4 lanes.
type PropertyType struct {
	Kind  NumericKind
	Lanes int
}

// Bytes returns the serialized width of one value of this type.
func (t PropertyType) Bytes() int {
	return t.Kind.Bytes() * t.Lanes
}

// Validate checks the lane count.
func (t PropertyType) Validate() error {
	if t.Lanes < 1 || t.Lanes > 4 {
		return fmt.Errorf("model: property lanes must be 1-4, got %d", t.Lanes)
	}
	return nil
}

// PropertyValue holds the lanes of one property value. Integer-kinded
// properties carry integral float64 lane values.
type PropertyValue []float64

// PropertySpec declares one typed annotation property.
type PropertySpec struct {
	// Identifier names the property, unique within the schema.
	Identifier string
	// Type is the storage type.
	Type PropertyType
	// Tag is an optional application-defined marker.
	Tag string
}

// Schema fixes the shape of every annotation of a source for the lifetime
// of that source.
type Schema struct {
	// Rank is the dimensionality of the coordinate space.
	Rank int
	// Properties is the ordered property list.
	Properties []PropertySpec
	// Relationships names the declared segment relationships, in order.
	Relationships []string
}

// Validate checks rank, property types and identifier uniqueness.
func (s Schema) Validate() error {
	if s.Rank < 1 {
		return fmt.Errorf("model: rank must be positive, got %d", s.Rank)
	}
	seen := make(map[string]struct{}, len(s.Properties))
	for _, p := range s.Properties {
		if p.Identifier == "" {
			return fmt.Errorf("model: property with empty identifier")
		}
		if _, dup := seen[p.Identifier]; dup {
			return fmt.Errorf("model: duplicate property identifier %q", p.Identifier)
		}
		seen[p.Identifier] = struct{}{}
		if err := p.Type.Validate(); err != nil {
			return fmt.Errorf("model: property %q: %w", p.Identifier, err)
		}
	}
	return nil
}

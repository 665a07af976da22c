package schema

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// FieldKind is the closed set of field categories the codec distinguishes.
type FieldKind uint8

const (
	IntKind FieldKind = iota
	FloatKind
	BoolKind
	StringKind
	BytesKind
	EnumKind
	MessageKind
	MapEntryKind
)

func (k FieldKind) String() string {
	switch k {
	case IntKind:
		return "int"
	case FloatKind:
		return "float"
	case BoolKind:
		return "bool"
	case StringKind:
		return "string"
	case BytesKind:
		return "bytes"
	case EnumKind:
		return "enum"
	case MessageKind:
		return "message"
	case MapEntryKind:
		return "map"
	}
	return fmt.Sprintf("fieldkind(%d)", uint8(k))
}

// KindOf classifies a field. Map fields report MapEntryKind; their key and
// value fields are classified separately.
func KindOf(fd protoreflect.FieldDescriptor) FieldKind {
	if fd.IsMap() {
		return MapEntryKind
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return BoolKind
	case protoreflect.EnumKind:
		return EnumKind
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return IntKind
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return FloatKind
	case protoreflect.StringKind:
		return StringKind
	case protoreflect.BytesKind:
		return BytesKind
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return MessageKind
	}
	return MessageKind
}

// Range is the inclusive numeric range accepted by an integer field.
type Range struct {
	Min      int64
	Max      uint64
	Unsigned bool
}

// IntRange returns the accepted range for an integer field kind.
func IntRange(k protoreflect.Kind) Range {
	switch k {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return Range{Min: -1 << 31, Max: 1<<31 - 1}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return Range{Min: 0, Max: 1<<32 - 1, Unsigned: true}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return Range{Min: 0, Max: 1<<64 - 1, Unsigned: true}
	}
	return Range{Min: -1 << 63, Max: 1<<63 - 1}
}

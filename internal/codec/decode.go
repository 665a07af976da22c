package codec

import (
	"cmp"
	"math"
	"slices"
	"strconv"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/value"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Decode parses wire bytes for md into a map value keyed by proto field name.
func Decode(b []byte, md protoreflect.MessageDescriptor) (value.Value, error) {
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(b, msg); err != nil {
		return value.Value{}, &errs.DecodeError{What: string(md.FullName()), Err: err}
	}
	return FromMessage(msg), nil
}

// FromMessage converts a message into a map value. Fields follow descriptor
// order. Singular fields appear only when set; repeated and map fields are
// always present.
func FromMessage(m protoreflect.Message) value.Value {
	fields := m.Descriptor().Fields()
	out := value.NewMap()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		name := string(fd.Name())
		switch {
		case fd.IsMap():
			out.Set(name, fromMap(fd, m.Get(fd).Map()))
		case fd.IsList():
			list := m.Get(fd).List()
			arr := make([]value.Value, 0, list.Len())
			for j := 0; j < list.Len(); j++ {
				arr = append(arr, fromSingular(fd, list.Get(j)))
			}
			out.Set(name, value.Array(arr...))
		case m.Has(fd):
			out.Set(name, fromSingular(fd, m.Get(fd)))
		}
	}
	return value.FromMap(out)
}

func fromMap(fd protoreflect.FieldDescriptor, m protoreflect.Map) value.Value {
	keys := make([]protoreflect.MapKey, 0, m.Len())
	m.Range(func(k protoreflect.MapKey, _ protoreflect.Value) bool {
		keys = append(keys, k)
		return true
	})
	slices.SortFunc(keys, compareKeys)
	out := value.NewMap()
	vd := fd.MapValue()
	for _, k := range keys {
		out.Set(k.String(), fromSingular(vd, m.Get(k)))
	}
	return value.FromMap(out)
}

func compareKeys(a, b protoreflect.MapKey) int {
	switch x := a.Interface().(type) {
	case string:
		return cmp.Compare(x, b.String())
	case bool:
		switch {
		case x == b.Bool():
			return 0
		case !x:
			return -1
		}
		return 1
	case int32, int64:
		return cmp.Compare(a.Int(), b.Int())
	}
	return cmp.Compare(a.Uint(), b.Uint())
}

func fromSingular(fd protoreflect.FieldDescriptor, v protoreflect.Value) value.Value {
	switch schema.KindOf(fd) {
	case schema.MessageKind:
		return FromMessage(v.Message())
	case schema.BoolKind:
		return value.Bool(v.Bool())
	case schema.StringKind:
		return value.String(v.String())
	case schema.BytesKind:
		return value.Bytes(append([]byte(nil), v.Bytes()...))
	case schema.EnumKind:
		if evd := fd.Enum().Values().ByNumber(v.Enum()); evd != nil {
			return value.String(string(evd.Name()))
		}
		return value.Int(int64(v.Enum()))
	case schema.FloatKind:
		if fd.Kind() == protoreflect.FloatKind {
			return value.Float(widen32(v.Float()))
		}
		return value.Float(v.Float())
	}
	switch fd.Kind() {
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return value.Int(int64(v.Uint()))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u := v.Uint()
		if u > math.MaxInt64 {
			return value.String(strconv.FormatUint(u, 10))
		}
		return value.Int(int64(u))
	}
	return value.Int(v.Int())
}

// widen32 returns the shortest float64 that prints the same as the float32 f.
func widen32(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	w, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', -1, 32), 64)
	if err != nil {
		return f
	}
	return w
}

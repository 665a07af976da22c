package codec

import (
	"encoding/base64"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/value"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// Encode converts v into wire bytes for md. v must be a map.
func Encode(v value.Value, md protoreflect.MessageDescriptor) ([]byte, error) {
	msg, err := ToMessage(v, md)
	if err != nil {
		return nil, err
	}
	b, err := marshalOpts.Marshal(msg)
	if err != nil {
		return nil, errs.Mismatchf(string(md.FullName()), "%v", err)
	}
	return b, nil
}

// ToMessage builds a dynamic message for md from v without serializing it.
func ToMessage(v value.Value, md protoreflect.MessageDescriptor) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(md)
	if err := fillMessage("", msg, v); err != nil {
		return nil, err
	}
	return msg, nil
}

func fillMessage(path string, msg protoreflect.Message, v value.Value) error {
	md := msg.Descriptor()
	if v.Kind() != value.MapKind {
		return errs.Mismatchf(pathOr(path, md), "expected map for message %s, got %s", md.FullName(), v.Kind())
	}
	fields := md.Fields()
	oneofs := map[protoreflect.FullName]string{}
	var err error
	v.Map().Range(func(key string, fv value.Value) bool {
		fd := lookupField(fields, key)
		if fd == nil || fv.IsNull() {
			return true
		}
		fpath := join(path, string(fd.Name()))
		if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
			if prev, ok := oneofs[od.FullName()]; ok {
				err = errs.Mismatchf(fpath, "oneof %s already set by %s", od.Name(), prev)
				return false
			}
			oneofs[od.FullName()] = string(fd.Name())
		}
		err = setField(fpath, msg, fd, fv)
		return err == nil
	})
	return err
}

func lookupField(fields protoreflect.FieldDescriptors, key string) protoreflect.FieldDescriptor {
	if fd := fields.ByName(protoreflect.Name(key)); fd != nil {
		return fd
	}
	return fields.ByJSONName(key)
}

func setField(path string, msg protoreflect.Message, fd protoreflect.FieldDescriptor, v value.Value) error {
	switch {
	case fd.IsMap():
		return setMap(path, msg, fd, v)
	case fd.IsList():
		return setList(path, msg, fd, v)
	case schema.KindOf(fd) == schema.MessageKind:
		sub := msg.NewField(fd)
		if err := fillMessage(path, sub.Message(), v); err != nil {
			return err
		}
		msg.Set(fd, sub)
		return nil
	}
	pv, err := scalar(path, fd, v)
	if err != nil {
		return err
	}
	msg.Set(fd, pv)
	return nil
}

func setList(path string, msg protoreflect.Message, fd protoreflect.FieldDescriptor, v value.Value) error {
	if v.Kind() != value.ArrayKind {
		return errs.Mismatchf(path, "expected array for repeated field, got %s", v.Kind())
	}
	list := msg.Mutable(fd).List()
	for i, ev := range v.Array() {
		epath := path + "[" + strconv.Itoa(i) + "]"
		if ev.IsNull() {
			return errs.Mismatchf(epath, "null element in repeated field")
		}
		if schema.KindOf(fd) == schema.MessageKind {
			elem := list.NewElement()
			if err := fillMessage(epath, elem.Message(), ev); err != nil {
				return err
			}
			list.Append(elem)
			continue
		}
		pv, err := scalar(epath, fd, ev)
		if err != nil {
			return err
		}
		list.Append(pv)
	}
	return nil
}

func setMap(path string, msg protoreflect.Message, fd protoreflect.FieldDescriptor, v value.Value) error {
	if v.Kind() != value.MapKind {
		return errs.Mismatchf(path, "expected map for map field, got %s", v.Kind())
	}
	kd, vd := fd.MapKey(), fd.MapValue()
	m := msg.Mutable(fd).Map()
	var err error
	v.Map().Range(func(key string, ev value.Value) bool {
		epath := path + "[" + key + "]"
		var mk protoreflect.MapKey
		if mk, err = mapKey(epath, kd, key); err != nil {
			return false
		}
		if schema.KindOf(vd) == schema.MessageKind {
			mv := m.NewValue()
			if !ev.IsNull() {
				if err = fillMessage(epath, mv.Message(), ev); err != nil {
					return false
				}
			}
			m.Set(mk, mv)
			return true
		}
		if ev.IsNull() {
			err = errs.Mismatchf(epath, "null map value")
			return false
		}
		var pv protoreflect.Value
		if pv, err = scalar(epath, vd, ev); err != nil {
			return false
		}
		m.Set(mk, pv)
		return true
	})
	return err
}

func mapKey(path string, kd protoreflect.FieldDescriptor, key string) (protoreflect.MapKey, error) {
	var kv value.Value
	switch schema.KindOf(kd) {
	case schema.StringKind:
		kv = value.String(key)
	case schema.BoolKind:
		b, err := strconv.ParseBool(key)
		if err != nil {
			return protoreflect.MapKey{}, errs.Mismatchf(path, "invalid bool map key %q", key)
		}
		kv = value.Bool(b)
	default:
		kv = value.String(key)
		if n, err := strconv.ParseInt(key, 10, 64); err == nil {
			kv = value.Int(n)
		}
	}
	pv, err := scalarWith(path, kd, kv, true)
	if err != nil {
		return protoreflect.MapKey{}, err
	}
	return pv.MapKey(), nil
}

func scalar(path string, fd protoreflect.FieldDescriptor, v value.Value) (protoreflect.Value, error) {
	return scalarWith(path, fd, v, false)
}

// scalarWith converts v for a non-message field. strInts lets any integer
// kind accept a decimal string, which map keys always are.
func scalarWith(path string, fd protoreflect.FieldDescriptor, v value.Value, strInts bool) (protoreflect.Value, error) {
	switch schema.KindOf(fd) {
	case schema.BoolKind:
		if v.Kind() != value.BoolKind {
			return protoreflect.Value{}, mismatch(path, "bool", v)
		}
		return protoreflect.ValueOfBool(v.Bool()), nil
	case schema.StringKind:
		if v.Kind() != value.StringKind {
			return protoreflect.Value{}, mismatch(path, "string", v)
		}
		if !utf8.ValidString(v.Str()) {
			return protoreflect.Value{}, errs.Mismatchf(path, "string is not valid UTF-8")
		}
		return protoreflect.ValueOfString(v.Str()), nil
	case schema.BytesKind:
		return bytesValue(path, v)
	case schema.EnumKind:
		return enumValue(path, fd, v)
	case schema.FloatKind:
		return floatValue(path, fd, v)
	case schema.IntKind:
		return intValue(path, fd, v, strInts)
	}
	return protoreflect.Value{}, errs.Mismatchf(path, "unsupported field kind %s", fd.Kind())
}

func bytesValue(path string, v value.Value) (protoreflect.Value, error) {
	switch v.Kind() {
	case value.BytesKind:
		return protoreflect.ValueOfBytes(append([]byte(nil), v.Bytes()...)), nil
	case value.StringKind:
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
			if b, err := enc.DecodeString(v.Str()); err == nil {
				return protoreflect.ValueOfBytes(b), nil
			}
		}
		return protoreflect.Value{}, errs.Mismatchf(path, "string is not valid base64")
	}
	return protoreflect.Value{}, mismatch(path, "bytes", v)
}

func enumValue(path string, fd protoreflect.FieldDescriptor, v value.Value) (protoreflect.Value, error) {
	ed := fd.Enum()
	var evd protoreflect.EnumValueDescriptor
	switch v.Kind() {
	case value.StringKind:
		evd = ed.Values().ByName(protoreflect.Name(v.Str()))
		if evd == nil {
			return protoreflect.Value{}, &errs.NotFoundError{Kind: "enum value", Name: string(ed.FullName()) + "." + v.Str()}
		}
	case value.IntKind:
		n := v.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return protoreflect.Value{}, errs.Mismatchf(path, "enum number %d out of range", n)
		}
		evd = ed.Values().ByNumber(protoreflect.EnumNumber(n))
		if evd == nil {
			return protoreflect.Value{}, &errs.NotFoundError{Kind: "enum value", Name: string(ed.FullName()) + "." + strconv.FormatInt(n, 10)}
		}
	default:
		return protoreflect.Value{}, mismatch(path, "enum label or number", v)
	}
	return protoreflect.ValueOfEnum(evd.Number()), nil
}

func floatValue(path string, fd protoreflect.FieldDescriptor, v value.Value) (protoreflect.Value, error) {
	var f float64
	switch v.Kind() {
	case value.FloatKind:
		f = v.Float()
	case value.IntKind:
		f = float64(v.Int())
	case value.StringKind:
		switch v.Str() {
		case "NaN":
			f = math.NaN()
		case "Infinity":
			f = math.Inf(1)
		case "-Infinity":
			f = math.Inf(-1)
		default:
			return protoreflect.Value{}, mismatch(path, "float", v)
		}
	default:
		return protoreflect.Value{}, mismatch(path, "float", v)
	}
	if fd.Kind() == protoreflect.FloatKind {
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return protoreflect.Value{}, errs.Mismatchf(path, "value %g overflows float", f)
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil
	}
	return protoreflect.ValueOfFloat64(f), nil
}

func intValue(path string, fd protoreflect.FieldDescriptor, v value.Value, strInts bool) (protoreflect.Value, error) {
	r := schema.IntRange(fd.Kind())
	is64 := r.Max > math.MaxUint32
	switch v.Kind() {
	case value.IntKind:
		n := v.Int()
		if n < r.Min || (n > 0 && uint64(n) > r.Max) {
			return protoreflect.Value{}, errs.Mismatchf(path, "value %d out of range for %s", n, fd.Kind())
		}
		return intOf(fd.Kind(), n, uint64(n)), nil
	case value.StringKind:
		if !is64 && !strInts {
			return protoreflect.Value{}, mismatch(path, "integer", v)
		}
		if r.Unsigned {
			u, err := strconv.ParseUint(v.Str(), 10, 64)
			if err != nil || u > r.Max {
				return protoreflect.Value{}, errs.Mismatchf(path, "invalid %s %q", fd.Kind(), v.Str())
			}
			return intOf(fd.Kind(), int64(u), u), nil
		}
		n, err := strconv.ParseInt(v.Str(), 10, 64)
		if err != nil || n < r.Min || (n > 0 && uint64(n) > r.Max) {
			return protoreflect.Value{}, errs.Mismatchf(path, "invalid %s %q", fd.Kind(), v.Str())
		}
		return intOf(fd.Kind(), n, uint64(n)), nil
	}
	return protoreflect.Value{}, mismatch(path, "integer", v)
}

func intOf(k protoreflect.Kind, n int64, u uint64) protoreflect.Value {
	switch k {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(int32(n))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(uint32(u))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(u)
	}
	return protoreflect.ValueOfInt64(n)
}

func mismatch(path, want string, v value.Value) error {
	return errs.Mismatchf(path, "expected %s, got %s", want, v.Kind())
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func pathOr(path string, md protoreflect.MessageDescriptor) string {
	if path == "" {
		return string(md.FullName())
	}
	return path
}

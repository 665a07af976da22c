package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ParseJSON decodes a single JSON document into a Value. Object key order is
// preserved. Numbers without a fraction or exponent that fit in int64 become
// Int, all others Float.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return Value{}, fmt.Errorf("value: parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("value: parse json: trailing data after value")
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case json.Delim:
		switch t {
		case '[':
			arr := []Value{}
			for dec.More() {
				e, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(arr...), nil
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", kt)
				}
				e, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				m.Set(key, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return FromMap(m), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON implements json.Marshaler. Bytes are base64 encoded and
// non-finite floats are written as the strings "NaN", "Infinity" and
// "-Infinity".
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case NullKind:
		buf.WriteString("null")
	case BoolKind:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case IntKind:
		buf.WriteString(strconv.FormatInt(v.n, 10))
	case FloatKind:
		switch {
		case math.IsNaN(v.f):
			buf.WriteString(`"NaN"`)
		case math.IsInf(v.f, 1):
			buf.WriteString(`"Infinity"`)
		case math.IsInf(v.f, -1):
			buf.WriteString(`"-Infinity"`)
		default:
			buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
		}
	case StringKind:
		return writeJSONString(buf, v.s)
	case BytesKind:
		return writeJSONString(buf, base64.StdEncoding.EncodeToString(v.b))
	case ArrayKind:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case MapKind:
		buf.WriteByte('{')
		var err error
		first := true
		v.m.Range(func(k string, e Value) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err = writeJSONString(buf, k); err != nil {
				return false
			}
			buf.WriteByte(':')
			err = e.appendJSON(buf)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: cannot encode %s", v.kind)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

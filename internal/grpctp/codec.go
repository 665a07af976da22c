package grpctp

import "fmt"

// rawCodec passes already-encoded protobuf messages through unchanged. It
// registers under the "proto" name so the content-type stays application/grpc.
type rawCodec struct{}

func (rawCodec) Name() string { return "proto" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	}
	return nil, fmt.Errorf("grpctp: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpctp: cannot unmarshal into %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

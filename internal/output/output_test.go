package output

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/value"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
	"gopkg.in/yaml.v3"
)

func sample() value.Value {
	return value.MapOf(
		value.KV("zeta", value.Int(1)),
		value.KV("alpha", value.Array(value.String("x"), value.String("2"))),
		value.KV("ratio", value.Float(2)),
		value.KV("empty", value.Array()),
		value.KV("raw", value.Bytes([]byte{1, 2})),
		value.KV("nested", value.MapOf(value.KV("ok", value.Bool(true)), value.KV("none", value.Null()))),
	)
}

func TestJSONFormatter(t *testing.T) {
	got, err := (&JSONFormatter{}).Format(value.MapOf(value.KV("b", value.Int(1)), value.KV("a", value.Array())))
	require.NoError(t, err)
	require.Equal(t, "{\n  \"b\": 1,\n  \"a\": []\n}\n", got)
}

func TestYAMLFormatterKeepsOrderAndTypes(t *testing.T) {
	got, err := (&YAMLFormatter{}).Format(sample())
	require.NoError(t, err)

	keys := []string{"zeta:", "alpha:", "ratio:", "empty:", "raw:", "nested:"}
	last := -1
	for _, k := range keys {
		i := strings.Index(got, k)
		require.Greater(t, i, last, "key %s out of order in\n%s", k, got)
		last = i
	}

	var back map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(got), &back))
	require.Equal(t, 1, back["zeta"])
	require.Equal(t, []any{"x", "2"}, back["alpha"])
	require.Equal(t, 2.0, back["ratio"])
	require.Equal(t, []any{}, back["empty"])
	require.Equal(t, map[string]any{"ok": true, "none": nil}, back["nested"])
}

func TestYAMLFloat(t *testing.T) {
	require.Equal(t, "1.5", yamlFloat(1.5))
	require.Equal(t, "3.0", yamlFloat(3))
	require.Equal(t, "1e+21", yamlFloat(1e21))
	require.Equal(t, ".nan", yamlFloat(math.NaN()))
	require.Equal(t, "-.inf", yamlFloat(math.Inf(-1)))
}

func TestNewFormatter(t *testing.T) {
	f, err := NewFormatter("")
	require.NoError(t, err)
	require.IsType(t, &JSONFormatter{}, f)
	f, err = NewFormatter("YAML")
	require.NoError(t, err)
	require.IsType(t, &YAMLFormatter{}, f)
	_, err = NewFormatter("table")
	require.Error(t, err)
}

func calcService(t *testing.T) *schema.Service {
	t.Helper()
	in, out := ".calc.AddArg", ".calc.Num"
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("calc.proto"),
		Package: proto.String("calc"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("Num"), Field: []*descriptorpb.FieldDescriptorProto{{
				Name: proto.String("value"), Number: proto.Int32(1),
				Type:  descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
				Label: descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			}}},
			{Name: proto.String("AddArg")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Calc"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{Name: proto.String("Add"), InputType: &in, OutputType: &out},
				{Name: proto.String("Eval"), InputType: &in, OutputType: &out, ClientStreaming: proto.Bool(true), ServerStreaming: proto.Bool(true)},
			},
		}},
	}
	fd, err := protodesc.NewFile(fdp, nil)
	require.NoError(t, err)
	return schema.NewService(fd.Services().Get(0))
}

func TestDescribeService(t *testing.T) {
	var buf bytes.Buffer
	DescribeService(&buf, calcService(t))
	want := "calc.Calc\n" +
		"Method: Add(AddArg) returns Num\n" +
		"Client streaming: false; Server streaming: false;\n\n" +
		"Method: Eval(AddArg) returns Num\n" +
		"Client streaming: true; Server streaming: true;\n\n\n"
	require.Equal(t, want, buf.String())
}

func TestListServices(t *testing.T) {
	var buf bytes.Buffer
	ListServices(&buf, []string{"a.A", "b.B"})
	require.Equal(t, "[0] a.A\n[1] b.B\n", buf.String())
}

func TestPrintProto(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintProto(&buf, calcService(t)))
	src := buf.String()
	require.Contains(t, src, "package calc;")
	require.Contains(t, src, "service Calc {")
	require.Contains(t, src, "rpc Eval")
	require.Contains(t, src, "stream")
}

func TestPlainStylesLeaveTextAlone(t *testing.T) {
	s := PlainStyles()
	require.Equal(t, "hello", s.Error.Render("hello"))
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

func protoString(s string) *string { return &s }
func protoInt32(i int32) *int32    { return &i }

func field(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, label descriptorpb.FieldDescriptorProto_Label) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   protoString(name),
		Number: protoInt32(num),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
}

func optional(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return field(name, num, typ, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL)
}

func repeated(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return field(name, num, typ, descriptorpb.FieldDescriptorProto_LABEL_REPEATED)
}

func typed(f *descriptorpb.FieldDescriptorProto, typeName string) *descriptorpb.FieldDescriptorProto {
	f.TypeName = protoString(typeName)
	return f
}

func inOneof(f *descriptorpb.FieldDescriptorProto, idx int32) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = protoInt32(idx)
	return f
}

// testFile builds test.proto:
//
//	enum Color { RED = 0; GREEN = 1; BLUE = 2; }
//	message Simple { int32 a = 1; repeated int32 b = 2; }
//	message All {
//	  int32 i32 = 1; int64 i64 = 2; uint32 u32 = 3; uint64 u64 = 4;
//	  float f = 5; double d = 6; bool flag = 7; string s = 8; bytes raw = 9;
//	  Color color = 10; Simple child = 11; repeated Simple children = 12;
//	  map<string, int32> tags = 13; All next = 14;
//	  oneof choice { string name = 15; int32 num = 16; }
//	  int32 child_count = 17; repeated Color colors = 18;
//	  map<int64, Simple> by_id = 19;
//	}
func testFile(t *testing.T) protoreflect.FileDescriptor {
	t.Helper()
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    protoString("test.proto"),
		Package: protoString("test"),
		Syntax:  protoString("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: protoString("Color"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: protoString("RED"), Number: protoInt32(0)},
				{Name: protoString("GREEN"), Number: protoInt32(1)},
				{Name: protoString("BLUE"), Number: protoInt32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: protoString("Simple"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("a", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					repeated("b", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				},
			},
			{
				Name: protoString("All"),
				Field: []*descriptorpb.FieldDescriptorProto{
					optional("i32", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					optional("i64", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64),
					optional("u32", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					optional("u64", 4, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
					optional("f", 5, descriptorpb.FieldDescriptorProto_TYPE_FLOAT),
					optional("d", 6, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					optional("flag", 7, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					optional("s", 8, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					optional("raw", 9, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
					typed(optional("color", 10, descriptorpb.FieldDescriptorProto_TYPE_ENUM), ".test.Color"),
					typed(optional("child", 11, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), ".test.Simple"),
					typed(repeated("children", 12, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), ".test.Simple"),
					typed(repeated("tags", 13, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), ".test.All.TagsEntry"),
					typed(optional("next", 14, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), ".test.All"),
					inOneof(optional("name", 15, descriptorpb.FieldDescriptorProto_TYPE_STRING), 0),
					inOneof(optional("num", 16, descriptorpb.FieldDescriptorProto_TYPE_INT32), 0),
					optional("child_count", 17, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					typed(repeated("colors", 18, descriptorpb.FieldDescriptorProto_TYPE_ENUM), ".test.Color"),
					typed(repeated("by_id", 19, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), ".test.All.ByIdEntry"),
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: protoString("choice")}},
				NestedType: []*descriptorpb.DescriptorProto{
					mapEntry("TagsEntry",
						optional("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
						optional("value", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32)),
					mapEntry("ByIdEntry",
						optional("key", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64),
						typed(optional("value", 2, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), ".test.Simple")),
				},
			},
		},
	}
	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fdp}})
	require.NoError(t, err)
	fd, err := files.FindFileByPath("test.proto")
	require.NoError(t, err)
	return fd
}

func mapEntry(name string, key, val *descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name:    protoString(name),
		Field:   []*descriptorpb.FieldDescriptorProto{key, val},
		Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
	}
}

func message(t *testing.T, name string) protoreflect.MessageDescriptor {
	t.Helper()
	md := testFile(t).Messages().ByName(protoreflect.Name(name))
	require.NotNil(t, md, "message %s", name)
	return md
}

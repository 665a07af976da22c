package output

import (
	"fmt"
	"io"

	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/jhump/protoreflect/v2/protoprint"
)

// ListServices writes one "[index] name" line per service.
func ListServices(w io.Writer, names []string) {
	for i, n := range names {
		fmt.Fprintf(w, "[%d] %s\n", i, n)
	}
}

// DescribeService writes the service name followed by each method's
// signature and streaming flags.
func DescribeService(w io.Writer, svc *schema.Service) {
	fmt.Fprintln(w, svc.FullName)
	for _, m := range svc.Methods {
		fmt.Fprintf(w, "Method: %s(%s) returns %s\n", m.Name, m.Input.Name(), m.Output.Name())
		fmt.Fprintf(w, "Client streaming: %t; Server streaming: %t;\n", m.ClientStreaming, m.ServerStreaming)
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

// PrintProto writes the proto source of the file declaring svc.
func PrintProto(w io.Writer, svc *schema.Service) error {
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(svc.Desc.ParentFile(), w)
}

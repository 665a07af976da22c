// Package schema models services and methods discovered at runtime. Entries
// wrap protoreflect descriptors and are immutable once built.
package schema

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Shape is the streaming shape of a method.
type Shape uint8

const (
	Unary Shape = iota
	ServerStreaming
	ClientStreaming
	BidiStreaming
)

func (s Shape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ServerStreaming:
		return "server streaming"
	case ClientStreaming:
		return "client streaming"
	case BidiStreaming:
		return "bidirectional streaming"
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// ShapeOf derives the shape from the two streaming flags.
func ShapeOf(clientStreaming, serverStreaming bool) Shape {
	switch {
	case clientStreaming && serverStreaming:
		return BidiStreaming
	case clientStreaming:
		return ClientStreaming
	case serverStreaming:
		return ServerStreaming
	}
	return Unary
}

// Service is a named collection of methods, in declaration order.
type Service struct {
	FullName string
	Methods  []*Method
	Desc     protoreflect.ServiceDescriptor
}

// Method finds a method by simple name.
func (s *Service) Method(name string) (*Method, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Method describes one RPC.
type Method struct {
	Name            string
	FullName        string
	Service         string
	Input           protoreflect.MessageDescriptor
	Output          protoreflect.MessageDescriptor
	ClientStreaming bool
	ServerStreaming bool
	Desc            protoreflect.MethodDescriptor
}

// Path returns the wire method path "/package.Service/Method".
func (m *Method) Path() string {
	return "/" + m.Service + "/" + m.Name
}

func (m *Method) Shape() Shape {
	return ShapeOf(m.ClientStreaming, m.ServerStreaming)
}

// NewService builds a Service from its descriptor.
func NewService(sd protoreflect.ServiceDescriptor) *Service {
	svc := &Service{FullName: string(sd.FullName()), Desc: sd}
	methods := sd.Methods()
	svc.Methods = make([]*Method, 0, methods.Len())
	for i := 0; i < methods.Len(); i++ {
		svc.Methods = append(svc.Methods, NewMethod(methods.Get(i)))
	}
	return svc
}

// NewMethod builds a Method from its descriptor.
func NewMethod(md protoreflect.MethodDescriptor) *Method {
	return &Method{
		Name:            string(md.Name()),
		FullName:        string(md.FullName()),
		Service:         string(md.Parent().FullName()),
		Input:           md.Input(),
		Output:          md.Output(),
		ClientStreaming: md.IsStreamingClient(),
		ServerStreaming: md.IsStreamingServer(),
		Desc:            md,
	}
}

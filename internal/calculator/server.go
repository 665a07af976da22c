// Package calculator is a demo gRPC server whose schema is built at run time.
// It has no generated code: requests and responses are dynamic messages, and
// reflection is served from the built descriptors so that schema-less clients
// can discover it.
package calculator

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/hanpama/grpcdyn/internal/codec"
	"github.com/hanpama/grpcdyn/internal/value"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	rpbalpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Option configures a Server.
type Option func(*Server)

// WithDelay pauses between streamed responses of Evaluate and FindPrimes.
func WithDelay(d time.Duration) Option { return func(s *Server) { s.delay = d } }

// WithLogger replaces the standard logger.
func WithLogger(l *log.Logger) Option { return func(s *Server) { s.logger = l } }

// Server implements IntCalculator and VectorCalculator.
type Server struct {
	fd     protoreflect.FileDescriptor
	delay  time.Duration
	logger *log.Logger
}

func New(opts ...Option) (*Server, error) {
	fd, err := File()
	if err != nil {
		return nil, err
	}
	s := &Server{fd: fd, logger: log.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Register creates a Server and registers both services plus reflection v1
// and v1alpha on gs.
func Register(gs *grpc.Server, opts ...Option) error {
	s, err := New(opts...)
	if err != nil {
		return err
	}
	files, err := Files()
	if err != nil {
		return err
	}
	gs.RegisterService(s.intCalculator(), s)
	gs.RegisterService(s.vectorCalculator(), s)

	ropts := reflection.ServerOptions{Services: gs, DescriptorResolver: files}
	rpb.RegisterServerReflectionServer(gs, reflection.NewServerV1(ropts))
	rpbalpha.RegisterServerReflectionServer(gs, reflection.NewServer(ropts))
	return nil
}

func (s *Server) intCalculator() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: IntCalculator,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			s.unary(IntCalculator, "ApplyBinOp", s.applyBinOp),
		},
		Streams: []grpc.StreamDesc{
			s.stream(IntCalculator, "Evaluate", s.evaluate),
			s.stream(IntCalculator, "FindPrimes", s.findPrimes),
			s.stream(IntCalculator, "Sum", s.sum),
		},
		Metadata: s.fd.Path(),
	}
}

func (s *Server) vectorCalculator() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: VectorCalculator,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			s.unary(VectorCalculator, "AccumulateVec", s.accumulateVec),
			s.unary(VectorCalculator, "MapVec", s.mapVec),
		},
		Streams: []grpc.StreamDesc{
			s.stream(VectorCalculator, "Dot", s.dot),
		},
		Metadata: s.fd.Path(),
	}
}

func (s *Server) method(service, name string) protoreflect.MethodDescriptor {
	sd := s.fd.Services().ByName(protoreflect.FullName(service).Name())
	return sd.Methods().ByName(protoreflect.Name(name))
}

func (s *Server) message(name protoreflect.Name) protoreflect.MessageDescriptor {
	return s.fd.Messages().ByName(name)
}

type unaryFunc func(ctx context.Context, req protoreflect.Message) (protoreflect.ProtoMessage, error)

func (s *Server) unary(service, name string, fn unaryFunc) grpc.MethodDesc {
	md := s.method(service, name)
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := dynamicpb.NewMessage(md.Input())
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: s, FullMethod: fullMethod}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return fn(ctx, r.(*dynamicpb.Message))
			})
		},
	}
}

// calcStream wraps a server stream with the method's message types.
type calcStream struct {
	grpc.ServerStream
	md protoreflect.MethodDescriptor
}

func (cs *calcStream) Recv() (protoreflect.Message, error) {
	m := dynamicpb.NewMessage(cs.md.Input())
	if err := cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (cs *calcStream) Send(m protoreflect.ProtoMessage) error { return cs.SendMsg(m) }

func (s *Server) stream(service, name string, fn func(*calcStream) error) grpc.StreamDesc {
	md := s.method(service, name)
	return grpc.StreamDesc{
		StreamName:    name,
		ClientStreams: md.IsStreamingClient(),
		ServerStreams: md.IsStreamingServer(),
		Handler: func(_ any, ss grpc.ServerStream) error {
			return fn(&calcStream{ServerStream: ss, md: md})
		},
	}
}

var intOps = map[protoreflect.Name]func(a, b int32) int32{
	"ADDI": func(a, b int32) int32 { return a + b },
	"SUBI": func(a, b int32) int32 { return a - b },
	"MULI": func(a, b int32) int32 { return a * b },
	"DIVI": func(a, b int32) int32 { return a / b },
	"MODI": func(a, b int32) int32 { return a % b },
}

var accOps = map[protoreflect.Name]func(a, b float64) float64{
	"MIN": func(a, b float64) float64 { return min(a, b) },
	"MAX": func(a, b float64) float64 { return max(a, b) },
	"ADD": func(a, b float64) float64 { return a + b },
	"MUL": func(a, b float64) float64 { return a * b },
}

var mapOps = map[protoreflect.Name]func(x float64) float64{
	"ID":     func(x float64) float64 { return x },
	"SIN":    math.Sin,
	"COS":    math.Cos,
	"SQUARE": func(x float64) float64 { return x * x },
	"SQRT":   math.Sqrt,
}

func (s *Server) applyBinOp(_ context.Context, req protoreflect.Message) (protoreflect.ProtoMessage, error) {
	op := enumName(req, "op")
	a, b := intArg(req, "arg1"), intArg(req, "arg2")
	res, err := applyInt(op, a, b)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("operation: %s; arg1: %d; arg2: %d; result: %d", op, a, b, res)
	return s.newInt(res)
}

func applyInt(op protoreflect.Name, a, b int32) (int32, error) {
	fn, ok := intOps[op]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "Unknown operation %s", op)
	}
	if (op == "DIVI" || op == "MODI") && b == 0 {
		return 0, status.Error(codes.InvalidArgument, "Can't divide by zero")
	}
	return fn(a, b), nil
}

func (s *Server) evaluate(cs *calcStream) error {
	var res int32
	for {
		req, err := cs.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		op := enumName(req, "op")
		arg := intArg(req, "arg")
		if res, err = applyInt(op, res, arg); err != nil {
			return err
		}
		s.logger.Printf("operation: %s; arg: %d; result: %d", op, arg, res)
		out, err := s.newInt(res)
		if err != nil {
			return err
		}
		if err := cs.Send(out); err != nil {
			return err
		}
		if err := s.pause(cs.Context()); err != nil {
			return err
		}
	}
}

func (s *Server) findPrimes(cs *calcStream) error {
	req, err := cs.Recv()
	if err != nil {
		return err
	}
	lb, ub := intArg(req, "lb"), intArg(req, "ub")
	if lb < 0 || ub < 0 || lb >= ub {
		return status.Error(codes.InvalidArgument, "Invalid upper bound and lower bound")
	}
	for i := lb; i < ub; i++ {
		if !isPrime(i) {
			continue
		}
		out, err := s.newInt(i)
		if err != nil {
			return err
		}
		if err := cs.Send(out); err != nil {
			return err
		}
		if err := s.pause(cs.Context()); err != nil {
			return err
		}
	}
	return nil
}

func isPrime(n int32) bool {
	if n < 2 {
		return false
	}
	for i := int64(2); i*i <= int64(n); i++ {
		if int64(n)%i == 0 {
			return false
		}
	}
	return true
}

func (s *Server) sum(cs *calcStream) error {
	var total int32
	for {
		req, err := cs.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		total += int32(field(req, "value").Int())
	}
	s.logger.Printf("method: Sum; result: %d", total)
	out, err := s.newInt(total)
	if err != nil {
		return err
	}
	return cs.Send(out)
}

func (s *Server) accumulateVec(_ context.Context, req protoreflect.Message) (protoreflect.ProtoMessage, error) {
	op := enumName(req, "op")
	fn, ok := accOps[op]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Unknown operation %s", op)
	}
	coeffs := vector(req, "vec")
	if len(coeffs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "Empty vector")
	}
	res := coeffs[0]
	for _, x := range coeffs[1:] {
		res = fn(res, x)
	}
	s.logger.Printf("method: AccumulateVec; operation: %s; result: %f", op, res)
	return s.newFloat(res)
}

func (s *Server) mapVec(_ context.Context, req protoreflect.Message) (protoreflect.ProtoMessage, error) {
	op := enumName(req, "op")
	fn, ok := mapOps[op]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Unknown operation %s", op)
	}
	coeffs := vector(req, "vec")
	if len(coeffs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "Empty vector")
	}
	out := make([]value.Value, len(coeffs))
	for i, x := range coeffs {
		if op == "SQRT" && x < 0 {
			return nil, status.Error(codes.InvalidArgument, "Sqrt on negative number")
		}
		out[i] = value.Float(fn(x))
	}
	s.logger.Printf("method: MapVec; operation: %s", op)
	return s.build("FloatVector", value.MapOf(value.KV("coeffs", value.Array(out...))))
}

func (s *Server) dot(cs *calcStream) error {
	for {
		req, err := cs.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		v1, v2 := vector(req, "vec1"), vector(req, "vec2")
		if len(v1) != len(v2) || len(v1) == 0 {
			return status.Error(codes.InvalidArgument, "Invalid vectors")
		}
		var res float64
		for i := range v1 {
			res += v1[i] * v2[i]
		}
		out, err := s.newFloat(res)
		if err != nil {
			return err
		}
		if err := cs.Send(out); err != nil {
			return err
		}
	}
}

func (s *Server) pause(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}

func (s *Server) newInt(n int32) (protoreflect.ProtoMessage, error) {
	return s.build("Int", value.MapOf(value.KV("value", value.Int(int64(n)))))
}

func (s *Server) newFloat(f float64) (protoreflect.ProtoMessage, error) {
	return s.build("Float", value.MapOf(value.KV("value", value.Float(f))))
}

func (s *Server) build(name protoreflect.Name, v value.Value) (protoreflect.ProtoMessage, error) {
	m, err := codec.ToMessage(v, s.message(name))
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("build %s: %v", name, err))
	}
	return m, nil
}

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(m.Descriptor().Fields().ByName(name))
}

// intArg reads the value of an Int message field; unset reads as zero.
func intArg(m protoreflect.Message, name protoreflect.Name) int32 {
	return int32(field(field(m, name).Message(), "value").Int())
}

func vector(m protoreflect.Message, name protoreflect.Name) []float64 {
	list := field(field(m, name).Message(), "coeffs").List()
	out := make([]float64, list.Len())
	for i := range out {
		out[i] = list.Get(i).Float()
	}
	return out
}

// enumName returns the label of an enum field, or its number when unknown.
func enumName(m protoreflect.Message, name protoreflect.Name) protoreflect.Name {
	fd := m.Descriptor().Fields().ByName(name)
	n := m.Get(fd).Enum()
	if ev := fd.Enum().Values().ByNumber(n); ev != nil {
		return ev.Name()
	}
	return protoreflect.Name(fmt.Sprint(int32(n)))
}

package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
)

type fakeClient struct {
	mu       sync.Mutex
	services []string
	files    map[string]*descriptorpb.FileDescriptorProto
	symbols  map[string][]string
	calls    []string
}

func (f *fakeClient) ListServices(context.Context) ([]string, error) {
	f.record("list")
	return f.services, nil
}

func (f *fakeClient) FileContainingSymbol(_ context.Context, symbol string) ([][]byte, error) {
	f.record("symbol:" + symbol)
	names, ok := f.symbols[symbol]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "symbol", Name: symbol}
	}
	return f.marshal(names...)
}

func (f *fakeClient) FileByFilename(_ context.Context, name string) ([][]byte, error) {
	f.record("file:" + name)
	if _, ok := f.files[name]; !ok {
		return nil, &errs.NotFoundError{Kind: "file", Name: name}
	}
	return f.marshal(name)
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) marshal(names ...string) ([][]byte, error) {
	var out [][]byte
	for _, n := range names {
		b, err := proto.Marshal(f.files[n])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func protoString(s string) *string { return &s }
func protoInt32(i int32) *int32    { return &i }

// newFake serves svc.proto, which imports types.proto and the well-known
// empty.proto. The symbol reply deliberately omits types.proto.
func newFake() *fakeClient {
	types := &descriptorpb.FileDescriptorProto{
		Name:    protoString("types.proto"),
		Package: protoString("test"),
		Syntax:  protoString("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: protoString("Req"),
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:   protoString("a"),
				Number: protoInt32(1),
				Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
				Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			}},
		}},
	}
	svc := &descriptorpb.FileDescriptorProto{
		Name:       protoString("svc.proto"),
		Package:    protoString("test"),
		Syntax:     protoString("proto3"),
		Dependency: []string{"types.proto", "google/protobuf/empty.proto"},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: protoString("Svc"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{Name: protoString("Do"), InputType: protoString(".test.Req"), OutputType: protoString(".google.protobuf.Empty")},
					{Name: protoString("Stream"), InputType: protoString(".test.Req"), OutputType: protoString(".test.Req"), ServerStreaming: proto.Bool(true)},
				},
			},
			{
				Name: protoString("Other"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{Name: protoString("Ping"), InputType: protoString(".google.protobuf.Empty"), OutputType: protoString(".google.protobuf.Empty")},
				},
			},
		},
	}
	return &fakeClient{
		services: []string{"test.Svc", "test.Other", "grpc.reflection.v1.ServerReflection"},
		files:    map[string]*descriptorpb.FileDescriptorProto{"types.proto": types, "svc.proto": svc},
		symbols:  map[string][]string{"test.Svc": {"svc.proto"}, "test.Other": {"svc.proto"}},
	}
}

func TestListServicesKeepsServerOrder(t *testing.T) {
	fake := newFake()
	got, err := New(fake).ListServices(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"test.Svc", "test.Other", "grpc.reflection.v1.ServerReflection"}, got)
}

func TestResolveMethodFetchesMissingDependencies(t *testing.T) {
	fake := newFake()
	r := New(fake)
	m, err := r.ResolveMethod(context.Background(), "test.Svc", "Do")
	require.NoError(t, err)
	require.Equal(t, "test.Req", string(m.Input.FullName()))
	require.Equal(t, "google.protobuf.Empty", string(m.Output.FullName()))
	require.Equal(t, "/test.Svc/Do", m.Path())
	require.Equal(t, []string{"symbol:test.Svc", "file:types.proto"}, fake.Calls())
}

func TestResolveMethodIsCached(t *testing.T) {
	fake := newFake()
	r := New(fake)
	ctx := context.Background()
	first, err := r.ResolveMethod(ctx, "test.Svc", "Stream")
	require.NoError(t, err)
	calls := len(fake.Calls())

	second, err := r.ResolveMethod(ctx, "test.Svc", "Stream")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Len(t, fake.Calls(), calls)
	require.True(t, second.ServerStreaming)

	// A second service from an already built file needs only the symbol lookup.
	_, err = r.ResolveMethod(ctx, "test.Other", "Ping")
	require.NoError(t, err)
	require.Equal(t, "symbol:test.Other", fake.Calls()[len(fake.Calls())-1])
	require.Len(t, fake.Calls(), calls+1)
}

func TestMissingMethodIsNotFound(t *testing.T) {
	fake := newFake()
	r := New(fake)
	ctx := context.Background()
	_, err := r.ResolveService(ctx, "test.Svc")
	require.NoError(t, err)
	calls := len(fake.Calls())

	_, err = r.ResolveMethod(ctx, "test.Svc", "missing")
	var nf *errs.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	require.Equal(t, "method", nf.Kind)
	require.Equal(t, "test.Svc.missing", nf.Name)
	require.Len(t, fake.Calls(), calls)
}

func TestMissingServiceIsNotFound(t *testing.T) {
	_, err := New(newFake()).ResolveMethod(context.Background(), "test.Nope", "Do")
	var nf *errs.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	require.Equal(t, "service", nf.Kind)
}

func TestMissingDependencyIsNotFound(t *testing.T) {
	fake := newFake()
	delete(fake.files, "types.proto")
	_, err := New(fake).ResolveService(context.Background(), "test.Svc")
	var nf *errs.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	require.Equal(t, "types.proto", nf.Name)
}

func TestConcurrentResolution(t *testing.T) {
	r := New(newFake())
	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "Do"
			if i%2 == 1 {
				name = "Stream"
			}
			m, err := r.ResolveMethod(context.Background(), "test.Svc", name)
			if err == nil {
				results[i] = m
			} else {
				results[i] = err
			}
		}(i)
	}
	wg.Wait()
	for i := 2; i < len(results); i++ {
		require.Same(t, results[i%2], results[i])
	}
}

// Package registry resolves services and methods of a remote server through
// introspection and caches the resulting descriptors for the connection's
// lifetime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/introspection"
	"github.com/hanpama/grpcdyn/internal/schema"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Registry is safe for concurrent use.
type Registry struct {
	client introspection.Client

	mu       sync.Mutex
	files    *protoregistry.Files
	services map[string]*schema.Service
	methods  map[string]*schema.Method
}

func New(client introspection.Client) *Registry {
	return &Registry{
		client:   client,
		files:    new(protoregistry.Files),
		services: map[string]*schema.Service{},
		methods:  map[string]*schema.Method{},
	}
}

// ListServices returns the server's service names in the order reported.
// The result is not cached.
func (r *Registry) ListServices(ctx context.Context) ([]string, error) {
	return r.client.ListServices(ctx)
}

// ResolveService returns the descriptor for a fully-qualified service name.
func (r *Registry) ResolveService(ctx context.Context, name string) (*schema.Service, error) {
	r.mu.Lock()
	svc, ok := r.services[name]
	r.mu.Unlock()
	if ok {
		return svc, nil
	}

	raw, err := r.client.FileContainingSymbol(ctx, name)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil, &errs.NotFoundError{Kind: "service", Name: name}
		}
		return nil, err
	}
	protos, err := unmarshalFiles(raw)
	if err != nil {
		return nil, err
	}
	if err := r.fetchMissing(ctx, protos); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if svc, ok := r.services[name]; ok {
		return svc, nil
	}
	if err := r.register(protos); err != nil {
		return nil, err
	}
	d, err := r.files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, &errs.NotFoundError{Kind: "service", Name: name}
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, &errs.NotFoundError{Kind: "service", Name: name}
	}
	svc = schema.NewService(sd)
	r.services[name] = svc
	for _, m := range svc.Methods {
		r.methods[m.FullName] = m
	}
	return svc, nil
}

// ResolveMethod returns the method of service with the given simple name.
// Repeated calls return the identical cached value.
func (r *Registry) ResolveMethod(ctx context.Context, service, method string) (*schema.Method, error) {
	full := service + "." + method
	r.mu.Lock()
	m, ok := r.methods[full]
	r.mu.Unlock()
	if ok {
		return m, nil
	}
	svc, err := r.ResolveService(ctx, service)
	if err != nil {
		return nil, err
	}
	m, ok = svc.Method(method)
	if !ok {
		return nil, &errs.NotFoundError{Kind: "method", Name: full}
	}
	return m, nil
}

func unmarshalFiles(raw [][]byte) (map[string]*descriptorpb.FileDescriptorProto, error) {
	out := make(map[string]*descriptorpb.FileDescriptorProto, len(raw))
	for _, b := range raw {
		fdp := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(b, fdp); err != nil {
			return nil, &errs.DecodeError{What: "file descriptor", Err: err}
		}
		out[fdp.GetName()] = fdp
	}
	return out, nil
}

// fetchMissing adds to protos every dependency that is neither in the reply,
// already registered, nor linked into the binary.
func (r *Registry) fetchMissing(ctx context.Context, protos map[string]*descriptorpb.FileDescriptorProto) error {
	queue := make([]string, 0, len(protos))
	for name := range protos {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range protos[name].GetDependency() {
			if _, ok := protos[dep]; ok || r.known(dep) {
				continue
			}
			raw, err := r.client.FileByFilename(ctx, dep)
			if err != nil {
				return fmt.Errorf("fetch dependency %s: %w", dep, err)
			}
			more, err := unmarshalFiles(raw)
			if err != nil {
				return err
			}
			for n, fdp := range more {
				if _, ok := protos[n]; !ok {
					protos[n] = fdp
					queue = append(queue, n)
				}
			}
			if _, ok := protos[dep]; !ok {
				return &errs.NotFoundError{Kind: "file", Name: dep}
			}
		}
	}
	return nil
}

func (r *Registry) known(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.files.FindFileByPath(path); err == nil {
		return true
	}
	_, err := protoregistry.GlobalFiles.FindFileByPath(path)
	return err == nil
}

// register builds protos in dependency order. Callers hold r.mu.
func (r *Registry) register(protos map[string]*descriptorpb.FileDescriptorProto) error {
	visiting := map[string]bool{}
	var build func(name string) error
	build = func(name string) error {
		if _, err := r.files.FindFileByPath(name); err == nil {
			return nil
		}
		fdp, ok := protos[name]
		if !ok {
			fd, err := protoregistry.GlobalFiles.FindFileByPath(name)
			if err != nil {
				return &errs.NotFoundError{Kind: "file", Name: name}
			}
			return r.files.RegisterFile(fd)
		}
		if visiting[name] {
			return &errs.DecodeError{What: "file descriptor", Err: fmt.Errorf("import cycle through %s", name)}
		}
		visiting[name] = true
		for _, dep := range fdp.GetDependency() {
			if err := build(dep); err != nil {
				return err
			}
		}
		fd, err := protodesc.NewFile(fdp, r.files)
		if err != nil {
			return &errs.DecodeError{What: "file descriptor " + name, Err: err}
		}
		return r.files.RegisterFile(fd)
	}
	for name := range protos {
		if err := build(name); err != nil {
			return err
		}
	}
	return nil
}

// Package introspection speaks the gRPC server reflection protocol. It returns
// raw FileDescriptorProto bytes; building them is left to the registry.
package introspection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hanpama/grpcdyn/internal/errs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	rpbalpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
)

// Client is the set of reflection primitives the registry consumes.
type Client interface {
	// ListServices returns service names in server order.
	ListServices(ctx context.Context) ([]string, error)
	// FileContainingSymbol returns the file defining symbol followed by its
	// transitive dependencies, as serialized FileDescriptorProtos.
	FileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error)
	// FileByFilename returns the named file and its dependencies.
	FileByFilename(ctx context.Context, name string) ([][]byte, error)
}

type grpcClient struct {
	cc grpc.ClientConnInterface
	// alpha is set once the server rejected v1.
	alpha atomic.Bool
}

// NewClient returns a reflection client over cc. Each primitive opens its own
// short-lived stream. The v1 service is tried first; a server answering
// Unimplemented is switched to v1alpha for the rest of the client's life.
func NewClient(cc grpc.ClientConnInterface) Client {
	return &grpcClient{cc: cc}
}

func (c *grpcClient) ListServices(ctx context.Context) ([]string, error) {
	resp, err := c.roundTrip(ctx, &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_ListServices{ListServices: "*"},
	}, "services", "*")
	if err != nil {
		return nil, err
	}
	list := resp.GetListServicesResponse()
	if list == nil {
		return nil, fmt.Errorf("introspection: unexpected reply to list services")
	}
	names := make([]string, 0, len(list.GetService()))
	for _, s := range list.GetService() {
		names = append(names, s.GetName())
	}
	return names, nil
}

func (c *grpcClient) FileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error) {
	return c.files(ctx, &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	}, "symbol", symbol)
}

func (c *grpcClient) FileByFilename(ctx context.Context, name string) ([][]byte, error) {
	return c.files(ctx, &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileByFilename{FileByFilename: name},
	}, "file", name)
}

func (c *grpcClient) files(ctx context.Context, req *rpb.ServerReflectionRequest, kind, name string) ([][]byte, error) {
	resp, err := c.roundTrip(ctx, req, kind, name)
	if err != nil {
		return nil, err
	}
	fdr := resp.GetFileDescriptorResponse()
	if fdr == nil {
		return nil, fmt.Errorf("introspection: unexpected reply for %s %q", kind, name)
	}
	return fdr.GetFileDescriptorProto(), nil
}

// roundTrip sends one request on a fresh stream and returns the single reply.
func (c *grpcClient) roundTrip(ctx context.Context, req *rpb.ServerReflectionRequest, kind, name string) (*rpb.ServerReflectionResponse, error) {
	var (
		resp *rpb.ServerReflectionResponse
		err  error
	)
	if !c.alpha.Load() {
		resp, err = c.v1(ctx, req)
		if status.Code(err) == codes.Unimplemented {
			c.alpha.Store(true)
		}
	}
	if c.alpha.Load() {
		resp, err = c.v1alpha(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("introspection: %w", errs.FromTransport(err))
	}
	if e := resp.GetErrorResponse(); e != nil {
		if codes.Code(e.GetErrorCode()) == codes.NotFound {
			return nil, &errs.NotFoundError{Kind: kind, Name: name}
		}
		return nil, &errs.TransportError{Code: codes.Code(e.GetErrorCode()), Message: e.GetErrorMessage()}
	}
	return resp, nil
}

func (c *grpcClient) v1(ctx context.Context, req *rpb.ServerReflectionRequest) (*rpb.ServerReflectionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := rpb.NewServerReflectionClient(c.cc).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(req); err != nil {
		_, rerr := stream.Recv()
		return nil, recvErr(rerr)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream.Recv()
}

func (c *grpcClient) v1alpha(ctx context.Context, req *rpb.ServerReflectionRequest) (*rpb.ServerReflectionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := rpbalpha.NewServerReflectionClient(c.cc).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(toAlpha(req)); err != nil {
		_, rerr := stream.Recv()
		return nil, recvErr(rerr)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	return fromAlpha(resp), nil
}

// recvErr surfaces the stream status after a failed Send, which itself only
// reports io.EOF.
func recvErr(err error) error {
	if err == nil {
		return errors.New("stream closed unexpectedly")
	}
	return err
}

func toAlpha(req *rpb.ServerReflectionRequest) *rpbalpha.ServerReflectionRequest {
	out := &rpbalpha.ServerReflectionRequest{Host: req.GetHost()}
	switch r := req.GetMessageRequest().(type) {
	case *rpb.ServerReflectionRequest_ListServices:
		out.MessageRequest = &rpbalpha.ServerReflectionRequest_ListServices{ListServices: r.ListServices}
	case *rpb.ServerReflectionRequest_FileContainingSymbol:
		out.MessageRequest = &rpbalpha.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: r.FileContainingSymbol}
	case *rpb.ServerReflectionRequest_FileByFilename:
		out.MessageRequest = &rpbalpha.ServerReflectionRequest_FileByFilename{FileByFilename: r.FileByFilename}
	}
	return out
}

func fromAlpha(resp *rpbalpha.ServerReflectionResponse) *rpb.ServerReflectionResponse {
	out := &rpb.ServerReflectionResponse{}
	switch r := resp.GetMessageResponse().(type) {
	case *rpbalpha.ServerReflectionResponse_ListServicesResponse:
		list := &rpb.ListServiceResponse{}
		for _, s := range r.ListServicesResponse.GetService() {
			list.Service = append(list.Service, &rpb.ServiceResponse{Name: s.GetName()})
		}
		out.MessageResponse = &rpb.ServerReflectionResponse_ListServicesResponse{ListServicesResponse: list}
	case *rpbalpha.ServerReflectionResponse_FileDescriptorResponse:
		out.MessageResponse = &rpb.ServerReflectionResponse_FileDescriptorResponse{
			FileDescriptorResponse: &rpb.FileDescriptorResponse{FileDescriptorProto: r.FileDescriptorResponse.GetFileDescriptorProto()},
		}
	case *rpbalpha.ServerReflectionResponse_ErrorResponse:
		out.MessageResponse = &rpb.ServerReflectionResponse_ErrorResponse{
			ErrorResponse: &rpb.ErrorResponse{
				ErrorCode:    r.ErrorResponse.GetErrorCode(),
				ErrorMessage: r.ErrorResponse.GetErrorMessage(),
			},
		}
	}
	return out
}

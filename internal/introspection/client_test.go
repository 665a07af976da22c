package introspection

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	rpbalpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func startServer(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, health.NewServer())
	register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func fileNames(t *testing.T, raw [][]byte) []string {
	t.Helper()
	var names []string
	for _, b := range raw {
		fdp := &descriptorpb.FileDescriptorProto{}
		require.NoError(t, proto.Unmarshal(b, fdp))
		names = append(names, fdp.GetName())
	}
	return names
}

func TestV1(t *testing.T) {
	cc := startServer(t, func(s *grpc.Server) { reflection.RegisterV1(s) })
	c := NewClient(cc)
	ctx := context.Background()

	svcs, err := c.ListServices(ctx)
	require.NoError(t, err)
	require.Contains(t, svcs, "grpc.health.v1.Health")

	raw, err := c.FileContainingSymbol(ctx, "grpc.health.v1.Health")
	require.NoError(t, err)
	require.Contains(t, fileNames(t, raw), "grpc/health/v1/health.proto")

	raw, err = c.FileByFilename(ctx, "grpc/health/v1/health.proto")
	require.NoError(t, err)
	require.Equal(t, "grpc/health/v1/health.proto", fileNames(t, raw)[0])
	require.False(t, c.(*grpcClient).alpha.Load())
}

func TestUnknownSymbolIsNotFound(t *testing.T) {
	cc := startServer(t, func(s *grpc.Server) { reflection.RegisterV1(s) })
	_, err := NewClient(cc).FileContainingSymbol(context.Background(), "nope.Missing")
	var nf *errs.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	require.Equal(t, "nope.Missing", nf.Name)
}

func TestFallsBackToV1Alpha(t *testing.T) {
	cc := startServer(t, func(s *grpc.Server) {
		rpbalpha.RegisterServerReflectionServer(s, reflection.NewServer(reflection.ServerOptions{Services: s}))
	})
	c := NewClient(cc)

	svcs, err := c.ListServices(context.Background())
	require.NoError(t, err)
	require.Contains(t, svcs, "grpc.health.v1.Health")
	require.True(t, c.(*grpcClient).alpha.Load())

	raw, err := c.FileContainingSymbol(context.Background(), "grpc.health.v1.Health")
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestNoReflectionService(t *testing.T) {
	cc := startServer(t, func(*grpc.Server) {})
	_, err := NewClient(cc).ListServices(context.Background())
	var te *errs.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
}

func TestAlphaConversion(t *testing.T) {
	req := &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileByFilename{FileByFilename: "a.proto"},
	}
	require.Equal(t, "a.proto", toAlpha(req).GetFileByFilename())

	resp := fromAlpha(&rpbalpha.ServerReflectionResponse{
		MessageResponse: &rpbalpha.ServerReflectionResponse_ErrorResponse{
			ErrorResponse: &rpbalpha.ErrorResponse{ErrorCode: 5, ErrorMessage: "missing"},
		},
	})
	require.Equal(t, int32(5), resp.GetErrorResponse().GetErrorCode())
}

package invoke

import "context"

// Transport carries already-encoded messages for one call shape each.
// method is the wire path "/package.Service/Method". Terminal failures are
// reported as *errs.TransportError; successful stream ends as io.EOF.
//
// Provided implementations:
// - internal/grpctp.Transport: gRPC client connection with a raw-bytes codec
// - MockTransport: scripted responses for tests
type Transport interface {
	Unary(ctx context.Context, method string, req []byte) ([]byte, error)
	ServerStream(ctx context.Context, method string, req []byte) (RecvStream, error)
	ClientStream(ctx context.Context, method string) (ClientStream, error)
	BidiStream(ctx context.Context, method string) (BidiStream, error)
}

type RecvStream interface {
	Recv() ([]byte, error)
}

type SendStream interface {
	Send(msg []byte) error
	// CloseSend half-closes the send direction.
	CloseSend() error
}

type ClientStream interface {
	SendStream
	// CloseAndRecv half-closes and waits for the single response.
	CloseAndRecv() ([]byte, error)
}

type BidiStream interface {
	SendStream
	RecvStream
}

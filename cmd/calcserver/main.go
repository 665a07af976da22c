package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanpama/grpcdyn/internal/calculator"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

func main() {
	addr := flag.String("addr", ":50051", "the address to listen on")
	delay := flag.Duration("delay", 500*time.Millisecond, "pause between streamed responses of Evaluate and FindPrimes")
	flag.Parse()

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(loggingUnaryServerInterceptor),
		grpc.StreamInterceptor(loggingStreamServerInterceptor),
	)
	if err := calculator.Register(s, calculator.WithDelay(*delay)); err != nil {
		log.Fatalf("failed to register calculator: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("shutting down")
		s.GracefulStop()
	}()

	log.Printf("gRPC server starting on %s", lis.Addr())
	if err := s.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}

// loggingUnaryServerInterceptor logs exactly one line per unary RPC with method, duration, and compact JSON for req/resp (or error).
func loggingUnaryServerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	reqJSON := toCompactJSON(req)

	resp, err := handler(ctx, req)
	dur := time.Since(start)

	if err != nil {
		st, _ := status.FromError(err)
		log.Printf("grpc method=%s code=%s duration=%s req=%s error=%q", info.FullMethod, st.Code(), dur, reqJSON, st.Message())
		return resp, err
	}

	log.Printf("grpc method=%s duration=%s req=%s resp=%s", info.FullMethod, dur, reqJSON, toCompactJSON(resp))
	return resp, nil
}

// loggingStreamServerInterceptor logs one line per streaming RPC once it ends.
func loggingStreamServerInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	st, _ := status.FromError(err)
	log.Printf("grpc method=%s code=%s duration=%s stream=true", info.FullMethod, st.Code(), time.Since(start))
	return err
}

// toCompactJSON marshals a protobuf message to a single-line JSON string; falls back to type name if not proto or on error.
func toCompactJSON(msg any) string {
	if m, ok := msg.(proto.Message); ok {
		b, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(m)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("\"%T\"", msg)
}

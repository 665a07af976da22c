package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hanpama/grpcdyn/internal/config"
	"github.com/hanpama/grpcdyn/internal/eventbus"
	"github.com/hanpama/grpcdyn/internal/events"
	"github.com/hanpama/grpcdyn/internal/grpctp"
	"github.com/hanpama/grpcdyn/internal/metrics"
	"github.com/hanpama/grpcdyn/internal/otel"
	"github.com/hanpama/grpcdyn/internal/output"
	"github.com/hanpama/grpcdyn/internal/repl"
	"github.com/hanpama/grpcdyn/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var errNoAddress = errors.New("no address: pass --addr or set address in the config file")

// app carries flag values and the state built from them in
// PersistentPreRunE.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfgFile      string
	addr         string
	output       string
	dialTimeout  time.Duration
	rpcTimeout   time.Duration
	verbose      bool
	otelEndpoint string
	metricsAddr  string
	headers      []string

	cfg       *config.Config
	formatter output.Formatter
	// dialOptions are appended to every dial; tests use them to reach
	// in-process servers.
	dialOptions []grpc.DialOption
	closers     []func(context.Context) error
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

// run executes the command line and releases telemetry afterwards.
func run(ctx context.Context, args []string, a *app) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grpcdyn",
		Short: "Call gRPC services without generated stubs",
		Long: `grpcdyn discovers services through gRPC server reflection and calls them
with JSON request values. Without a subcommand it starts an interactive shell.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runShell(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default is ~/.grpcdyn/config.yaml)")
	f.StringVar(&a.addr, "addr", "", "server address, e.g. localhost:50051")
	f.StringVarP(&a.output, "output", "o", "", `output format: json, yaml (default "json")`)
	f.DurationVar(&a.dialTimeout, "dial-timeout", 0, "how long to wait for the connection (default 5s)")
	f.DurationVar(&a.rpcTimeout, "rpc-timeout", 0, "deadline for each call, 0 for none")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "log connections and calls to stderr")
	f.StringVar(&a.otelEndpoint, "otel-endpoint", "", "OTLP collector endpoint for traces")
	f.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringArrayVarP(&a.headers, "header", "H", nil, "request metadata as key=value; repeatable")

	root.AddCommand(a.listCmd(), a.describeCmd(), a.callCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Address = a.addr
	}
	if flags.Changed("output") {
		cfg.Output = a.output
	}
	if flags.Changed("dial-timeout") {
		cfg.DialTimeout = a.dialTimeout
	}
	if flags.Changed("rpc-timeout") {
		cfg.RPCTimeout = a.rpcTimeout
	}
	if flags.Changed("otel-endpoint") {
		cfg.OTelEndpoint = a.otelEndpoint
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = a.metricsAddr
	}
	for _, h := range a.headers {
		k, v, ok := strings.Cut(h, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("invalid header %q, want key=value", h)
		}
		if cfg.Metadata == nil {
			cfg.Metadata = map[string]string{}
		}
		cfg.Metadata[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.formatter, err = output.NewFormatter(cfg.Output); err != nil {
		return err
	}
	return a.setupTelemetry()
}

func (a *app) setupTelemetry() error {
	eventbus.Use(eventbus.New())

	shutdown, err := otel.Setup(a.cfg.OTelEndpoint, "grpcdyn")
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.verbose {
		a.closers = append(a.closers, logEvents(log.New(a.stderr, "grpcdyn: ", log.LstdFlags)))
	}

	if a.cfg.MetricsAddr != "" {
		m := metrics.New()
		unsubscribe := m.Subscribe(nil)
		lis, err := net.Listen("tcp", a.cfg.MetricsAddr)
		if err != nil {
			unsubscribe()
			return fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() { _ = srv.Serve(lis) }()
		a.closers = append(a.closers, func(ctx context.Context) error {
			unsubscribe()
			return srv.Shutdown(ctx)
		})
	}
	return nil
}

// logEvents logs dials and finished invocations published on the global bus.
func logEvents(l *log.Logger) func(context.Context) error {
	offDial := eventbus.Subscribe(func(_ context.Context, e events.GRPCDial) {
		if e.Err != nil {
			l.Printf("dial %s failed after %s: %v", e.Target, e.Duration, e.Err)
			return
		}
		l.Printf("dial %s ready in %s", e.Target, e.Duration)
	})
	offFinish := eventbus.Subscribe(func(_ context.Context, e events.InvocationFinish) {
		l.Printf("invoke %s/%s shape=%q code=%s sent=%d received=%d duration=%s",
			e.Service, e.Method, e.Shape, e.Code, e.Sent, e.Received, e.Duration)
	})
	return func(context.Context) error {
		offDial()
		offFinish()
		return nil
	}
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) transportOptions() []grpctp.Option {
	return []grpctp.Option{
		grpctp.WithDialTimeout(a.cfg.DialTimeout),
		grpctp.WithRPCTimeout(a.cfg.RPCTimeout),
		grpctp.WithMetadata(a.cfg.Metadata),
		grpctp.WithDialOptions(a.dialOptions...),
	}
}

// connect opens a connection to the configured address.
func (a *app) connect(ctx context.Context) (*session.Connection, error) {
	if a.cfg.Address == "" {
		return nil, errNoAddress
	}
	return session.Connect(ctx, a.cfg.Address, a.transportOptions()...)
}

func (a *app) runShell(cmd *cobra.Command) error {
	sess := session.New(a.transportOptions()...)
	r := repl.New(sess, cmd.InOrStdin(), cmd.OutOrStdout(), repl.WithFormatter(a.formatter))
	if a.cfg.Address != "" {
		if _, err := sess.Connect(cmd.Context(), a.cfg.Address); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", a.cfg.Address)
	}
	return r.Run(cmd.Context())
}

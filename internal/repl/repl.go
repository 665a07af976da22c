// Package repl implements the interactive shell of the dynamic client.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/invoke"
	"github.com/hanpama/grpcdyn/internal/output"
	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/session"
	"github.com/hanpama/grpcdyn/internal/value"
)

const (
	Prompt = "[gRPC dyn client]>> "

	cancelLine = ":cancel:"
	clearLine  = ":cls:"
	clearSeq   = "\033[H\033[2J"
)

// Option configures a REPL.
type Option func(*REPL)

// WithFormatter sets how response and variable values are printed.
func WithFormatter(f output.Formatter) Option {
	return func(r *REPL) { r.format = f }
}

func WithStyles(s output.Styles) Option {
	return func(r *REPL) { r.styles = s }
}

// REPL reads commands line by line and runs them against a session.
type REPL struct {
	sess   *session.Session
	format output.Formatter
	styles output.Styles

	lines chan string

	mu  sync.Mutex
	out io.Writer

	// services is the most recent listing, used to resolve info by index.
	services []string
}

func New(sess *session.Session, in io.Reader, out io.Writer, opts ...Option) *REPL {
	r := &REPL{
		sess:   sess,
		format: &output.JSONFormatter{},
		styles: output.DefaultStyles(),
		lines:  make(chan string),
		out:    out,
	}
	for _, o := range opts {
		o(r)
	}
	go r.scan(in)
	return r
}

func (r *REPL) scan(in io.Reader) {
	defer close(r.lines)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		r.lines <- sc.Text()
	}
}

// readLine prints prompt and waits for the next input line. It returns
// io.EOF once the input is exhausted.
func (r *REPL) readLine(ctx context.Context, prompt string) (string, error) {
	r.write(r.styles.Prompt.Render(prompt))
	select {
	case l, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *REPL) write(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, s)
}

func (r *REPL) println(s string) { r.write(s + "\n") }

// block writes formatted output, ending it with a newline.
func (r *REPL) block(s string) {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	r.write(s)
}

func (r *REPL) info(s string) { r.println(r.styles.Info.Render(s)) }

func (r *REPL) errorf(format string, args ...any) {
	r.println(r.styles.Error.Render("error: " + fmt.Sprintf(format, args...)))
}

// lockedWriter serialises multi-line output with prompts and responses.
type lockedWriter struct{ r *REPL }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	return w.r.out.Write(p)
}

// Run processes commands until "exit", end of input or ctx is done. An open
// connection is closed on return.
func (r *REPL) Run(ctx context.Context) error {
	defer func() { _ = r.sess.Disconnect() }()
	for {
		line, err := r.readLine(ctx, Prompt)
		if errors.Is(err, io.EOF) {
			r.write("\n")
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit":
			return nil
		case clearLine:
			r.write(clearSeq)
			continue
		}
		if err := r.exec(ctx, line); err != nil {
			r.errorf("%v", err)
		}
	}
}

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func (r *REPL) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	switch cmd {
	case "conn":
		if len(args) != 1 {
			return usageError("conn <address>")
		}
		return r.connect(ctx, args[0])
	case "disc":
		if len(args) != 0 {
			return usageError("disc")
		}
		if err := r.sess.Disconnect(); err != nil {
			return err
		}
		r.services = nil
		r.info("disconnected")
		return nil
	case "list":
		return r.list(ctx)
	case "info":
		return r.describe(ctx, args)
	case "load":
		if len(args) != 2 {
			return usageError("load <file> <alias>")
		}
		return r.sess.Vars().Load(args[0], args[1])
	case "alias":
		name, expr, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(expr) == "" {
			return usageError("alias <alias> <json>")
		}
		v, err := r.sess.Vars().Resolve(expr)
		if err != nil {
			return err
		}
		return r.sess.Vars().Set(name, v)
	case "print":
		return r.print(args)
	case "invoke":
		if len(args) != 2 {
			return usageError("invoke <service> <method>")
		}
		return r.invoke(ctx, args[0], args[1])
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (r *REPL) connect(ctx context.Context, address string) error {
	if _, err := r.sess.Connect(ctx, address); err != nil {
		return err
	}
	r.services = nil
	r.info("connected to " + address)
	return nil
}

func (r *REPL) list(ctx context.Context) error {
	c, err := r.sess.Conn()
	if err != nil {
		return err
	}
	names, err := c.ListServices(ctx)
	if err != nil {
		return err
	}
	r.services = names
	output.ListServices(lockedWriter{r}, names)
	return nil
}

func (r *REPL) describe(ctx context.Context, args []string) error {
	var proto bool
	var target []string
	for _, a := range args {
		if a == "-proto" {
			proto = true
			continue
		}
		target = append(target, a)
	}
	if len(target) != 1 {
		return usageError("info <index|service> [-proto]")
	}
	c, err := r.sess.Conn()
	if err != nil {
		return err
	}
	name := target[0]
	if i, err := strconv.Atoi(name); err == nil {
		if r.services == nil {
			if r.services, err = c.ListServices(ctx); err != nil {
				return err
			}
		}
		if i < 0 || i >= len(r.services) {
			return fmt.Errorf("no service at index %d", i)
		}
		name = r.services[i]
	}
	svc, err := c.ResolveService(ctx, name)
	if err != nil {
		return err
	}
	w := lockedWriter{r}
	output.DescribeService(w, svc)
	if proto {
		return output.PrintProto(w, svc)
	}
	return nil
}

func (r *REPL) print(args []string) error {
	var v value.Value
	switch len(args) {
	case 0:
		v = r.sess.Vars().All()
	case 1:
		var err error
		if v, err = r.sess.Vars().Get(args[0]); err != nil {
			return err
		}
	default:
		return usageError("print [alias]")
	}
	s, err := r.format.Format(v)
	if err != nil {
		return err
	}
	r.block(s)
	return nil
}

func (r *REPL) invoke(ctx context.Context, service, method string) error {
	c, err := r.sess.Conn()
	if err != nil {
		return err
	}
	m, err := c.ResolveMethod(ctx, service, method)
	if err != nil {
		return err
	}
	r.println(r.styles.Dim.Render(fmt.Sprintf("%s\nclient streaming: %t; server streaming: %t;",
		m.Path(), m.ClientStreaming, m.ServerStreaming)))

	inv, err := c.Invoke(ctx, m, r.source(m))
	if err != nil {
		return err
	}

	printed := make(chan error, 1)
	go func() { printed <- r.printResponses(inv) }()
	err = <-printed
	<-inv.Done()
	if err != nil {
		if errors.Is(err, errs.ErrCancelled) {
			r.info("cancelled")
			return nil
		}
		return err
	}
	return nil
}

// source prompts for request lines. A single-request shape reads exactly
// one line. Streaming shapes read until an empty line; ":cancel:" aborts.
// Lines that fail to parse are reported and asked for again.
func (r *REPL) source(m *schema.Method) invoke.Source {
	prompt := fmt.Sprintf("[%s request]>> ", m.Shape())
	return invoke.SourceFunc(func(ctx context.Context) (value.Value, error) {
		for {
			line, err := r.readLine(ctx, prompt)
			if err != nil {
				return value.Value{}, err
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				if m.ClientStreaming {
					return value.Value{}, io.EOF
				}
				continue
			case cancelLine:
				return value.Value{}, errs.ErrCancelled
			}
			v, err := r.sess.Vars().Resolve(line)
			if err != nil {
				r.errorf("%v", err)
				continue
			}
			return v, nil
		}
	})
}

func (r *REPL) printResponses(inv *invoke.Invocation) error {
	for {
		v, err := inv.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s, err := r.format.Format(v)
		if err != nil {
			inv.Cancel()
			return err
		}
		r.block(s)
	}
}

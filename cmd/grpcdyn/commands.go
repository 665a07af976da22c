package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hanpama/grpcdyn/internal/invoke"
	"github.com/hanpama/grpcdyn/internal/output"
	"github.com/hanpama/grpcdyn/internal/schema"
	"github.com/hanpama/grpcdyn/internal/value"
	"github.com/hanpama/grpcdyn/internal/vars"
	"github.com/spf13/cobra"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the services the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			names, err := c.ListServices(cmd.Context())
			if err != nil {
				return err
			}
			output.ListServices(cmd.OutOrStdout(), names)
			return nil
		},
	}
}

func (a *app) describeCmd() *cobra.Command {
	var proto bool
	cmd := &cobra.Command{
		Use:   "describe <service>",
		Short: "Show the methods of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			svc, err := c.ResolveService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			output.DescribeService(cmd.OutOrStdout(), svc)
			if proto {
				return output.PrintProto(cmd.OutOrStdout(), svc)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&proto, "proto", false, "also print the service's proto source")
	return cmd
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <service> <method> [request...]",
		Short: "Invoke a method and print its responses",
		Long: `Invoke a method with one request per argument. A request is a JSON literal
or @path to a JSON file. For client-streaming methods a JSON array supplies a
sequence of requests. Without request arguments, requests are read from
standard input, one JSON value per line.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			m, err := c.ResolveMethod(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			var reqs []value.Value
			if len(args) > 2 {
				reqs, err = requests(m, args[2:])
			} else {
				reqs, err = readRequests(m, cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			inv, err := c.Invoke(cmd.Context(), m, invoke.Values(reqs...))
			if err != nil {
				return err
			}
			return a.printAll(cmd.OutOrStdout(), inv)
		},
	}
}

// requests resolves request arguments.
func requests(m *schema.Method, args []string) ([]value.Value, error) {
	store := vars.New()
	var out []value.Value
	for _, arg := range args {
		v, err := store.Resolve(arg)
		if err != nil {
			return nil, err
		}
		out = appendRequest(out, m, v)
	}
	return out, nil
}

func readRequests(m *schema.Method, r io.Reader) ([]value.Value, error) {
	var out []value.Value
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := value.ParseJSON([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("stdin line %d: %w", n, err)
		}
		out = appendRequest(out, m, v)
	}
	return out, sc.Err()
}

// appendRequest expands an array into a request sequence for
// client-streaming methods.
func appendRequest(out []value.Value, m *schema.Method, v value.Value) []value.Value {
	if m.ClientStreaming && v.Kind() == value.ArrayKind {
		return append(out, v.Array()...)
	}
	return append(out, v)
}

func (a *app) printAll(w io.Writer, inv *invoke.Invocation) error {
	for {
		v, err := inv.Recv()
		if errors.Is(err, io.EOF) {
			return inv.Wait()
		}
		if err != nil {
			return err
		}
		s, err := a.formatter.Format(v)
		if err != nil {
			inv.Cancel()
			return err
		}
		if _, err := io.WriteString(w, s); err != nil {
			inv.Cancel()
			return err
		}
	}
}

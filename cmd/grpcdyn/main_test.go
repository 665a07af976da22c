package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hanpama/grpcdyn/internal/calculator"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	lis *bufconn.Listener
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	require.NoError(t, calculator.Register(s, calculator.WithLogger(log.New(io.Discard, "", 0))))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return &harness{lis: lis, dir: t.TempDir()}
}

// exec runs grpcdyn with args against the in-process calculator. A config
// path inside the temp dir keeps the user's own config out of the way.
func (h *harness) exec(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	a.dialOptions = []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return h.lis.DialContext(ctx)
	})}
	full := append([]string{"--config", filepath.Join(h.dir, "config.yaml")}, args...)
	err := run(context.Background(), full, a)
	return out.String(), errOut.String(), err
}

const addr = "--addr=passthrough:///bufnet"

func TestList(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.exec(t, "", addr, "list")
	require.NoError(t, err)
	require.Contains(t, out, "[0] calculator.IntCalculator\n[1] calculator.VectorCalculator\n")
}

func TestNoAddress(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "", "list")
	require.ErrorIs(t, err, errNoAddress)
}

func TestDescribe(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.exec(t, "", addr, "describe", calculator.VectorCalculator, "--proto")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "calculator.VectorCalculator\nMethod: AccumulateVec(AccumulateVecArg) returns Float\n"), out)
	require.Contains(t, out, "service VectorCalculator")

	_, _, err = h.exec(t, "", addr, "describe", "calculator.Nope")
	require.Error(t, err)
}

func TestCallUnary(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.exec(t, "", addr, "call", calculator.IntCalculator, "ApplyBinOp",
		`{"op": "MULI", "arg1": {"value": 6}, "arg2": {"value": 7}}`)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"value\": 42\n}\n", out)
}

func TestCallYAML(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.exec(t, "", addr, "-o", "yaml", "call", calculator.IntCalculator, "FindPrimes",
		`{"lb": {"value": 2}, "ub": {"value": 8}}`)
	require.NoError(t, err)
	require.Equal(t, "value: 2\nvalue: 3\nvalue: 5\nvalue: 7\n", out)
}

func TestCallClientStreamFromFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "nums.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"value": 1}, {"value": 2}, {"value": 39}]`), 0o644))
	out, _, err := h.exec(t, "", addr, "call", calculator.IntCalculator, "Sum", "@"+path)
	require.NoError(t, err)
	require.Contains(t, out, `"value": 42`)
}

func TestCallFromStdin(t *testing.T) {
	h := newHarness(t)
	stdin := `{"op": "ADDI", "arg": {"value": 2}}` + "\n\n" + `{"op": "MULI", "arg": {"value": 21}}` + "\n"
	out, _, err := h.exec(t, stdin, addr, "call", calculator.IntCalculator, "Evaluate")
	require.NoError(t, err)
	require.Contains(t, out, `"value": 2`)
	require.Contains(t, out, `"value": 42`)
}

func TestCallServerError(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "", addr, "call", calculator.IntCalculator, "ApplyBinOp", `{"op": "DIVI"}`)
	require.ErrorContains(t, err, "Can't divide by zero")
}

func TestVerboseLogsDialAndCall(t *testing.T) {
	h := newHarness(t)
	_, errOut, err := h.exec(t, "", addr, "-v", "call", calculator.IntCalculator, "ApplyBinOp", `{}`)
	require.NoError(t, err)
	require.Contains(t, errOut, "dial passthrough:///bufnet ready in")
	require.Contains(t, errOut, "invoke calculator.IntCalculator/ApplyBinOp")
	require.Contains(t, errOut, "code=OK sent=1 received=1")
}

func TestConfigFileAndFlagValidation(t *testing.T) {
	h := newHarness(t)
	cfg := filepath.Join(h.dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("address: passthrough:///bufnet\noutput: yaml\n"), 0o644))
	out, _, err := h.exec(t, "", "list")
	require.NoError(t, err)
	require.Contains(t, out, "calculator.IntCalculator")

	_, _, err = h.exec(t, "", "-o", "xml", "list")
	require.ErrorContains(t, err, "xml")

	_, _, err = h.exec(t, "", "-H", "novalue", "list")
	require.ErrorContains(t, err, "invalid header")
}

func TestShell(t *testing.T) {
	h := newHarness(t)
	stdin := strings.Join([]string{
		"list",
		"invoke calculator.IntCalculator ApplyBinOp",
		`{"op": "SUBI", "arg1": {"value": 50}, "arg2": {"value": 8}}`,
		"exit",
	}, "\n") + "\n"
	out, _, err := h.exec(t, stdin, addr)
	require.NoError(t, err)
	require.Contains(t, out, "connected to passthrough:///bufnet")
	require.Contains(t, out, "[1] calculator.VectorCalculator")
	require.Contains(t, out, `"value": 42`)
}

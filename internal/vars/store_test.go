package vars

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/value"
	"github.com/stretchr/testify/require"
)

func TestSetGetNames(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("b", value.Int(2)))
	require.NoError(t, s.Set("a", value.String("x")))
	require.NoError(t, s.Set("b", value.Int(3)))

	v, err := s.Get("b")
	require.NoError(t, err)
	require.True(t, v.Equal(value.Int(3)))
	require.Equal(t, []string{"a", "b"}, s.Names())

	all := s.All()
	require.Equal(t, []string{"a", "b"}, all.Map().Keys())
}

func TestGetMissing(t *testing.T) {
	_, err := New().Get("nope")
	var nf *errs.NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, "variable", nf.Kind)
	require.Equal(t, "nope", nf.Name)
}

func TestInvalidName(t *testing.T) {
	s := New()
	require.Error(t, s.Set("", value.Null()))
	require.Error(t, s.Set("$x", value.Null()))
	require.Error(t, s.Set("a b", value.Null()))
}

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"vec1": {"coeffs": [1, 2, 3]}}`), 0o600))

	s := New()
	require.NoError(t, s.Load(path, "dot"))

	want := value.MapOf(value.KV("vec1", value.MapOf(
		value.KV("coeffs", value.Array(value.Int(1), value.Int(2), value.Int(3))),
	)))

	byName, err := s.Resolve(" $dot ")
	require.NoError(t, err)
	require.True(t, byName.Equal(want), "got %v", byName)

	byFile, err := s.Resolve("@" + path)
	require.NoError(t, err)
	require.True(t, byFile.Equal(want))

	lit, err := s.Resolve(`{"a": 1}`)
	require.NoError(t, err)
	require.True(t, lit.Equal(value.MapOf(value.KV("a", value.Int(1)))))

	_, err = s.Resolve(`{"a": `)
	require.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	s := New()
	require.Error(t, s.Load(filepath.Join(dir, "missing.json"), "x"))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`not json`), 0o600))
	require.Error(t, s.Load(bad, "x"))
	require.Empty(t, s.Names())
}

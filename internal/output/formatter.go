// Package output renders values and schema descriptions for the terminal.
package output

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hanpama/grpcdyn/internal/value"
	"gopkg.in/yaml.v3"
)

// Formatter renders a value as text ending in a newline.
type Formatter interface {
	Format(v value.Value) (string, error)
}

// NewFormatter returns a Formatter for the given format string.
// Supported formats: "json" (default when empty) and "yaml".
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &JSONFormatter{}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// JSONFormatter formats values as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(v value.Value) (string, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}

// YAMLFormatter formats values as YAML, keeping map key order.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(v value.Value) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlNode(v)); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func yamlNode(v value.Value) *yaml.Node {
	scalar := func(tag, s string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: s}
	}
	switch v.Kind() {
	case value.BoolKind:
		return scalar("!!bool", strconv.FormatBool(v.Bool()))
	case value.IntKind:
		return scalar("!!int", strconv.FormatInt(v.Int(), 10))
	case value.FloatKind:
		return scalar("!!float", yamlFloat(v.Float()))
	case value.StringKind:
		return scalar("!!str", v.Str())
	case value.BytesKind:
		return scalar("!!binary", base64.StdEncoding.EncodeToString(v.Bytes()))
	case value.ArrayKind:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range v.Array() {
			n.Content = append(n.Content, yamlNode(e))
		}
		return n
	case value.MapKind:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		v.Map().Range(func(k string, e value.Value) bool {
			n.Content = append(n.Content, scalar("!!str", k), yamlNode(e))
			return true
		})
		return n
	}
	return scalar("!!null", "null")
}

func yamlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Package vars holds named request values for the interactive client.
// Values live for the lifetime of the process only.
package vars

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/hanpama/grpcdyn/internal/errs"
	"github.com/hanpama/grpcdyn/internal/value"
)

// Store maps variable names to values. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	vars map[string]value.Value
}

func New() *Store {
	return &Store{vars: make(map[string]value.Value)}
}

// Set binds name to v, replacing any previous binding.
func (s *Store) Set(name string, v value.Value) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.vars[name] = v
	s.mu.Unlock()
	return nil
}

// Get returns the value bound to name or an *errs.NotFoundError.
func (s *Store) Get(name string) (value.Value, error) {
	s.mu.RLock()
	v, ok := s.vars[name]
	s.mu.RUnlock()
	if !ok {
		return value.Value{}, &errs.NotFoundError{Kind: "variable", Name: name}
	}
	return v, nil
}

// Names returns the bound names in lexical order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every binding as one map value keyed by name.
func (s *Store) All() value.Value {
	m := value.NewMap()
	for _, n := range s.Names() {
		v, _ := s.Get(n)
		m.Set(n, v)
	}
	return value.FromMap(m)
}

// Load reads the JSON document at path and binds it to name.
func (s *Store) Load(path, name string) error {
	v, err := ReadFile(path)
	if err != nil {
		return err
	}
	return s.Set(name, v)
}

// Resolve turns one request expression into a value:
//
//	$name   the value bound to name
//	@path   the JSON document stored at path
//	other   a JSON literal
func (s *Store) Resolve(expr string) (value.Value, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "$"):
		return s.Get(expr[1:])
	case strings.HasPrefix(expr, "@"):
		return ReadFile(expr[1:])
	}
	return value.ParseJSON([]byte(expr))
}

// ReadFile parses the JSON document at path.
func ReadFile(path string) (value.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Value{}, fmt.Errorf("vars: %w", err)
	}
	v, err := value.ParseJSON(data)
	if err != nil {
		return value.Value{}, fmt.Errorf("vars: %s: %w", path, err)
	}
	return v, nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\n$@") {
		return fmt.Errorf("vars: invalid variable name %q", name)
	}
	return nil
}

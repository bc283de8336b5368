package dialect

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

var ErrUnknown = errors.New("unknown job scheduler")

// PatternError reports a dialect pattern that does not compile.
type PatternError struct {
	Dialect string
	Field   string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("dialect %s: %s: %v", e.Dialect, e.Field, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Set is a collection of resolved dialects keyed by name.
type Set struct {
	byName map[string]*Dialect
}

// Builtin returns the dialects shipped with the binary.
func Builtin() (*Set, error) {
	s := &Set{byName: map[string]*Dialect{}}
	if err := s.merge(builtinYAML); err != nil {
		return nil, fmt.Errorf("builtin dialects: %w", err)
	}
	return s, nil
}

// LoadFile returns the builtin dialects overlaid with the ones in path.
// An empty path yields the builtins.
func LoadFile(path string) (*Set, error) {
	s, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dialects: %w", err)
	}
	if err := s.merge(b); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) merge(b []byte) error {
	var specs map[string]Spec
	if err := yaml.Unmarshal(b, &specs); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	for name, spec := range specs {
		d, err := Resolve(name, spec)
		if err != nil {
			return err
		}
		s.byName[name] = d
	}
	return nil
}

// Get looks a dialect up by name.
func (s *Set) Get(name string) (*Dialect, error) {
	d, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return d, nil
}

// Names returns the sorted dialect names.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Package config loads and saves a cubescript.toml file describing a
// State's persisted variables (spec.md §6.4): the host chooses how to
// persist variables, and this package is one concrete choice, grounded on
// the same "Load(dir) reads a fixed filename into a typed struct" shape a
// project manifest loader uses for its own TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/cubescript/cubescript"
)

// fileName is the config file this package reads/writes within a directory,
// analogous to a project manifest's fixed "maggie.toml" name.
const fileName = "cubescript.toml"

// Config is the on-disk shape of cubescript.toml: one table per persisted
// variable, keyed by its CubeScript identifier name.
type Config struct {
	Vars map[string]Var `toml:"vars"`

	// Dir is the directory containing the file (set at load time, not
	// serialized).
	Dir string `toml:"-"`
}

// Var is one persisted variable's on-disk representation. Exactly one of
// Int/Float/Str should be set; which one is meaningful is determined by the
// identifier's registered kind in the State, not by this struct.
type Var struct {
	Int   *int     `toml:"int,omitempty"`
	Float *float64 `toml:"float,omitempty"`
	Str   *string  `toml:"str,omitempty"`
}

// Load parses dir's cubescript.toml. Returns an empty, non-nil Config if the
// file does not exist yet, so a fresh embedding can call Apply unconditionally
// without special-casing first run.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		abs, aerr := filepath.Abs(dir)
		if aerr != nil {
			return nil, aerr
		}
		return &Config{Vars: map[string]Var{}, Dir: abs}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if c.Vars == nil {
		c.Vars = map[string]Var{}
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &c, nil
}

// Apply writes every entry of c into the matching variable on s, using
// Thread's override-aware SetVar (force off) so a config write behaves like
// a script assignment (spec.md §4.8): out-of-range values are clamped and
// logged. The first SetVar error (an unknown or read-only variable, or a
// PERSIST variable written while t is in override mode) stops Apply and is
// returned; entries not yet applied are skipped.
func (c *Config) Apply(t *cubescript.Thread) error {
	for name, v := range c.Vars {
		var value cubescript.Value
		switch {
		case v.Int != nil:
			value = cubescript.Int(*v.Int)
		case v.Float != nil:
			value = cubescript.Float(*v.Float)
		case v.Str != nil:
			value = cubescript.Str(*v.Str)
		default:
			continue
		}
		if err := t.SetVar(name, value, false); err != nil {
			return fmt.Errorf("config: applying %q: %w", name, err)
		}
	}
	return nil
}

// Path returns the config file's path within c.Dir.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, fileName)
}

// Save writes c back to its file, creating it if absent. Callers typically
// build the Config to save via Collect rather than mutating Vars by hand.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling %s: %w", c.Path(), err)
	}
	if err := os.WriteFile(c.Path(), data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", c.Path(), err)
	}
	return nil
}

// Collect builds a Config from the current value of every variable in s
// flagged FlagPersist, ready to Save. Grounded on spec.md §6.4: "the host
// chooses how to persist variables; PERSIST marks variables the host is
// expected to write to a config."
func Collect(s *cubescript.State, dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	c := &Config{Vars: map[string]Var{}, Dir: abs}
	s.WalkPersistedVars(func(name string, v cubescript.Value) {
		switch v.Tag() {
		case cubescript.TagInt:
			n := v.ForceInt()
			c.Vars[name] = Var{Int: &n}
		case cubescript.TagFloat:
			f := v.ForceFloat()
			c.Vars[name] = Var{Float: &f}
		default:
			str := v.ForceStr()
			c.Vars[name] = Var{Str: &str}
		}
	})
	return c, nil
}

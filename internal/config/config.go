// Package config holds the knobs that control one IR build: which
// optimizations run, whether guards are constrained and how much the tools
// log. Options load from YAML and are overridden by command-line flags.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPreOptimizeBound caps how many times pre-optimization may rewrite a
// single instruction before it is linked as is.
const DefaultPreOptimizeBound = 8

// Options controls a build.
type Options struct {
	// Simplify enables the algebraic simplifier after pre-optimization.
	Simplify bool `yaml:"simplify"`
	// ConstrainGuards enables guard constraint tracking. Without it no
	// guard is ever relaxed.
	ConstrainGuards bool `yaml:"constrain_guards"`
	// PreOptimizeBound caps rewrites of one instruction by pre-optimization.
	PreOptimizeBound int `yaml:"preoptimize_bound"`
	// Reoptimize runs a second pass using the first pass's constraints.
	Reoptimize bool `yaml:"reoptimize"`
	// Verbosity is the log verbosity; 0 logs warnings and errors only.
	Verbosity int `yaml:"verbosity"`
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		Simplify:         true,
		ConstrainGuards:  true,
		PreOptimizeBound: DefaultPreOptimizeBound,
		Reoptimize:       false,
		Verbosity:        0,
	}
}

// Parse reads options from YAML. Keys that are absent keep their defaults.
func Parse(data []byte) (Options, error) {
	opts := Default()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrap(err, "parse options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Load reads options from a YAML file.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "read options from %s", path)
	}
	opts, err := Parse(data)
	if err != nil {
		return Options{}, errors.Wrapf(err, "load %s", path)
	}
	return opts, nil
}

// Validate rejects settings no build can run with.
func (o Options) Validate() error {
	if o.PreOptimizeBound < 1 {
		return errors.Errorf("preoptimize_bound must be at least 1, got %d", o.PreOptimizeBound)
	}
	if o.Verbosity < 0 {
		return errors.Errorf("verbosity must not be negative, got %d", o.Verbosity)
	}
	return nil
}

// Marshal renders the options as YAML.
func (o Options) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(o)
	if err != nil {
		return nil, errors.Wrap(err, "marshal options")
	}
	return data, nil
}

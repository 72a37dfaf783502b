package jit

import (
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"
)

// Config controls a Provider. It is read from YAML or JSON.
type Config struct {
	// Enabled turns compilation on; when false every expression stays
	// with the interpreter.
	Enabled bool `json:"enabled"`
	// Arch selects the stencil table. Empty means the host architecture.
	Arch string `json:"arch,omitempty"`
	// StencilDB is a stencil store to load the table from instead of
	// building it.
	StencilDB string `json:"stencilDB,omitempty"`
	// WrapEntry binds expressions through a counting wrapper.
	WrapEntry bool `json:"wrapEntry"`
	// LogCompiles logs every compilation with its duration and size.
	LogCompiles bool `json:"logCompiles"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Arch:        runtime.GOARCH,
		LogCompiles: true,
	}
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read jit config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse jit config %s", path)
	}
	if cfg.Arch == "" {
		cfg.Arch = runtime.GOARCH
	}
	return cfg, nil
}

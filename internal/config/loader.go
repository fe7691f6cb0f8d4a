package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/lucasnoah/issuemill/internal/gate"
)

// Load reads and parses a mill configuration from the given TOML file path.
// After parsing, defaults are applied to fields the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./mill.toml, ~/.issuemill/config.toml
func LoadDefault() (*Config, error) {
	candidates := []string{"mill.toml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".issuemill", "config.toml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no mill config found (searched: %v)", candidates)
}

// applyDefaults fills in defaults for unset fields and derives gate names
// from their command when no name is given.
func applyDefaults(cfg *Config) {
	if cfg.Tracker.Command == "" {
		cfg.Tracker.Command = "issues"
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop.MaxIterations = DefaultMaxIterations
	}
	if cfg.Loop.MaxRetries == 0 {
		cfg.Loop.MaxRetries = DefaultMaxRetries
	}
	if cfg.Loop.OutputLimit == 0 {
		cfg.Loop.OutputLimit = DefaultOutputLimit
	}

	for i := range cfg.Gates {
		if cfg.Gates[i].Name == "" {
			cfg.Gates[i].Name = deriveGateName(cfg.Gates[i].Command)
		}
	}
}

// deriveGateName returns the command's first argv token. The same tokenizer
// that runs the gate is used, so a quoted binary path derives a clean name.
func deriveGateName(command string) string {
	if argv, err := gate.Tokenize(command); err == nil {
		return argv[0]
	}
	return firstToken(command)
}

// firstToken returns the first whitespace-delimited token of a command string.
func firstToken(s string) string {
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				return s[start:i]
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return s
}

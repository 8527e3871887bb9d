package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings are the workspace-level behavior toggles read by the engine.
type Settings struct {
	// AcceptanceRequiredForApproval controls whether a new approval starts
	// unaccepted and must be accepted by the level above. When false, facts
	// are stored pre-accepted.
	AcceptanceRequiredForApproval bool `yaml:"acceptance_required_for_approval"`

	// HideUnapprovedData hides data above the caller's approval rung from
	// users lacking the view-unapproved grant.
	HideUnapprovedData bool `yaml:"hide_unapproved_data"`
}

// Server configures `sf serve`.
type Server struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Config struct {
	Settings Settings `yaml:"settings"`
	Server   Server   `yaml:"server"`
}

func Default() Config {
	return Config{
		Settings: Settings{
			AcceptanceRequiredForApproval: false,
			HideUnapprovedData:            true,
		},
		Server: Server{Addr: "127.0.0.1:8345"},
	}
}

// Load reads the workspace config file, falling back to defaults when the
// file does not exist yet.
func Load(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config file, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, body, 0o644)
}

// Package storeconfig loads configuration shared by the cmd/landfill-cli
// and cmd/landfill-bench tools: defaults, overlaid by an optional JWCC
// config file, overlaid by CLI flags.
package storeconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds options shared by the two cmd/ tools.
type Config struct {
	StoreDir string `json:"store_dir"` //nolint:tagliatelle // snake_case for config file
}

// ConfigFileName is the default config file name, searched for in the
// landfill directory of the XDG config location (see SearchPath).
const ConfigFileName = "config.jsonc"

// Default returns the baked-in defaults, applied before any config file
// or flag.
func Default() Config {
	return Config{StoreDir: "./landfill-data"}
}

// Errors returned while loading or validating configuration.
var (
	ErrFileNotFound  = errors.New("storeconfig: config file not found")
	ErrInvalidJSON   = errors.New("storeconfig: invalid config file")
	ErrEmptyStoreDir = errors.New("storeconfig: store_dir must not be empty")
)

// SearchPath returns the config file path to use: explicitPath if
// non-empty, else $XDG_CONFIG_HOME/landfill/config.jsonc, else
// ~/.config/landfill/config.jsonc. It returns "" if no candidate can be
// determined and explicitPath is empty.
func SearchPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "landfill", ConfigFileName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "landfill", ConfigFileName)
}

// Load applies, in increasing precedence: Default(), the JWCC config file
// at path (if it exists; required to exist only when explicitlyRequested
// is true), then cliStoreDir (if non-empty).
func Load(path string, explicitlyRequested bool, cliStoreDir string) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, loaded, err := loadFile(path, explicitlyRequested)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fileCfg)
		}
	}

	if cliStoreDir != "" {
		cfg.StoreDir = cliStoreDir
	}

	if cfg.StoreDir == "" {
		return Config{}, ErrEmptyStoreDir
	}

	return cfg, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-controlled by design
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("storeconfig: read %q: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrInvalidJSON, path, err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrInvalidJSON, path, err)
	}

	return cfg, true, nil
}

func merge(base, overlay Config) Config {
	if overlay.StoreDir != "" {
		base.StoreDir = overlay.StoreDir
	}

	return base
}

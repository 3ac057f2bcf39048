package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths locates the config file and the data directory.
type Paths struct {
	ConfigFile string
	BaseDir    string
}

// LogDir is where operation logs go unless the config says otherwise.
func (p Paths) LogDir() string { return filepath.Join(p.BaseDir, "log") }

// DefaultPaths resolves Paths from the environment. In order of precedence:
//
//	config file: $TRAVELLOG_CONFIG_PATH, $XDG_CONFIG_HOME/travellog.toml, ~/.config/travellog.toml
//	base dir:    $TRAVELLOG_HOME, $XDG_DATA_HOME/travellog, ~/.local/share/travellog
func DefaultPaths() (Paths, error) {
	var home string
	homeDir := func() (string, error) {
		if home != "" {
			return home, nil
		}
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = h
		return home, nil
	}

	var p Paths
	switch {
	case os.Getenv("TRAVELLOG_CONFIG_PATH") != "":
		p.ConfigFile = os.Getenv("TRAVELLOG_CONFIG_PATH")
	case os.Getenv("XDG_CONFIG_HOME") != "":
		p.ConfigFile = filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "travellog.toml")
	default:
		h, err := homeDir()
		if err != nil {
			return Paths{}, err
		}
		p.ConfigFile = filepath.Join(h, ".config", "travellog.toml")
	}

	switch {
	case os.Getenv("TRAVELLOG_HOME") != "":
		p.BaseDir = os.Getenv("TRAVELLOG_HOME")
	case os.Getenv("XDG_DATA_HOME") != "":
		p.BaseDir = filepath.Join(os.Getenv("XDG_DATA_HOME"), "travellog")
	default:
		h, err := homeDir()
		if err != nil {
			return Paths{}, err
		}
		p.BaseDir = filepath.Join(h, ".local", "share", "travellog")
	}

	return p, nil
}

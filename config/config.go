// ABOUTME: Server configuration for portviz: defaults, optional YAML file, and PORTVIZ_* environment overrides.
// ABOUTME: Enforces the loopback-only bind unless remote access is explicitly allowed.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile  = "PORTVIZ_CONFIG"
	EnvStorageDir  = "PORTVIZ_STORAGE_DIR"
	EnvPort        = "PORTVIZ_PORT"
	EnvBindHost    = "PORTVIZ_BIND_HOST"
	EnvStaticDir   = "PORTVIZ_STATIC_DIR"
	EnvIndexFile   = "PORTVIZ_INDEX_FILE"
	EnvIndexDB     = "PORTVIZ_INDEX_DB"
	EnvAllowRemote = "PORTVIZ_ALLOW_REMOTE"
	EnvNoIndex     = "PORTVIZ_NO_INDEX"

	DefaultStorageDir = "models"
	DefaultPort       = 8002
	DefaultBindHost   = "127.0.0.1"
	DefaultStaticDir  = "."
	DefaultIndexFile  = "index.html"

	// DefaultIndexDBName is created inside StorageDir when IndexDB is unset.
	// The leading dot keeps it out of model scans and static serving.
	DefaultIndexDBName = ".portviz-index.db"

	// xdgConfigPath is resolved against the XDG config directories.
	xdgConfigPath = "portviz/config.yaml"

	MinPortNumber = 1
	MaxPortNumber = 65535
)

// ErrNonLoopbackBind is returned by Validate when BindHost is not a loopback
// address and AllowRemote is false.
var ErrNonLoopbackBind = errors.New(
	"bind host is not a loopback address; set allowRemote (PORTVIZ_ALLOW_REMOTE=true) to listen on it",
)

// Config holds everything the server needs at construction time.
type Config struct {
	StorageDir  string `yaml:"storageDir"`  // directory holding <slug>_layout.json files
	Port        int    `yaml:"port"`        // TCP port to listen on
	BindHost    string `yaml:"bindHost"`    // address to bind, loopback by default
	StaticDir   string `yaml:"staticDir"`   // root for static front-end assets
	IndexFile   string `yaml:"indexFile"`   // entry page served for "/"
	IndexDB     string `yaml:"indexDB"`     // SQLite listing index path; empty means StorageDir/DefaultIndexDBName
	NoIndex     bool   `yaml:"noIndex"`     // list models by scanning the directory instead
	AllowRemote bool   `yaml:"allowRemote"` // permit non-loopback BindHost
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StorageDir: DefaultStorageDir,
		Port:       DefaultPort,
		BindHost:   DefaultBindHost,
		StaticDir:  DefaultStaticDir,
		IndexFile:  DefaultIndexFile,
	}
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.Port))
}

// IndexPath returns the SQLite index location, or "" when the index is disabled.
func (c Config) IndexPath() string {
	if c.NoIndex {
		return ""
	}
	if c.IndexDB != "" {
		return c.IndexDB
	}
	return filepath.Join(c.StorageDir, DefaultIndexDBName)
}

// DefaultFile returns the config file found in the XDG config directories,
// or "" if none exists.
func DefaultFile() string {
	path, err := xdg.SearchConfigFile(xdgConfigPath)
	if err != nil {
		return ""
	}
	return path
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays PORTVIZ_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v := envValue(EnvStorageDir); v != "" {
		c.StorageDir = v
	}
	if v := envValue(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Port = port
	}
	if v := envValue(EnvBindHost); v != "" {
		c.BindHost = v
	}
	if v := envValue(EnvStaticDir); v != "" {
		c.StaticDir = v
	}
	if v := envValue(EnvIndexFile); v != "" {
		c.IndexFile = v
	}
	if v := envValue(EnvIndexDB); v != "" {
		c.IndexDB = v
	}
	if v := envValue(EnvNoIndex); v != "" {
		noIndex, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvNoIndex, v, err)
		}
		c.NoIndex = noIndex
	}
	if v := envValue(EnvAllowRemote); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvAllowRemote, v, err)
		}
		c.AllowRemote = allow
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (or the XDG
// default when path is empty), and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = envValue(EnvConfigFile)
	}
	if path == "" {
		path = DefaultFile()
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StorageDir) == "" {
		return fmt.Errorf("invalid storageDir: must not be empty")
	}
	if strings.TrimSpace(c.StaticDir) == "" {
		return fmt.Errorf("invalid staticDir: must not be empty")
	}
	if strings.TrimSpace(c.IndexFile) == "" {
		return fmt.Errorf("invalid indexFile: must not be empty")
	}
	if c.Port < MinPortNumber || c.Port > MaxPortNumber {
		return fmt.Errorf("invalid port %d: must be in range %d..%d", c.Port, MinPortNumber, MaxPortNumber)
	}
	if c.BindHost == "" {
		return fmt.Errorf("invalid bindHost: must not be empty")
	}

	// Only 127.0.0.0/8, ::1 and "localhost" count as loopback.
	if !c.AllowRemote {
		ip := net.ParseIP(c.BindHost)
		switch {
		case ip != nil && ip.IsLoopback():
		case ip == nil && c.BindHost == "localhost":
		default:
			return fmt.Errorf("%w: %s", ErrNonLoopbackBind, c.BindHost)
		}
	}
	return nil
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

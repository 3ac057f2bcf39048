package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for travellog.
type Config struct {
	// Owner is the active owner key. Empty means logged out.
	Owner       string            `toml:"owner"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Sync        SyncConfig        `toml:"sync"`
	Database    DatabaseConfig    `toml:"database"`
	Remote      RemoteConfig      `toml:"remote"`
	Persistence PersistenceConfig `toml:"persistence"`
	Encryption  EncryptionConfig  `toml:"encryption"`
}

// Duration is a time.Duration written as text ("2m", "30s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// SyncConfig tunes caching, the transaction lifecycle and list presentation.
type SyncConfig struct {
	SoftMaxAge   Duration `toml:"soft_max_age"`
	HardCeiling  Duration `toml:"hard_ceiling"`
	TxTimeout    Duration `toml:"tx_timeout"`
	Ordering     string   `toml:"ordering"`      // visited_desc, visited_asc, country_asc, city_asc, insertion
	InsertPolicy string   `toml:"insert_policy"` // "head" (default) or "tail"
	// ExplorerURL is a fmt template with one %s for the transaction ref.
	// Empty prints the bare ref.
	ExplorerURL string `toml:"explorer_url"`
}

// Validate checks the durations. Zero durations mean "use the default";
// a hard ceiling below the soft window would never serve stale data.
func (c SyncConfig) Validate() error {
	for name, d := range map[string]Duration{
		"soft_max_age": c.SoftMaxAge,
		"hard_ceiling": c.HardCeiling,
		"tx_timeout":   c.TxTimeout,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.SoftMaxAge.Duration > 0 && c.HardCeiling.Duration > 0 && c.HardCeiling.Duration < c.SoftMaxAge.Duration {
		return fmt.Errorf("hard_ceiling (%s) must not be below soft_max_age (%s)", c.HardCeiling, c.SoftMaxAge)
	}
	return nil
}

// DatabaseConfig represents configuration for the local record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig represents configuration for the authoritative ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite

	// ConfirmDelay is how long a memory ledger waits before confirming.
	ConfirmDelay Duration `toml:"confirm_delay"`
}

// PersistenceConfig represents configuration for offline snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PersistenceConfig struct {
	Type string `toml:"type"` // "filesystem", "memory", "s3" or "none"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with the provided values and default
// backends rooted at baseDir.
func NewConfig(owner, baseDir string) *Config {
	return &Config{
		Owner:    owner,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Sync: SyncConfig{
			SoftMaxAge:   Duration{2 * time.Minute},
			HardCeiling:  Duration{5 * time.Minute},
			TxTimeout:    Duration{30 * time.Second},
			Ordering:     "visited_desc",
			InsertPolicy: "head",
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Remote: RemoteConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "ledger"),
		},
		Persistence: PersistenceConfig{
			Type: "filesystem",
			Root: baseDir,
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "travellog.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "travellog.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

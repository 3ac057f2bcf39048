package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		Owner:    "0xabc123",
		BaseDir:  "/home/user/.local/share/travellog",
		LogDir:   "/home/user/.local/share/travellog/log",
		LogLevel: "debug",
		Sync: SyncConfig{
			SoftMaxAge:   Duration{90 * time.Second},
			HardCeiling:  Duration{10 * time.Minute},
			TxTimeout:    Duration{45 * time.Second},
			Ordering:     "country_asc",
			InsertPolicy: "tail",
			ExplorerURL:  "https://explorer.example/tx/%s",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/travellog/db"},
		Remote:   RemoteConfig{Type: "memory", ConfirmDelay: Duration{2 * time.Second}},
		Persistence: PersistenceConfig{
			Type:       "s3",
			S3Bucket:   "travel-snapshots",
			S3Prefix:   "dev",
			S3Region:   "eu-west-1",
			S3Endpoint: "http://localhost:9000",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/home/user/.local/share/travellog/keys/travellog.pub",
			PrivateKeyPath: "/home/user/.local/share/travellog/keys/travellog.key",
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Owner != original.Owner {
		t.Errorf("Owner = %q, want %q", got.Owner, original.Owner)
	}
	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", got.LogLevel, "debug")
	}
	if got.Sync.SoftMaxAge.Duration != 90*time.Second {
		t.Errorf("Sync.SoftMaxAge = %v, want %v", got.Sync.SoftMaxAge, 90*time.Second)
	}
	if got.Sync.HardCeiling.Duration != 10*time.Minute {
		t.Errorf("Sync.HardCeiling = %v, want %v", got.Sync.HardCeiling, 10*time.Minute)
	}
	if got.Sync.Ordering != "country_asc" {
		t.Errorf("Sync.Ordering = %q, want %q", got.Sync.Ordering, "country_asc")
	}
	if got.Sync.ExplorerURL != original.Sync.ExplorerURL {
		t.Errorf("Sync.ExplorerURL = %q, want %q", got.Sync.ExplorerURL, original.Sync.ExplorerURL)
	}
	if got.Remote.ConfirmDelay.Duration != 2*time.Second {
		t.Errorf("Remote.ConfirmDelay = %v, want %v", got.Remote.ConfirmDelay, 2*time.Second)
	}
	if got.Persistence.S3Endpoint != "http://localhost:9000" {
		t.Errorf("Persistence.S3Endpoint = %q, want %q", got.Persistence.S3Endpoint, "http://localhost:9000")
	}
	if got.Encryption.Type != "age" {
		t.Errorf("Encryption.Type = %q, want %q", got.Encryption.Type, "age")
	}
}

func TestManager_Read(t *testing.T) {
	t.Run("parses text durations", func(t *testing.T) {
		in := `
owner = "A"

[sync]
soft_max_age = "2m"
hard_ceiling = "5m"
tx_timeout = "30s"
`
		got, err := (&Manager{}).Read(strings.NewReader(in))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Sync.HardCeiling.Duration != 5*time.Minute {
			t.Errorf("HardCeiling = %v, want 5m", got.Sync.HardCeiling)
		}
		if got.Sync.TxTimeout.Duration != 30*time.Second {
			t.Errorf("TxTimeout = %v, want 30s", got.Sync.TxTimeout)
		}
	})

	t.Run("rejects malformed durations", func(t *testing.T) {
		in := "[sync]\nsoft_max_age = \"soon\"\n"
		if _, err := (&Manager{}).Read(strings.NewReader(in)); err == nil {
			t.Fatal("Read() expected error for malformed duration")
		}
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("owner-1", "/data/travellog")

	if cfg.Owner != "owner-1" {
		t.Errorf("Owner = %q, want %q", cfg.Owner, "owner-1")
	}
	if cfg.LogDir != "/data/travellog/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/travellog/log")
	}
	if cfg.Database.DataDir != "/data/travellog/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/travellog/db")
	}
	if cfg.Remote.Type != "sqlite" || cfg.Remote.DataDir != "/data/travellog/ledger" {
		t.Errorf("Remote = %+v, want sqlite ledger under base dir", cfg.Remote)
	}
	if cfg.Persistence.Root != "/data/travellog" {
		t.Errorf("Persistence.Root = %q, want %q", cfg.Persistence.Root, "/data/travellog")
	}
	if cfg.Encryption.Type != "none" {
		t.Errorf("Encryption.Type = %q, want %q", cfg.Encryption.Type, "none")
	}
	if cfg.Encryption.PublicKeyPath != "/data/travellog/keys/travellog.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/travellog/keys/travellog.pub")
	}
	if cfg.Sync.SoftMaxAge.Duration != 2*time.Minute {
		t.Errorf("Sync.SoftMaxAge = %v, want 2m", cfg.Sync.SoftMaxAge)
	}
	if cfg.Sync.HardCeiling.Duration != 5*time.Minute {
		t.Errorf("Sync.HardCeiling = %v, want 5m", cfg.Sync.HardCeiling)
	}
	if cfg.Sync.TxTimeout.Duration != 30*time.Second {
		t.Errorf("Sync.TxTimeout = %v, want 30s", cfg.Sync.TxTimeout)
	}
}

func TestSyncConfig_Validate(t *testing.T) {
	d := func(v time.Duration) Duration { return Duration{v} }

	tests := []struct {
		name    string
		sync    SyncConfig
		wantErr string
	}{
		{"defaults", NewConfig("o", "/d").Sync, ""},
		{"zero durations", SyncConfig{}, ""},
		{"ceiling equal to window", SyncConfig{SoftMaxAge: d(time.Minute), HardCeiling: d(time.Minute)}, ""},
		{"ceiling below window", SyncConfig{SoftMaxAge: d(5 * time.Minute), HardCeiling: d(2 * time.Minute)}, "hard_ceiling (2m0s) must not be below soft_max_age (5m0s)"},
		{"negative timeout", SyncConfig{TxTimeout: d(-time.Second)}, "tx_timeout must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sync.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "travellog.toml")
		cfg := NewConfig("o1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "travellog.toml")
		cfg := NewConfig("o1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "travellog.toml")
	cfg := NewConfig("before", dir)

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	cfg.Owner = ""
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.Owner != "" {
		t.Errorf("Owner = %q, want empty after logout", got.Owner)
	}
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "travellog.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Owner != "read-test" {
			t.Errorf("Owner = %q, want %q", got.Owner, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/travellog.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stashbox/stashbox/internal/constants"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.MaxConcurrent != constants.DefaultConcurrentTransfers {
		t.Errorf("expected default MaxConcurrent %d, got %d", constants.DefaultConcurrentTransfers, cfg.MaxConcurrent)
	}
	if cfg.CleanupOrphans {
		t.Error("expected CleanupOrphans to default to false")
	}
	if cfg.ProxyMode != "no-proxy" {
		t.Errorf("expected ProxyMode no-proxy, got %s", cfg.ProxyMode)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	cfg := NewConfig()
	cfg.BrokerURL = "https://broker.example"
	cfg.Token = "tok-123"
	cfg.MaxConcurrent = 5
	cfg.CleanupOrphans = true
	cfg.MaxFilesPerBatch = 20
	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.corp"
	cfg.ProxyPort = 3128
	cfg.ProxyUser = "alice"
	cfg.ProxyPassword = "secret"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.BrokerURL != cfg.BrokerURL || loaded.Token != cfg.Token {
		t.Errorf("connection settings mismatch: %+v", loaded)
	}
	if loaded.MaxConcurrent != 5 || !loaded.CleanupOrphans || loaded.MaxFilesPerBatch != 20 {
		t.Errorf("transfer settings mismatch: %+v", loaded)
	}
	if loaded.ProxyMode != "basic" || loaded.ProxyHost != "proxy.corp" || loaded.ProxyPort != 3128 || loaded.ProxyUser != "alice" {
		t.Errorf("proxy settings mismatch: %+v", loaded)
	}
	if loaded.ProxyPassword != "" {
		t.Error("proxy password must not be persisted")
	}

	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0077 != 0 {
		t.Errorf("config file permissions too open: %v", info.Mode().Perm())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxConcurrent != constants.DefaultConcurrentTransfers {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("[stashbox\nbroken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed INI")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBrokerURL, "https://env.example")
	t.Setenv(EnvToken, "env-token")

	cfg := NewConfig()
	cfg.BrokerURL = "https://file.example"
	cfg.Token = "file-token"
	cfg.ApplyEnv()

	if cfg.BrokerURL != "https://env.example" || cfg.Token != "env-token" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestResolveToken(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenPath, []byte("  file-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	emptyPath := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr error
	}{
		{"inline wins", Config{Token: "inline", TokenFile: tokenPath}, "inline", nil},
		{"token file", Config{TokenFile: tokenPath}, "file-token", nil},
		{"nothing", Config{}, "", ErrMissingToken},
		{"empty file", Config{TokenFile: emptyPath}, "", ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.ResolveToken()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"missing url", func(c *Config) { c.BrokerURL = " " }, ErrMissingBrokerURL},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, ErrInvalidConcurrent},
		{"too much concurrency", func(c *Config) { c.MaxConcurrent = constants.MaxConcurrentTransfers + 1 }, ErrInvalidConcurrent},
		{"bad proxy mode", func(c *Config) { c.ProxyMode = "socks" }, ErrInvalidProxyMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.BrokerURL = "https://broker.example"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidationPolicyOnlyTightens(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxFileSize = constants.MaxFileSizeBytes * 2
	cfg.MaxFilesPerBatch = 10

	p := cfg.ValidationPolicy()
	if p.MaxFileSize != constants.MaxFileSizeBytes {
		t.Errorf("MaxFileSize = %d, overrides must not relax the limit", p.MaxFileSize)
	}
	if p.MaxFilesPerBatch != 10 {
		t.Errorf("MaxFilesPerBatch = %d, want 10", p.MaxFilesPerBatch)
	}
}

func TestLoadBroker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.ini")
	content := `[server]
addr = 127.0.0.1:9090

[auth]
jwt_secret = file-secret

[storage]
bucket = files
endpoint = http://localhost:9000
path_style = true

[database]
driver = postgres
dsn = postgres://localhost/stashbox

[policy]
download_url_ttl = 30m
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvJWTSecret, "env-secret")

	cfg, err := LoadBroker(path)
	if err != nil {
		t.Fatalf("LoadBroker failed: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9090" || cfg.Bucket != "files" || !cfg.PathStyle {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Errorf("env override not applied, got %q", cfg.JWTSecret)
	}
	if cfg.DownloadURLTTL != 30*time.Minute || cfg.UploadURLTTL != constants.UploadURLTTL {
		t.Errorf("TTLs = %v / %v", cfg.DownloadURLTTL, cfg.UploadURLTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBrokerValidate(t *testing.T) {
	cfg := NewBrokerConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingJWTSecret) {
		t.Errorf("expected ErrMissingJWTSecret, got %v", err)
	}
	cfg.JWTSecret = "s"
	if err := cfg.Validate(); !errors.Is(err, ErrMissingBucket) {
		t.Errorf("expected ErrMissingBucket, got %v", err)
	}
	cfg.Bucket = "b"
	cfg.DBDriver = "mysql"
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
}

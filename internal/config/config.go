// Package config loads and saves the INI configuration of the stashbox
// client and the credential broker.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/validation"
)

// Environment variables that override file values.
const (
	EnvToken     = "STASHBOX_TOKEN"
	EnvBrokerURL = "STASHBOX_BROKER_URL"
)

// Config is the client configuration.
//
// INI format:
//
//	[stashbox]
//	broker_url = https://example.supabase.co
//	token = <bearer>
//	token_file = ~/.config/stashbox/token
//
//	[transfer]
//	max_concurrent = 3
//	cleanup_orphans = false
//
//	[policy]
//	max_file_size = 5368709120
//	max_batch_bytes = 10737418240
//	max_files_per_batch = 50
//
//	[proxy]
//	mode = no-proxy | system | basic | ntlm
//	host = proxy.corp
//	port = 8080
//	user = alice
//	password = secret
//	no_proxy = localhost,10.0.0.0/8
type Config struct {
	BrokerURL string
	Token     string
	TokenFile string

	MaxConcurrent  int
	CleanupOrphans bool

	MaxFileSize      int64
	MaxBatchBytes    int64
	MaxFilesPerBatch int

	ProxyMode     string
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string
	ProxyWarmup   bool
}

// Validation errors
var (
	ErrMissingBrokerURL  = errors.New("broker_url is required")
	ErrMissingToken      = errors.New("no bearer token: set token, token_file or " + EnvToken)
	ErrInvalidConcurrent = fmt.Errorf("max_concurrent must be between 1 and %d", constants.MaxConcurrentTransfers)
	ErrInvalidProxyMode  = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
)

// NewConfig returns a config populated with defaults.
func NewConfig() *Config {
	return &Config{
		MaxConcurrent:    constants.DefaultConcurrentTransfers,
		MaxFileSize:      constants.MaxFileSizeBytes,
		MaxBatchBytes:    constants.MaxTotalBatchBytes,
		MaxFilesPerBatch: constants.MaxFilesPerBatch,
		ProxyMode:        "no-proxy",
	}
}

// Load reads the client config from path. An empty path means the default
// location. A missing file yields defaults and no error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	main := f.Section("stashbox")
	cfg.BrokerURL = main.Key("broker_url").String()
	cfg.Token = main.Key("token").String()
	cfg.TokenFile = main.Key("token_file").String()

	tr := f.Section("transfer")
	cfg.MaxConcurrent = tr.Key("max_concurrent").MustInt(cfg.MaxConcurrent)
	cfg.CleanupOrphans = tr.Key("cleanup_orphans").MustBool(false)

	pol := f.Section("policy")
	cfg.MaxFileSize = pol.Key("max_file_size").MustInt64(cfg.MaxFileSize)
	cfg.MaxBatchBytes = pol.Key("max_batch_bytes").MustInt64(cfg.MaxBatchBytes)
	cfg.MaxFilesPerBatch = pol.Key("max_files_per_batch").MustInt(cfg.MaxFilesPerBatch)

	px := f.Section("proxy")
	cfg.ProxyMode = px.Key("mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = px.Key("host").String()
	cfg.ProxyPort = px.Key("port").MustInt(0)
	cfg.ProxyUser = px.Key("user").String()
	cfg.ProxyPassword = px.Key("password").String()
	cfg.NoProxy = px.Key("no_proxy").String()
	cfg.ProxyWarmup = px.Key("warmup").MustBool(false)

	return cfg, nil
}

// Save writes cfg to path with owner-only permissions. The write goes
// through a temporary file and a rename.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()

	main, err := f.NewSection("stashbox")
	if err != nil {
		return fmt.Errorf("failed to create stashbox section: %w", err)
	}
	main.Key("broker_url").SetValue(cfg.BrokerURL)
	if cfg.Token != "" {
		main.Key("token").SetValue(cfg.Token)
	}
	if cfg.TokenFile != "" {
		main.Key("token_file").SetValue(cfg.TokenFile)
	}

	tr, err := f.NewSection("transfer")
	if err != nil {
		return fmt.Errorf("failed to create transfer section: %w", err)
	}
	tr.Key("max_concurrent").SetValue(strconv.Itoa(cfg.MaxConcurrent))
	tr.Key("cleanup_orphans").SetValue(strconv.FormatBool(cfg.CleanupOrphans))

	pol, err := f.NewSection("policy")
	if err != nil {
		return fmt.Errorf("failed to create policy section: %w", err)
	}
	pol.Key("max_file_size").SetValue(strconv.FormatInt(cfg.MaxFileSize, 10))
	pol.Key("max_batch_bytes").SetValue(strconv.FormatInt(cfg.MaxBatchBytes, 10))
	pol.Key("max_files_per_batch").SetValue(strconv.Itoa(cfg.MaxFilesPerBatch))

	px, err := f.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	px.Key("mode").SetValue(cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		px.Key("host").SetValue(cfg.ProxyHost)
		px.Key("port").SetValue(strconv.Itoa(cfg.ProxyPort))
	}
	if cfg.ProxyUser != "" {
		px.Key("user").SetValue(cfg.ProxyUser)
	}
	if cfg.NoProxy != "" {
		px.Key("no_proxy").SetValue(cfg.NoProxy)
	}
	// The proxy password is never persisted.

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func (cfg *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBrokerURL)); v != "" {
		cfg.BrokerURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Token = v
	}
}

// ResolveToken returns the bearer token, reading token_file when no inline
// token is set.
func (cfg *Config) ResolveToken() (string, error) {
	if t := strings.TrimSpace(cfg.Token); t != "" {
		return t, nil
	}
	if cfg.TokenFile == "" {
		return "", ErrMissingToken
	}
	path := cfg.TokenFile
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	t := strings.TrimSpace(string(data))
	if t == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrMissingToken, path)
	}
	return t, nil
}

// Validate checks the settings needed to talk to the broker.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return ErrMissingBrokerURL
	}
	if cfg.MaxConcurrent < 1 || cfg.MaxConcurrent > constants.MaxConcurrentTransfers {
		return ErrInvalidConcurrent
	}
	switch strings.ToLower(cfg.ProxyMode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProxyMode, cfg.ProxyMode)
	}
	return nil
}

// ValidationPolicy returns the admission policy with file overrides applied.
// Overrides can only tighten the built-in limits.
func (cfg *Config) ValidationPolicy() validation.Policy {
	p := validation.DefaultPolicy()
	if cfg.MaxFileSize > 0 && cfg.MaxFileSize < p.MaxFileSize {
		p.MaxFileSize = cfg.MaxFileSize
	}
	if cfg.MaxBatchBytes > 0 && cfg.MaxBatchBytes < p.MaxTotalBatchBytes {
		p.MaxTotalBatchBytes = cfg.MaxBatchBytes
	}
	if cfg.MaxFilesPerBatch > 0 && cfg.MaxFilesPerBatch < p.MaxFilesPerBatch {
		p.MaxFilesPerBatch = cfg.MaxFilesPerBatch
	}
	return p
}

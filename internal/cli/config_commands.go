package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stashbox/stashbox/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stashbox configuration",
		Long: `Configuration management commands for stashbox.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup. The bearer token is written to a
separate owner-only token file next to the config, never into it.

Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, tokenValue, err := promptConfig(newPrompter(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			return writeConfig(cfg, tokenValue, path)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig collects the client settings. The token is returned
// separately so it can be stored outside the config file.
func promptConfig(p *prompter) (*config.Config, string, error) {
	cfg := config.NewConfig()

	fmt.Fprintln(p.out, "stashbox configuration")
	fmt.Fprintln(p.out, "======================")

	var err error
	if cfg.BrokerURL, err = p.required("Broker URL"); err != nil {
		return nil, "", err
	}
	tokenValue, err := p.secret("Bearer token (leave empty to set " + config.EnvToken + " instead)")
	if err != nil {
		return nil, "", err
	}

	conc, err := p.line("Concurrent transfers", strconv.Itoa(cfg.MaxConcurrent))
	if err != nil {
		return nil, "", err
	}
	if v, err := strconv.Atoi(conc); err == nil && v > 0 {
		cfg.MaxConcurrent = v
	}

	useProxy, err := p.yes("Configure proxy?")
	if err != nil {
		return nil, "", err
	}
	if useProxy {
		fmt.Fprintln(p.out, "Proxy modes: no-proxy, system, basic, ntlm")
		if cfg.ProxyMode, err = p.line("Proxy mode", "system"); err != nil {
			return nil, "", err
		}
		if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
			if cfg.ProxyHost, err = p.required("Proxy host"); err != nil {
				return nil, "", err
			}
			port, err := p.line("Proxy port", "8080")
			if err != nil {
				return nil, "", err
			}
			cfg.ProxyPort, _ = strconv.Atoi(port)
			if cfg.ProxyUser, err = p.line("Proxy user", ""); err != nil {
				return nil, "", err
			}
		}
		if cfg.NoProxy, err = p.line("Bypass proxy for (comma separated)", ""); err != nil {
			return nil, "", err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, tokenValue, nil
}

func writeConfig(cfg *config.Config, tokenValue, path string) error {
	log := GetLogger()

	if tokenValue != "" {
		tokenPath := filepath.Join(filepath.Dir(path), "token")
		if err := os.MkdirAll(filepath.Dir(tokenPath), 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(tokenPath, []byte(tokenValue+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to save token file: %w", err)
		}
		cfg.TokenFile = tokenPath
		log.Info().Str("path", tokenPath).Msg("Token saved")
	}

	if err := config.Save(cfg, path); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Configuration saved")
	return nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the merged configuration.

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path, _ := configPath()
			showConfig(os.Stdout, cfg, path)
			return nil
		},
	}
}

func showConfig(out io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(out, "Broker:")
	fmt.Fprintf(out, "  URL:        %s\n", orNotSet(cfg.BrokerURL))
	if t, err := cfg.ResolveToken(); err == nil {
		// Never print any part of the token.
		fmt.Fprintf(out, "  Token:      <set (%d chars)>\n", len(t))
	} else {
		fmt.Fprintln(out, "  Token:      <not set>")
	}
	if cfg.TokenFile != "" {
		fmt.Fprintf(out, "  Token file: %s\n", cfg.TokenFile)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Transfers:")
	fmt.Fprintf(out, "  Max concurrent:  %d\n", cfg.MaxConcurrent)
	fmt.Fprintf(out, "  Cleanup orphans: %t\n", cfg.CleanupOrphans)
	fmt.Fprintln(out)

	p := cfg.ValidationPolicy()
	fmt.Fprintln(out, "Policy:")
	fmt.Fprintf(out, "  Max file size:   %d\n", p.MaxFileSize)
	fmt.Fprintf(out, "  Max batch bytes: %d\n", p.MaxTotalBatchBytes)
	fmt.Fprintf(out, "  Max batch files: %d\n", p.MaxFilesPerBatch)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy:")
	fmt.Fprintf(out, "  Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(out, "  Host: %s:%d\n", cfg.ProxyHost, cfg.ProxyPort)
	}
	if cfg.ProxyUser != "" {
		fmt.Fprintf(out, "  User: %s\n", cfg.ProxyUser)
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(out, "  Bypass: %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

// Package cli provides the command-line interface for stashbox.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/version"
)

var (
	// Global flags
	cfgFile   string
	token     string
	tokenFile string
	brokerURL string
	verbose   bool
	debug     bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stashbox",
		Short: "stashbox - upload, download and manage files through the credential broker",
		Long: `stashbox ` + version.Version + `

Transfers files directly to and from object storage using short-lived
presigned credentials issued by the stashbox broker. File and folder
metadata is kept by the broker.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			logging.SetVerbose(verbose || debug)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (overrides all other sources)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to file containing the bearer token")
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker-url", "", "Broker base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.String()

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling transfers...\n", sig)
				fmt.Fprintf(os.Stderr, "   In-flight items finish as failed; run the command again to retry.\n\n")
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newFilesCmd())
	rootCmd.AddCommand(newFoldersCmd())
	rootCmd.AddCommand(newConfigCmd())

	// Shortcuts for the common file operations
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newDeleteCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context. It is cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig merges the config file, the environment and global flags.
// Priority: flags > environment > config file > defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if brokerURL != "" {
		cfg.BrokerURL = brokerURL
	}
	if tokenFile != "" {
		cfg.TokenFile = tokenFile
		cfg.Token = ""
	}
	if token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

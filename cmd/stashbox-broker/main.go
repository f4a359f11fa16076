// stashbox-broker - credential broker for stashbox clients
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashbox/stashbox/internal/broker"
	"github.com/stashbox/stashbox/internal/broker/records"
	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/version"
)

// Set by ldflags in release builds.
var (
	Version   = ""
	BuildTime = ""
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stashbox-broker",
		Short: "stashbox credential broker",
		Long: `stashbox-broker ` + version.Version + `

Verifies bearer tokens, issues presigned upload and download URLs scoped to
the caller, and stores file and folder records.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetVerbose(verbose)
		},
		Version: version.String(),
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "broker.ini", "Broker configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker HTTP service",
		Long: `Run the broker. Pending migrations are applied on start.

Secrets may come from the environment instead of broker.ini:
  ` + config.EnvJWTSecret + `, ` + config.EnvDatabaseDSN + `,
  ` + config.EnvS3AccessKey + `, ` + config.EnvS3SecretKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadBroker(cfgFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewFileLogger(os.Stderr, logging.FileOptions{Path: cfg.LogFile})
			ctx := cmd.Context()

			repo, err := records.Open(ctx, cfg.DBDriver, cfg.DSN, logger)
			if err != nil {
				logger.Error().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open record store")
				return err
			}
			defer repo.Close()

			store, err := broker.NewS3Store(ctx, cfg)
			if err != nil {
				return err
			}
			logger.Info().
				Str("bucket", cfg.Bucket).
				Str("region", cfg.Region).
				Str("endpoint", cfg.Endpoint).
				Msg("Object store configured")

			svc := broker.NewService(store, repo, cfg, logger)
			return broker.NewServer(svc, []byte(cfg.JWTSecret), logger).Start(ctx, cfg.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides [server] addr)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadBroker(cfgFile)
			if err != nil {
				return err
			}
			if cfg.DSN == "" {
				return config.ErrMissingDSN
			}

			logger := logging.NewDefaultCLILogger()
			db, err := records.OpenDB(cmd.Context(), cfg.DBDriver, cfg.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := records.Migrate(cmd.Context(), db, cfg.DBDriver, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Schema at version %d (%s)\n", v, cfg.DBDriver)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for development",
		Long: `Sign a token with [auth] jwt_secret for the given user. Production
tokens come from the identity provider that shares the secret.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadBroker(cfgFile)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return config.ErrMissingJWTSecret
			}

			tok, err := broker.IssueToken([]byte(cfg.JWTSecret), args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", constants.DevTokenTTL, "Token lifetime")
	return cmd
}

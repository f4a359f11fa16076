package cli

import (
	"fmt"
	"os"

	"github.com/stashbox/stashbox/internal/api"
	"github.com/stashbox/stashbox/internal/cloud/download"
	"github.com/stashbox/stashbox/internal/cloud/upload"
	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/events"
	"github.com/stashbox/stashbox/internal/http"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/services"
)

// session bundles what one command invocation talks to.
type session struct {
	cfg    *config.Config
	logger *logging.Logger
	broker *api.Client
	bus    *events.EventBus
}

// newSession loads config, asks for a proxy password when one is needed and
// creates the broker client.
func newSession() (*session, error) {
	log := GetLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w (run 'stashbox config init')", err)
	}
	if http.NeedsProxyPassword(cfg) {
		pw, err := newPrompter(os.Stdin, os.Stderr).secret(fmt.Sprintf("Password for proxy user %s", cfg.ProxyUser))
		if err != nil {
			return nil, err
		}
		cfg.ProxyPassword = pw
	}

	broker, err := api.NewClient(cfg,
		api.WithLogger(log),
		api.WithOnUnauthorized(func() {
			log.Warn().Msg("Broker rejected the bearer token; refresh it with 'stashbox config init' or --token")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker client: %w", err)
	}

	return &session{
		cfg:    cfg,
		logger: log,
		broker: broker,
		bus:    events.NewEventBus(0),
	}, nil
}

// transferService wires the object-store transports behind a
// TransferService. maxConcurrent of 0 uses the configured value.
func (s *session) transferService(maxConcurrent int, cleanupOrphans bool) (*services.TransferService, error) {
	client, err := http.CreateOptimizedClient(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer client: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = s.cfg.MaxConcurrent
	}

	return services.NewTransferService(s.broker,
		upload.NewUploader(client, s.logger),
		download.NewDownloader(client, s.logger),
		services.TransferServiceConfig{
			MaxConcurrent:  maxConcurrent,
			CleanupOrphans: cleanupOrphans || s.cfg.CleanupOrphans,
			Policy:         s.cfg.ValidationPolicy(),
			Logger:         s.logger,
			EventBus:       s.bus,
		}), nil
}

func (s *session) fileService() *services.FileService {
	return services.NewFileService(s.broker, s.bus, s.logger)
}

func (s *session) close() {
	s.bus.Close()
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kbpicker/kb-picker/internal/api"
	"github.com/kbpicker/kb-picker/internal/config"
	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/http"
	"github.com/kbpicker/kb-picker/internal/logging"
	"github.com/kbpicker/kb-picker/internal/progress"
	"github.com/kbpicker/kb-picker/internal/services"
	"github.com/kbpicker/kb-picker/internal/store"
)

// configPath returns the --config path or the default one.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}

// loadConfig loads the config file and merges the credentials file,
// environment and global flags into it. Missing credentials are not an error
// here; commands that need a token validate it themselves.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigCSV(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	creds, err := config.LoadCredentials("")
	if err != nil && !errors.Is(err, config.ErrNoCredentials) {
		return nil, err
	}

	cfg.MergeWithFlagsAndCredentials(authToken, creds, apiBaseURL, "", "", 0)

	if cfg.ProxyUser != "" && cfg.ProxyPassword == "" && progress.IsTerminal(os.Stdin) {
		password, err := promptPassword(fmt.Sprintf("Proxy password for %s: ", cfg.ProxyUser))
		if err != nil {
			return nil, err
		}
		cfg.ProxyPassword = password
	}
	return cfg, nil
}

// getAPIClient loads configuration and creates an API client.
func getAPIClient() (*api.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	client, err := api.NewClient(cfg, GetLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, cfg, nil
}

// historyPath returns where the knowledge base history lives.
func historyPath(cfg *config.Config) string {
	if cfg.HistoryDB != "" {
		return cfg.HistoryDB
	}
	return config.GetDefaultHistoryDBPath()
}

// pickerEnv bundles what the knowledge base commands need. Close releases
// the history database and the event bus.
type pickerEnv struct {
	cfg     *config.Config
	client  *api.Client
	store   *store.Store
	bus     *events.EventBus
	service *services.PickerService
}

func (e *pickerEnv) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			GetLogger().Warn().Err(err).Msg("Failed to close history database")
		}
	}
	if e.bus != nil {
		e.bus.Close()
	}
}

// newPickerEnv builds an authenticated picker service with its history
// restored. log overrides the CLI logger when not nil.
func newPickerEnv(log *logging.Logger) (*pickerEnv, error) {
	if log == nil {
		log = GetLogger()
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForConnection(); err != nil {
		return nil, err
	}
	if err := api.CheckToken(cfg.AuthToken, time.Now(), constants.TokenExpiryLeeway); err != nil {
		return nil, authHint(err)
	}

	client, err := api.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	db, err := store.Open(historyPath(cfg))
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	svc := services.NewPickerService(client, bus, services.PickerServiceConfig{
		ConnectionID: cfg.ConnectionID,
		OrgID:        cfg.OrgID,
		History:      db,
		Logger:       log,
		Retry: http.Config{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: http.DefaultConfig().InitialDelay,
			MaxDelay:     http.DefaultConfig().MaxDelay,
		},
	})

	env := &pickerEnv{cfg: cfg, client: client, store: db, bus: bus, service: svc}
	if err := svc.RestoreSession(GetContext()); err != nil {
		log.Warn().Err(err).Msg("Failed to restore previous session")
	}
	return env, nil
}

// authHint decorates auth failures with the way out.
func authHint(err error) error {
	if api.IsAuthError(err) {
		return fmt.Errorf("%w (run 'kb-picker login' again)", err)
	}
	return err
}

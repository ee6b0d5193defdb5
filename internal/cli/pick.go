package cli

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbpicker/kb-picker/internal/config"
	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/logging"
	"github.com/kbpicker/kb-picker/internal/metrics"
	"github.com/kbpicker/kb-picker/internal/progress"
	"github.com/kbpicker/kb-picker/internal/tui"
)

// newPickCmd creates the 'pick' command, the interactive picker.
func newPickCmd() *cobra.Command {
	var (
		metricsAddr string
		logFile     string
		resolve     bool
		syncTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Browse Google Drive and build a knowledge base interactively",
		Long: `Open the interactive picker.

Keys:
  up/down, j/k     move
  enter, l, right  expand or collapse a folder
  left, h          collapse, or jump to the parent folder
  space            select or deselect (folders cascade)
  /                search by name
  o                cycle sort (name, date)
  i                index the selection into a new knowledge base
  s                sync the active knowledge base
  r                refresh indexing status
  x                remove the resource under the cursor from the knowledge base
  n                start a new knowledge base
  ?                help
  q                quit

Logs go to a rotating file (default ~/.config/kb-picker/logs/kb-picker.log)
so they do not disturb the screen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !progress.IsTerminal(os.Stdout) {
				return errors.New("the picker needs a terminal; use 'resources ls' and 'kb create' in scripts")
			}

			cfg, err := config.LoadConfigCSV(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logFile == "" {
				logFile = cfg.LogFile
			}
			if logFile == "" {
				if err := config.EnsureLogDirectory(); err != nil {
					return err
				}
				logFile = config.DefaultLogFile()
			}
			fileLogger := logging.NewFileLogger(logging.ModeTUI, logging.FileConfig{Path: logFile})
			defer fileLogger.Close()

			env, err := newPickerEnv(fileLogger)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			notifier := newNotifier(env.cfg)
			go notifier.Watch(ctx, env.bus)

			if metricsAddr != "" {
				srv := &nethttp.Server{
					Addr:    metricsAddr,
					Handler: metrics.Handler(),
				}
				go func() {
					fileLogger.Info().Str("addr", metricsAddr).Msg("Metrics server listening")
					if err := srv.ListenAndServe(); err != nethttp.ErrServerClosed {
						fileLogger.Error().Err(err).Msg("Metrics server error")
					}
				}()
				defer srv.Close()
			}

			if env.service.Session().ActiveID() != "" {
				if _, err := env.service.SelectIndexed(ctx); err != nil {
					fileLogger.Warn().Err(err).Msg("Failed to restore the selection of the active knowledge base")
				}
			}

			params := env.cfg.IndexingParams()
			err = tui.Run(ctx, env.service, env.bus, tui.Options{
				Notifier:       notifier,
				ResolveFolders: resolve || env.cfg.ResolveFolders,
				IndexParams:    params,
				SyncTimeout:    syncTimeout,
			})
			cancel()
			env.service.Wait()
			fileLogger.Debugf("Picker closed, %d events dropped", env.bus.GetDroppedEventCount())
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file (default from config or ~/.config/kb-picker/logs/kb-picker.log)")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Expand selected folders into their files before indexing")
	cmd.Flags().DurationVar(&syncTimeout, "sync-timeout", constants.DefaultSyncWaitTimeout, "Maximum time to follow a sync")

	return cmd
}

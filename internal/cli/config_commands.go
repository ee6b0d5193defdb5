package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbpicker/kb-picker/internal/api"
	"github.com/kbpicker/kb-picker/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage kb-picker configuration",
		Long: `Configuration management commands for kb-picker.

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

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for kb-picker.

The configuration will be saved to ~/.config/kb-picker/config.csv.
Tokens are never written there; run 'kb-picker login' afterwards.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			path := configPath()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Println("kb-picker Configuration Setup")
			fmt.Println("=============================")
			fmt.Println()

			cfg, err := askConfig(config.NewConfig())
			if err != nil {
				return err
			}

			if err := config.SaveConfigCSV(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			logger.Info().Str("path", path).Msg("Configuration saved")

			fmt.Println()
			fmt.Printf("Configuration saved to: %s\n", path)
			fmt.Println("Sign in with: kb-picker login")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// askConfig prompts for the settings a first run needs, offering cfg's
// values as defaults.
func askConfig(cfg *config.Config) (*config.Config, error) {
	var err error
	ask := func(prompt string, value *string) {
		if err != nil {
			return
		}
		*value, err = promptLine(prompt, *value)
	}
	askInt := func(prompt string, value *int) {
		s := strconv.Itoa(*value)
		ask(prompt, &s)
		if err != nil {
			return
		}
		n, convErr := strconv.Atoi(s)
		if convErr != nil || n < 0 {
			err = fmt.Errorf("%s: not a valid number: %q", prompt, s)
			return
		}
		*value = n
	}

	ask("API base URL", &cfg.APIBaseURL)
	ask("Auth URL", &cfg.AuthURL)
	ask("Auth anon key", &cfg.AnonKey)

	fmt.Println()
	fmt.Println("Indexing defaults (press Enter to keep)")
	fmt.Println("---------------------------------------")
	ask("Embedding model", &cfg.EmbeddingModel)
	askInt("Chunk size", &cfg.ChunkSize)
	askInt("Chunk overlap", &cfg.ChunkOverlap)
	ask("Chunker", &cfg.Chunker)

	fmt.Println()
	proxyMode := cfg.ProxyMode
	ask("Proxy mode (no-proxy, system, basic, ntlm)", &proxyMode)
	cfg.ProxyMode = strings.ToLower(proxyMode)
	if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
		ask("Proxy host", &cfg.ProxyHost)
		if cfg.ProxyPort == 0 {
			cfg.ProxyPort = 8080
		}
		askInt("Proxy port", &cfg.ProxyPort)
		ask("Proxy user (password is asked at runtime)", &cfg.ProxyUser)
	}
	if err != nil {
		return nil, err
	}

	if cfg.ChunkSize <= 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, config.ErrInvalidChunking
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/kb-picker/config.csv)
  2. Credentials file written by 'login'
  3. Environment variables (STACKAI_TOKEN, STACKAI_API_URL, ...)
  4. Command-line flags (--token, --api-url)

Priority: flags > environment > credentials > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigCSV(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			creds, err := config.LoadCredentials("")
			if err != nil && !errors.Is(err, config.ErrNoCredentials) {
				return err
			}
			cfg.MergeWithFlagsAndCredentials(authToken, creds, apiBaseURL, "", "", 0)

			printConfig(cmd.OutOrStdout(), cfg, creds)
			return nil
		},
	}

	return cmd
}

func printConfig(w io.Writer, cfg *config.Config, creds *config.Credentials) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Backend:")
	fmt.Fprintf(w, "  API Base URL:  %s\n", cfg.APIBaseURL)
	fmt.Fprintf(w, "  Auth URL:      %s\n", cfg.AuthURL)
	if cfg.AuthToken != "" {
		// Never display any portion of the token
		fmt.Fprintf(w, "  Token:         <set (%d chars)>\n", len(cfg.AuthToken))
		if exp, err := api.TokenExpiry(cfg.AuthToken); err == nil {
			fmt.Fprintf(w, "  Expires:       %s\n", exp.Local().Format("2006-01-02 15:04"))
		}
	} else {
		fmt.Fprintln(w, "  Token:         <not set - run 'kb-picker login'>")
	}
	if creds != nil && creds.Email != "" {
		fmt.Fprintf(w, "  Signed in as:  %s\n", creds.Email)
	}
	fmt.Fprintf(w, "  Organization:  %s\n", orDash(cfg.OrgID))
	fmt.Fprintf(w, "  Connection:    %s (%s)\n", orDash(cfg.ConnectionID), cfg.ConnectionProvider)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Indexing defaults:")
	fmt.Fprintf(w, "  Embedding model: %s\n", cfg.EmbeddingModel)
	fmt.Fprintf(w, "  Chunking:        %s, %d tokens, %d overlap\n", cfg.Chunker, cfg.ChunkSize, cfg.ChunkOverlap)
	fmt.Fprintf(w, "  OCR:             %t\n", cfg.OCR)
	fmt.Fprintf(w, "  Unstructured:    %t\n", cfg.Unstructured)
	fmt.Fprintf(w, "  Resolve folders: %t\n", cfg.ResolveFolders)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy Settings:")
	fmt.Fprintf(w, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(w, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Advanced Settings:")
	fmt.Fprintf(w, "  Max Retries:     %d\n", cfg.MaxRetries)
	fmt.Fprintf(w, "  Request Timeout: %s\n", cfg.RequestTimeout())
	fmt.Fprintf(w, "  Notifications:   %t\n", cfg.Notifications)
	fmt.Fprintf(w, "  History DB:      %s\n", historyPath(cfg))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Configuration file: %s\n", configPath())
	if _, err := os.Stat(configPath()); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the paths of the configuration, credentials and history files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Config:      %s\n", configPath())
			fmt.Fprintf(w, "Credentials: %s\n", config.GetDefaultCredentialsPath())
			fmt.Fprintf(w, "History:     %s\n", config.GetDefaultHistoryDBPath())
			fmt.Fprintf(w, "Logs:        %s\n", config.LogDirectory())

			if _, err := os.Stat(configPath()); err != nil {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "Create a configuration file with: kb-picker config init")
			}
			return nil
		},
	}

	return cmd
}

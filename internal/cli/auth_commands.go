package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kbpicker/kb-picker/internal/api"
	"github.com/kbpicker/kb-picker/internal/config"
	"github.com/kbpicker/kb-picker/internal/http"
	"github.com/kbpicker/kb-picker/internal/services"
	"github.com/kbpicker/kb-picker/internal/store"
)

// newLoginCmd creates the 'login' command.
func newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Stack AI and pick the Google Drive connection",
		Long: `Sign in with email and password. The access token, organization id and
the first Google Drive connection are saved to the credentials file
(~/.config/kb-picker/credentials, owner-only permissions).

The password is prompted without echo when --password is not given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			ctx := GetContext()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForLogin(); err != nil {
				return err
			}

			if email == "" {
				if email, err = promptLine("Email", ""); err != nil {
					return err
				}
			}
			if email == "" {
				return fmt.Errorf("email is required")
			}
			if password == "" {
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}

			client, err := api.NewClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}

			retry := http.DefaultConfig()
			retry.OnRetry = func(attempt int, err error, errorType http.ErrorType) {
				logger.Warn().Err(err).Int("attempt", attempt).Msg("Login failed, retrying")
			}
			if err := http.ExecuteWithRetry(ctx, retry, func() error {
				_, err := client.Login(ctx, email, password)
				return err
			}); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			orgID, err := client.GetOrgID(ctx)
			if err != nil {
				return err
			}

			creds := &config.Credentials{
				APIBaseURL: cfg.APIBaseURL,
				Email:      email,
				AuthToken:  client.Token(),
				OrgID:      orgID,
			}

			conn, err := client.FindDriveConnection(ctx)
			switch {
			case err == nil:
				creds.ConnectionID = conn.ConnectionID
			case errors.Is(err, api.ErrNoConnection):
				logger.Warn().Msg("No Google Drive connection yet; connect one in Stack AI and log in again")
			default:
				return err
			}

			if err := config.SaveCredentials(creds, ""); err != nil {
				return err
			}
			logger.Info().Str("email", email).Str("org_id", orgID).Str("connection_id", creds.ConnectionID).Msg("Logged in")

			fmt.Printf("Logged in as %s\n", email)
			if creds.ConnectionID != "" {
				fmt.Printf("Google Drive connection: %s\n", creds.ConnectionID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")

	return cmd
}

// newLogoutCmd creates the 'logout' command.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token and the knowledge base history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			cfg, err := config.LoadConfigCSV(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := store.Open(historyPath(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			svc := services.NewPickerService(nil, nil, services.PickerServiceConfig{
				History: db,
				Logger:  GetLogger(),
			})
			if err := svc.Logout(ctx); err != nil {
				return err
			}
			if err := config.ClearCredentials(""); err != nil {
				return err
			}

			fmt.Println("Logged out")
			return nil
		},
	}
}

// newConnectionsCmd creates the 'connections' command group.
func newConnectionsCmd() *cobra.Command {
	connectionsCmd := &cobra.Command{
		Use:   "connections",
		Short: "Inspect drive connections",
	}
	connectionsCmd.AddCommand(newConnectionsListCmd())
	return connectionsCmd
}

func newConnectionsListCmd() *cobra.Command {
	var (
		provider   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connections of the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := getAPIClient()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if provider == "" {
				provider = cfg.ConnectionProvider
			}

			connections, err := client.ListConnections(GetContext(), provider, 0)
			if err != nil {
				return authHint(err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(connections)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tACTIVE")
			for _, c := range connections {
				active := ""
				if c.ConnectionID == cfg.ConnectionID {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ConnectionID, c.Name, c.ConnectionProvider, active)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Connection provider (default from config: gdrive)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")

	return cmd
}

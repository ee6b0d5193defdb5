package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbpicker/kb-picker/internal/config"
	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/notify"
	"github.com/kbpicker/kb-picker/internal/progress"
	"github.com/kbpicker/kb-picker/internal/services"
	"github.com/kbpicker/kb-picker/internal/store"
	strutil "github.com/kbpicker/kb-picker/internal/util/strings"
	"github.com/kbpicker/kb-picker/internal/validation"
)

// newKBCmd creates the 'kb' command group.
func newKBCmd() *cobra.Command {
	kbCmd := &cobra.Command{
		Use:     "kb",
		Aliases: []string{"knowledge-base"},
		Short:   "Create, sync and manage knowledge bases",
		Long: `Knowledge base commands.

The knowledge base created or switched to last is the active one; commands
that take --kb-id default to it.

Commands:
  create     - Create a knowledge base from drive resources
  sync       - Trigger indexing and optionally wait for it
  resources  - List what a knowledge base holds
  rm         - Remove a resource from a knowledge base
  history    - List knowledge bases used from this machine
  switch     - Make a knowledge base from the history active
  forget     - Drop a knowledge base from the history
  new        - Deactivate the current knowledge base`,
	}

	kbCmd.AddCommand(newKBCreateCmd())
	kbCmd.AddCommand(newKBSyncCmd())
	kbCmd.AddCommand(newKBResourcesCmd())
	kbCmd.AddCommand(newKBRemoveCmd())
	kbCmd.AddCommand(newKBHistoryCmd())
	kbCmd.AddCommand(newKBSwitchCmd())
	kbCmd.AddCommand(newKBForgetCmd())
	kbCmd.AddCommand(newKBNewCmd())

	return kbCmd
}

// indexingFlags holds the indexing parameter overrides of 'kb create'.
type indexingFlags struct {
	ocr            bool
	noUnstructured bool
	embeddingModel string
	chunkSize      int
	chunkOverlap   int
	chunker        string
}

func (f *indexingFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.ocr, "ocr", false, "Run OCR on scanned documents")
	cmd.Flags().BoolVar(&f.noUnstructured, "no-unstructured", false, "Disable unstructured parsing")
	cmd.Flags().StringVar(&f.embeddingModel, "embedding-model", "", "Embedding model (default from config)")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Chunk size in tokens (default from config)")
	cmd.Flags().IntVar(&f.chunkOverlap, "chunk-overlap", 0, "Chunk overlap in tokens (default from config)")
	cmd.Flags().StringVar(&f.chunker, "chunker", "", "Chunker (default from config)")
}

// params applies the flags that were set on top of the config defaults.
func (f *indexingFlags) params(cmd *cobra.Command, cfg *config.Config) (models.IndexingParams, error) {
	params := cfg.IndexingParams()
	if cmd.Flags().Changed("ocr") {
		params.OCR = f.ocr
	}
	if f.noUnstructured {
		params.Unstructured = false
	}
	if f.embeddingModel != "" {
		params.EmbeddingParams.EmbeddingModel = f.embeddingModel
	}
	if f.chunkSize > 0 {
		params.ChunkerParams.ChunkSize = f.chunkSize
	}
	if cmd.Flags().Changed("chunk-overlap") {
		params.ChunkerParams.ChunkOverlap = f.chunkOverlap
	}
	if f.chunker != "" {
		params.ChunkerParams.Chunker = f.chunker
	}

	cp := params.ChunkerParams
	if cp.ChunkSize <= 0 || cp.ChunkOverlap < 0 || cp.ChunkOverlap >= cp.ChunkSize {
		return params, config.ErrInvalidChunking
	}
	return params, nil
}

func newKBCreateCmd() *cobra.Command {
	var (
		files       []string
		folders     []string
		name        string
		description string
		resolve     bool
		syncAfter   bool
		wait        bool
		timeout     time.Duration
		indexing    indexingFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a knowledge base from drive resources",
		Long: `Create a knowledge base from Google Drive files and folders, given by id.

A selected folder is submitted as a single source and indexed recursively
by Stack AI. With --resolve, folders are listed first and their files are
submitted instead.

The new knowledge base becomes the active one.

Examples:
  kb-picker kb create --file 1AbC --file 1DeF --name "Contracts"
  kb-picker kb create --folder 1XyZ --resolve --sync --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			logger := GetLogger()

			if len(files)+len(folders) == 0 {
				return fmt.Errorf("nothing to index: pass --file and/or --folder")
			}
			if err := validation.ValidateResourceIDs(append(append([]string{}, files...), folders...)); err != nil {
				return err
			}
			if err := validation.ValidateKnowledgeBaseName(name); err != nil {
				return err
			}

			env, err := newPickerEnv(nil)
			if err != nil {
				return err
			}
			defer env.Close()

			params, err := indexing.params(cmd, env.cfg)
			if err != nil {
				return err
			}

			svc := env.service
			svc.NewKnowledgeBase(ctx)
			svc.SelectByID(files, folders)

			kb, err := svc.IndexSelected(ctx, services.IndexOptions{
				Name:           name,
				Description:    description,
				Params:         params,
				ResolveFolders: resolve || env.cfg.ResolveFolders,
			})
			if err != nil {
				return authHint(err)
			}

			leaves := len(svc.Tree().LeafResourceIDs())
			notifier := newNotifier(env.cfg)
			notifier.KnowledgeBaseCreated(kb.Name, leaves)
			logger.Debug().Str("kb_id", kb.KnowledgeBaseID).Int("resources", leaves).Msg("Created")

			fmt.Printf("Knowledge base created: %s\n", kb.KnowledgeBaseID)
			fmt.Printf("  Name:      %s\n", kb.Name)
			fmt.Printf("  Sources:   %s\n", strutil.Count(leaves, "resource"))

			if !syncAfter && !wait {
				fmt.Println("Run 'kb-picker kb sync --wait' to index it.")
				return nil
			}
			return syncAndWait(cmd, env, wait, timeout, notifier)
		},
	}

	cmd.Flags().StringSliceVar(&files, "file", nil, "Drive file id to index (repeatable)")
	cmd.Flags().StringSliceVar(&folders, "folder", nil, "Drive folder id to index (repeatable)")
	cmd.Flags().StringVar(&name, "name", "", "Knowledge base name (default: timestamped)")
	cmd.Flags().StringVar(&description, "description", "", "Knowledge base description")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Expand folders into their files before submitting")
	cmd.Flags().BoolVar(&syncAfter, "sync", false, "Trigger indexing after creation")
	cmd.Flags().BoolVar(&wait, "wait", false, "Trigger indexing and wait until every resource is indexed")
	cmd.Flags().DurationVar(&timeout, "timeout", constants.DefaultSyncWaitTimeout, "Maximum time to wait with --wait")
	indexing.register(cmd)

	return cmd
}

func newKBSyncCmd() *cobra.Command {
	var (
		kbID    string
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger indexing of a knowledge base",
		Long: `Trigger indexing of the active knowledge base (or --kb-id).

With --wait the command polls the knowledge base until every resource
recorded for it is indexed, showing progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newPickerEnv(nil)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := activate(env, kbID); err != nil {
				return err
			}
			return syncAndWait(cmd, env, wait, timeout, newNotifier(env.cfg))
		},
	}

	cmd.Flags().StringVar(&kbID, "kb-id", "", "Knowledge base id (default: active)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until every resource is indexed")
	cmd.Flags().DurationVar(&timeout, "timeout", constants.DefaultSyncWaitTimeout, "Maximum time to wait with --wait")

	return cmd
}

// activate switches to kbID when given and selects the resources recorded
// for the active knowledge base.
func activate(env *pickerEnv, kbID string) error {
	ctx := GetContext()
	svc := env.service

	if kbID != "" && kbID != svc.Session().ActiveID() {
		svc.SwitchKnowledgeBase(ctx, kbID)
	}
	if svc.Session().ActiveID() == "" {
		return fmt.Errorf("%w: create one with 'kb-picker kb create' or pass --kb-id", services.ErrNoActiveKnowledgeBase)
	}

	n, err := svc.SelectIndexed(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		GetLogger().Warn().Str("kb_id", svc.Session().ActiveID()).Msg("No resources recorded for this knowledge base; progress cannot be tracked")
	}
	return nil
}

// syncAndWait triggers the sync of the active knowledge base and, with wait,
// follows it to completion.
func syncAndWait(cmd *cobra.Command, env *pickerEnv, wait bool, timeout time.Duration, notifier *notify.Notifier) error {
	ctx := GetContext()
	svc := env.service
	kbID := svc.Session().ActiveID()

	if err := svc.Sync(ctx); err != nil {
		notifier.OperationFailed("sync", err.Error())
		return authHint(err)
	}
	fmt.Printf("Sync triggered for %s\n", kbID)
	if !wait {
		return nil
	}
	if len(svc.Tree().LeafResourceIDs()) == 0 {
		return fmt.Errorf("cannot wait: no resources recorded for %s", kbID)
	}

	tracker := progress.NewSyncTracker(progress.NewReporter(os.Stderr), "Indexing")
	err := svc.WaitForSync(ctx, services.WaitOptions{
		Timeout:    timeout,
		OnProgress: tracker.OnProgress,
	})
	tracker.Done(err)
	if err != nil {
		notifier.OperationFailed("sync", err.Error())
		return authHint(err)
	}

	total := len(svc.Tree().LeafResourceIDs())
	notifier.SyncComplete(kbID, total)
	fmt.Printf("Knowledge base %s is indexed (%s)\n", kbID, strutil.Count(total, "resource"))
	return nil
}

func newKBResourcesCmd() *cobra.Command {
	var (
		kbID         string
		resourcePath string
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the resources of a knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newPickerEnv(nil)
			if err != nil {
				return err
			}
			defer env.Close()

			if kbID == "" {
				kbID = env.service.Session().ActiveID()
			}
			if kbID == "" {
				return services.ErrNoActiveKnowledgeBase
			}

			listed, err := env.client.ListKnowledgeBaseResources(GetContext(), kbID, validation.NormalizeResourcePath(resourcePath))
			if err != nil {
				return authHint(err)
			}
			if jsonOutput {
				return printResourcesJSON(cmd.OutOrStdout(), listed)
			}
			return printResources(cmd.OutOrStdout(), listed, nil)
		},
	}

	cmd.Flags().StringVar(&kbID, "kb-id", "", "Knowledge base id (default: active)")
	cmd.Flags().StringVar(&resourcePath, "path", constants.RootResourcePath, "Directory inside the knowledge base")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")

	return cmd
}

func newKBRemoveCmd() *cobra.Command {
	var (
		kbID         string
		resourcePath string
		resourceID   string
	)

	cmd := &cobra.Command{
		Use:     "rm",
		Aliases: []string{"remove"},
		Short:   "Remove a resource from a knowledge base",
		Long: `Remove the resource at --path from the active knowledge base (or --kb-id).
The drive file itself is not touched.

Examples:
  kb-picker kb rm --path /Reports/q3.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateResourcePath(resourcePath); err != nil {
				return err
			}
			p := validation.NormalizeResourcePath(resourcePath)

			env, err := newPickerEnv(nil)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := activate(env, kbID); err != nil {
				return err
			}
			ctx := GetContext()
			active := env.service.Session().ActiveID()

			if resourceID == "" {
				resourceID = recordedID(env, active, p)
			}
			if resourceID == "" {
				// Unknown to the history; the path still identifies it remotely
				resourceID = p
			}

			r := models.Resource{ResourceID: resourceID, InodePath: models.InodePath{Path: p}}
			if err := env.service.RemoveResource(ctx, r); err != nil {
				newNotifier(env.cfg).OperationFailed("remove", err.Error())
				return authHint(err)
			}
			fmt.Printf("Removed %s from %s\n", p, active)
			return nil
		},
	}

	cmd.Flags().StringVar(&kbID, "kb-id", "", "Knowledge base id (default: active)")
	cmd.Flags().StringVar(&resourcePath, "path", "", "Resource path inside the knowledge base (required)")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "Drive id of the resource (looked up in the history when omitted)")
	cmd.MarkFlagRequired("path")

	return cmd
}

// recordedID finds the id recorded for path in the knowledge base history.
func recordedID(env *pickerEnv, kbID, path string) string {
	recorded, err := env.store.KnowledgeBaseResources(GetContext(), kbID)
	if err != nil {
		GetLogger().Debug().Err(err).Msg("History lookup failed")
		return ""
	}
	for _, rec := range recorded {
		if rec.Path == path {
			return rec.ResourceID
		}
	}
	return ""
}

func newKBHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List knowledge bases used from this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openHistory()
			if err != nil {
				return err
			}
			defer env.Close()

			records, err := env.store.ListKnowledgeBases(GetContext())
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records, env.service.Session().ActiveID())
		},
	}
}

func printHistory(w io.Writer, records []store.KnowledgeBaseRecord, activeID string) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No knowledge bases yet")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tRESOURCES\tLAST USED")
	for _, rec := range records {
		marker := ""
		if rec.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", marker, rec.ID, rec.Name, rec.ResourceCount,
			rec.LastUsedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func newKBSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <kb-id>",
		Short: "Make a knowledge base active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openHistory()
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := GetContext()
			if _, err := env.store.GetKnowledgeBase(ctx, args[0]); errors.Is(err, store.ErrNotFound) {
				GetLogger().Warn().Str("kb_id", args[0]).Msg("Knowledge base is not in the local history")
			} else if err != nil {
				return err
			}

			env.service.SwitchKnowledgeBase(ctx, args[0])
			fmt.Printf("Active knowledge base: %s\n", args[0])
			return nil
		},
	}
}

func newKBForgetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "forget <kb-id>",
		Short: "Drop a knowledge base from the local history",
		Long: `Drop a knowledge base from the local history. The knowledge base itself
is left untouched in Stack AI.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openHistory()
			if err != nil {
				return err
			}
			defer env.Close()

			if args[0] == env.service.Session().ActiveID() && !force {
				if !confirm(fmt.Sprintf("%s is the active knowledge base. Forget it?", args[0])) {
					fmt.Println("Cancelled")
					return nil
				}
			}
			if err := env.service.ForgetKnowledgeBase(GetContext(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Forgot %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")

	return cmd
}

func newKBNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Deactivate the current knowledge base",
		Long: `Deactivate the current knowledge base. The next 'kb create' or picker
session starts from an empty selection. The history is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openHistory()
			if err != nil {
				return err
			}
			defer env.Close()

			env.service.NewKnowledgeBase(GetContext())
			fmt.Println("No knowledge base is active")
			return nil
		},
	}
}

// openHistory builds an offline picker environment: the history and the
// session without an API client. Used by commands that never call the backend.
func openHistory() (*pickerEnv, error) {
	cfg, err := config.LoadConfigCSV(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := store.Open(historyPath(cfg))
	if err != nil {
		return nil, err
	}

	svc := services.NewPickerService(nil, nil, services.PickerServiceConfig{
		History: db,
		Logger:  GetLogger(),
	})
	if err := svc.RestoreSession(GetContext()); err != nil {
		db.Close()
		return nil, err
	}
	return &pickerEnv{cfg: cfg, store: db, service: svc}, nil
}

// newNotifier builds the desktop notifier from config.
func newNotifier(cfg *config.Config) *notify.Notifier {
	ncfg := notify.DefaultConfig()
	ncfg.Enabled = cfg.Notifications
	return notify.NewNotifier(ncfg, GetLogger())
}

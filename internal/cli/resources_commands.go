package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/state"
	"github.com/kbpicker/kb-picker/internal/util/filter"
	strutil "github.com/kbpicker/kb-picker/internal/util/strings"
)

// newResourcesCmd creates the 'resources' command group.
func newResourcesCmd() *cobra.Command {
	resourcesCmd := &cobra.Command{
		Use:     "resources",
		Aliases: []string{"res"},
		Short:   "Browse the Google Drive connection",
	}
	resourcesCmd.AddCommand(newResourcesLsCmd())
	return resourcesCmd
}

func newResourcesLsCmd() *cobra.Command {
	var (
		folderID   string
		search     string
		include    string
		exclude    string
		sortBy     string
		desc       bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the children of a drive folder",
		Long: `List the direct children of a folder in the Google Drive connection.
Without --folder-id the drive root is listed.

Folders are listed first. When a knowledge base is active, the status
column shows the picker's view of each resource.

Examples:
  kb-picker resources ls
  kb-picker resources ls --folder-id 1AbC --sort date --desc
  kb-picker resources ls --include "*.pdf,*.docx" --search report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := filter.ParseSortField(sortBy)
			if err != nil {
				return err
			}

			env, err := newPickerEnv(nil)
			if err != nil {
				return err
			}
			defer env.Close()

			svc := env.service
			if err := svc.FetchChildren(GetContext(), folderID); err != nil {
				return authHint(err)
			}
			children, _ := svc.Tree().Children(folderID)

			children = filter.Apply(children, filter.Config{
				Include:     filter.ParsePatternList(include),
				Exclude:     filter.ParsePatternList(exclude),
				Search:      searchTerms(search),
				KeepFolders: true,
			})
			filter.Sort(children, field, desc)

			if jsonOutput {
				return printResourcesJSON(cmd.OutOrStdout(), children)
			}
			if folderID != state.RootID {
				folder, err := env.client.GetResource(GetContext(), svc.ConnectionID(), folderID)
				if err != nil {
					GetLogger().Debug().Err(err).Str("folder_id", folderID).Msg("Folder lookup failed")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/ (%s)\n\n", folder.InodePath.Path, strutil.Count(len(children), "item"))
				}
			}
			return printResources(cmd.OutOrStdout(), children, svc.Overlay())
		},
	}

	cmd.Flags().StringVar(&folderID, "folder-id", state.RootID, "Folder to list (default: drive root)")
	cmd.Flags().StringVar(&search, "search", "", "Only names containing every word")
	cmd.Flags().StringVar(&include, "include", "", "Comma-separated glob patterns to include (folders always shown)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated glob patterns to exclude")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "Sort by name or date")
	cmd.Flags().BoolVar(&desc, "desc", false, "Reverse the sort order (folders stay first)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")

	return cmd
}

// searchTerms splits a search string into the AND-ed terms filter expects.
func searchTerms(search string) []string {
	return strings.Fields(search)
}

// statusSource returns the display status of a resource.
type statusSource interface {
	Effective(r models.Resource) string
}

func printResources(w io.Writer, resources []models.Resource, status statusSource) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNAME\tID\tMODIFIED\tSTATUS")
	for _, r := range resources {
		kind := "file"
		name := r.Name()
		if r.IsDirectory() {
			kind = "dir"
			name += "/"
		}
		st := r.Status
		if status != nil {
			st = status.Effective(r)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", kind, name, r.ResourceID, formatTime(r.UpdatedAt), st)
	}
	return tw.Flush()
}

func printResourcesJSON(w io.Writer, resources []models.Resource) error {
	if resources == nil {
		resources = []models.Resource{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resources)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

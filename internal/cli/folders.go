package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stashbox/stashbox/internal/services"
	"github.com/stashbox/stashbox/internal/util/filter"
	strutil "github.com/stashbox/stashbox/internal/util/strings"
	"github.com/stashbox/stashbox/internal/validation"
)

// newFoldersCmd creates the 'folders' command group.
func newFoldersCmd() *cobra.Command {
	foldersCmd := &cobra.Command{
		Use:   "folders",
		Short: "Folder operations (create, list)",
	}

	foldersCmd.AddCommand(newFoldersCreateCmd())
	foldersCmd.AddCommand(newFoldersListCmd())

	return foldersCmd
}

func newFoldersCreateCmd() *cobra.Command {
	var parentID string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			folder, err := s.fileService().CreateFolder(GetContext(), args[0], parentID)
			if err != nil {
				return err
			}
			fmt.Printf("Created folder %s (ID: %s)\n", folder.Name, folder.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&parentID, "parent-id", "", "Create inside this folder (default: top level)")
	return cmd
}

func newFoldersListCmd() *cobra.Command {
	var fc filter.Config

	cmd := &cobra.Command{
		Use:   "list [folder-id]",
		Short: "List a folder (top level when no ID is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folderID := ""
			if len(args) == 1 {
				folderID = args[0]
			}

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			contents, err := s.fileService().ListFolder(GetContext(), folderID)
			if err != nil {
				return err
			}
			if !fc.IsZero() {
				kept := contents.Items[:0]
				for _, it := range contents.Items {
					if it.IsFolder || fc.Match(it.Name) {
						kept = append(kept, it)
					}
				}
				contents.Items = kept
			}
			printListing(os.Stdout, contents)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&fc.Include, "include", nil, "Only show files matching these globs")
	cmd.Flags().StringSliceVar(&fc.Exclude, "exclude", nil, "Hide files matching these globs")
	cmd.Flags().StringSliceVar(&fc.Search, "search", nil, "Only show files whose name contains every term")
	return cmd
}

func printListing(out io.Writer, contents *services.FolderContents) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tID\tNAME\tSIZE\tMODIFIED\tKEY")
	for _, it := range contents.Items {
		kind, size := "file", validation.FormatBytes(it.Size)
		if it.IsFolder {
			kind, size = "dir", "-"
		}
		modified := "-"
		if !it.ModTime.IsZero() {
			modified = it.ModTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", kind, it.ID, it.Name, size, modified, it.ObjectKey)
	}
	w.Flush()

	folders, files := contents.Counts()
	fmt.Fprintf(out, "\n%s, %s\n", strutil.Count(folders, "folder"), strutil.Count(files, "file"))
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/services"
	"github.com/stashbox/stashbox/internal/util/filter"
	strutil "github.com/stashbox/stashbox/internal/util/strings"
	"github.com/stashbox/stashbox/internal/validation"
)

// newFilesCmd creates the 'files' command group.
func newFilesCmd() *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "File operations (upload, download, delete, link)",
	}

	filesCmd.AddCommand(newUploadCmd())
	filesCmd.AddCommand(newDownloadCmd())
	filesCmd.AddCommand(newDeleteCmd())
	filesCmd.AddCommand(newLinkCmd())

	return filesCmd
}

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var (
		folderID       string
		maxConcurrent  int
		notifyDone     bool
		cleanupOrphans bool
		fc             filter.Config
	)

	cmd := &cobra.Command{
		Use:   "upload <file|dir> [file|dir...]",
		Short: "Upload files",
		Long: `Upload one or more files. Each file is validated (size, name, type)
before it is queued; rejected files are reported and skipped.

Directories are expanded to the files they contain (one level unless
--recursive). --include and --exclude filter expanded files.

Examples:
  stashbox upload report.pdf photos/*.jpg
  stashbox upload ./scans --recursive --include "*.pdf" --folder-id abc123
  stashbox upload *.docx --max-concurrent 5 --notify`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxConcurrent < 0 || maxConcurrent > constants.MaxConcurrentTransfers {
				return fmt.Errorf("--max-concurrent must be between 1 and %d, got %d",
					constants.MaxConcurrentTransfers, maxConcurrent)
			}

			paths, err := filter.ExpandPaths(args, fc)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no files matched")
			}

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			ts, err := s.transferService(maxConcurrent, cleanupOrphans)
			if err != nil {
				return err
			}

			res, qerr := ts.QueueFiles(paths, folderID)
			for _, r := range res.Rejected {
				fmt.Fprintf(os.Stderr, "Skipped %s: %s\n", r.Candidate.DisplayName, r.Err.Reason)
			}
			if qerr != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", qerr)
			}
			if len(res.Added) == 0 {
				return fmt.Errorf("none of the %s can be uploaded", strutil.Count(len(paths), "file"))
			}

			dest := folderID
			if dest == "" {
				dest = "top level"
			}
			return runQueued(GetContext(), s, ts, runOptions{kind: "upload", dest: dest, notify: notifyDone})
		},
	}

	cmd.Flags().StringVar(&folderID, "folder-id", "", "Upload into this folder (default: top level)")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0,
		fmt.Sprintf("Transfers per window, 1-%d (default: config value)", constants.MaxConcurrentTransfers))
	cmd.Flags().BoolVar(&notifyDone, "notify", false, "Show a desktop notification when the batch ends")
	cmd.Flags().BoolVar(&cleanupOrphans, "cleanup-orphans", false, "Delete stored objects whose record could not be created")
	cmd.Flags().BoolVarP(&fc.Recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().StringSliceVar(&fc.Include, "include", nil, "Only upload expanded files matching these globs")
	cmd.Flags().StringSliceVar(&fc.Exclude, "exclude", nil, "Skip expanded files matching these globs")
	cmd.Flags().BoolVar(&fc.Hidden, "hidden", false, "Include dot files when expanding directories")

	return cmd
}

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	var (
		outputDir     string
		folderID      string
		maxConcurrent int
		notifyDone    bool
	)

	cmd := &cobra.Command{
		Use:   "download [object-key...]",
		Short: "Download files",
		Long: `Download objects by key, or every file of a folder with --folder-id.
Interrupted downloads resume from the partial file on the next run.

Examples:
  stashbox download users/u1/1700000000000-ab12/report.pdf --outdir ./out
  stashbox download --folder-id abc123 --outdir ./reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && folderID == "" {
				return errors.New("give at least one object key or --folder-id")
			}

			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			reqs := make([]services.DownloadRequest, 0, len(args))
			for _, key := range args {
				reqs = append(reqs, services.DownloadRequest{ObjectKey: key})
			}
			if folderID != "" {
				contents, err := s.fileService().ListFolder(GetContext(), folderID)
				if err != nil {
					return err
				}
				for _, it := range contents.Items {
					if it.IsFolder {
						continue
					}
					reqs = append(reqs, services.DownloadRequest{ObjectKey: it.ObjectKey, Name: it.Name, Size: it.Size})
				}
			}

			ts, err := s.transferService(maxConcurrent, false)
			if err != nil {
				return err
			}
			if _, err := ts.QueueDownloads(reqs, outputDir); err != nil {
				return err
			}

			abs, _ := filepath.Abs(outputDir)
			return runQueued(GetContext(), s, ts, runOptions{kind: "download", dest: abs, notify: notifyDone})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "outdir", "o", ".", "Directory to download into")
	cmd.Flags().StringVar(&folderID, "folder-id", "", "Download every file in this folder")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0,
		fmt.Sprintf("Transfers per window, 1-%d (default: config value)", constants.MaxConcurrentTransfers))
	cmd.Flags().BoolVar(&notifyDone, "notify", false, "Show a desktop notification when the batch ends")

	return cmd
}

// newDeleteCmd creates the 'delete' command.
func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <file-id> [file-id...]",
		Short: "Delete files",
		Long: `Delete files by record ID. The record is removed first and then the
stored object; if the object cannot be removed the file is still gone
and a warning names the leftover key.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			deleted, failed := s.fileService().DeleteFiles(GetContext(), args)
			fmt.Printf("Deleted %s\n", strutil.Count(deleted, "file"))
			if len(failed) == 0 {
				return nil
			}

			ids := make([]string, 0, len(failed))
			for id := range failed {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			var b strings.Builder
			fmt.Fprintf(&b, "%s could not be deleted", strutil.Count(len(failed), "file"))
			for _, id := range ids {
				fmt.Fprintf(&b, "\n  %s: %v", id, failed[id])
			}
			return errors.New(b.String())
		},
	}
	return cmd
}

// newLinkCmd creates the 'files link' command.
func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <object-key>",
		Short: "Print a temporary download link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateFilename(filepath.Base(args[0])); err != nil {
				return err
			}
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close()

			cred, err := s.fileService().PreviewURL(GetContext(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(cred.SignedURL)
			fmt.Fprintf(os.Stderr, "Expires %s\n", cred.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	return cmd
}

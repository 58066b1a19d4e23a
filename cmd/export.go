package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/progress"
	"github.com/ziadkadry99/flowtrace/internal/retention"
)

var exportAll bool

var exportCmd = &cobra.Command{
	Use:   "export [session-id]",
	Short: "Export correlated sessions to the export directory",
	Long: `Writes each session's correlated events and a summary under
retention.export_dir/<session-id>, compressed and sealed as configured.
An existing export of the same session is replaced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == exportAll {
			return errors.New("give either a session id or --all")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := context.Background()
		mgr := a.pipeline.Retention

		if !exportAll {
			res, err := mgr.ExportSession(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			printExport(res)
			return nil
		}

		rep := progress.NewReporter("Exporting")
		if jsonOutput {
			rep = progress.Nop{}
		}
		results, err := mgr.ExportAll(ctx, rep)
		if jsonOutput {
			if perr := printJSON(results); perr != nil {
				return perr
			}
			return err
		}
		for _, res := range results {
			printExport(res)
		}
		if err != nil {
			return fmt.Errorf("some exports failed: %w", err)
		}
		return nil
	},
}

func printExport(res *retention.ExportResult) {
	note := ""
	if len(res.Summary.Truncated) > 0 {
		note = " (truncated)"
	}
	fmt.Printf("%s: %d events%s -> %s\n", res.SessionID, res.Written, note, res.Dir)
}

func init() {
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every recorded session")
	rootCmd.AddCommand(exportCmd)
}

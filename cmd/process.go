package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/pipeline"
	"github.com/ziadkadry99/flowtrace/internal/progress"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
)

var (
	processAll    bool
	skipPrototype bool
	skipExport    bool
	processRetain bool
	processMode   string
	processTitle  string
	processNotes  string
)

var processCmd = &cobra.Command{
	Use:   "process [session-id]",
	Short: "Run the end-of-session batch for one or all sessions",
	Long: `Correlates a session, stores its understanding, generates a prototype
bundle and exports it. With --retain the retention policy is applied
afterwards, but only when the export succeeded. A failed stage is
reported without undoing the stages before it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == processAll {
			return errors.New("give either a session id or --all")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := context.Background()

		mode := a.cfg.Prototype.Mode
		if processMode != "" {
			mode = processMode
		}
		opts := pipeline.Options{
			Understand: true,
			Prototype:  !skipPrototype,
			Mode:       prototype.ParseMode(mode),
			Title:      processTitle,
			Notes:      processNotes,
			Export:     !skipExport,
			Retain:     processRetain,
		}

		ids := args
		if processAll {
			sessions, err := a.pipeline.Retention.Sessions(ctx)
			if err != nil {
				return err
			}
			ids = make([]string, len(sessions))
			for i, s := range sessions {
				ids[i] = s.ID
			}
		}

		rep := progress.Reporter(progress.Nop{})
		if processAll && !jsonOutput {
			rep = progress.NewReporter("Processing")
		}
		rep.Start(len(ids))
		var (
			outcomes []*pipeline.Outcome
			failed   int
		)
		for i, id := range ids {
			rep.Update(i+1, id)
			// Retention runs once, after the last session.
			opts.Retain = processRetain && i == len(ids)-1
			out, err := a.pipeline.Process(ctx, id, opts)
			if err != nil {
				if !processAll {
					return err
				}
				a.logger.Warn("processing failed", "session", id, "error", err)
				failed++
				continue
			}
			if len(out.Errors) > 0 {
				failed++
			}
			outcomes = append(outcomes, out)
		}
		rep.Finish()

		if jsonOutput {
			if !processAll && len(outcomes) == 1 {
				return printJSON(outcomes[0])
			}
			return printJSON(outcomes)
		}
		for _, out := range outcomes {
			printOutcome(out)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d session(s) had failed stages", failed, len(ids))
		}
		return nil
	},
}

func printOutcome(out *pipeline.Outcome) {
	fmt.Printf("%s: %d events\n", out.SessionID, out.Events)
	if u := out.Understanding; u != nil {
		fmt.Printf("  understanding: %d segment(s)\n", len(u.Segments))
	}
	if b := out.Bundle; b != nil {
		fmt.Printf("  prototype:     %s (%s)\n", b.DisplayName, b.Dir)
	}
	if ex := out.Export; ex != nil {
		fmt.Printf("  export:        %s\n", ex.Dir)
	}
	if r := out.Retention; r != nil {
		fmt.Printf("  retention:     %d session(s) purged\n", len(r.SessionsPurged))
	}
	for _, e := range out.Errors {
		fmt.Printf("  %s failed: %s\n", e.Stage, e.Err)
	}
}

func init() {
	processCmd.Flags().BoolVar(&processAll, "all", false, "process every recorded session")
	processCmd.Flags().BoolVar(&skipPrototype, "no-prototype", false, "skip prototype generation")
	processCmd.Flags().BoolVar(&skipExport, "no-export", false, "skip the export")
	processCmd.Flags().BoolVar(&processRetain, "retain", false, "apply retention after a successful export")
	processCmd.Flags().StringVar(&processMode, "mode", "", "prototype outputs: cursor, gpt or both (default from config)")
	processCmd.Flags().StringVar(&processTitle, "title", "", "workflow title used in the prompts")
	processCmd.Flags().StringVar(&processNotes, "notes", "", "free-text notes for the build prompt")
	rootCmd.AddCommand(processCmd)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/pipeline"
)

var understandCmd = &cobra.Command{
	Use:   "understand <session-id>",
	Short: "Infer intents, context, dependencies and goals for a session",
	Long: `Runs the understanding engine over the correlated session, stores the
result in the analysis database (replacing any earlier result for the
session) and prints the workflow segments with their goals.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.pipeline.Process(context.Background(), args[0], pipeline.Options{Understand: true})
		if err != nil {
			return err
		}
		if err := stageErr(out, pipeline.StageUnderstand); err != nil {
			return err
		}
		r := out.Understanding
		if jsonOutput {
			return printJSON(r)
		}

		fmt.Printf("Session %s: %d events, %d segment(s), %d dependency edge(s)\n\n",
			r.SessionID, len(r.Intents), len(r.Segments), len(r.Dependencies))
		for _, g := range r.Goals {
			seg := r.Segments[g.SegmentIndex]
			fmt.Printf("  [%d-%d] %-22s %.2f  %s\n", seg.Start, seg.End, g.Category, g.Confidence, g.Description)
		}
		return nil
	},
}

// stageErr turns a recorded stage failure into a command error.
func stageErr(out *pipeline.Outcome, stage string) error {
	for _, e := range out.Errors {
		if e.Stage == stage {
			return fmt.Errorf("%s failed: %s", stage, e.Err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(understandCmd)
}

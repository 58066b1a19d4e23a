package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/prototype"
)

var (
	protoPattern string
	protoMode    string
	protoTitle   string
	protoNotes   string
	protoHTML    bool
)

var prototypeCmd = &cobra.Command{
	Use:   "prototype [session-id]",
	Short: "Generate an automation prototype bundle",
	Long: `Writes a prototype bundle for a session, or for a recurring pattern read
from a JSON file with --pattern: a script skeleton, a summary, a build
prompt (cursor mode), a workflow report (gpt mode) and a manifest.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == (protoPattern != "") {
			return errors.New("give either a session id or --pattern, not both")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		mode := a.cfg.Prototype.Mode
		if protoMode != "" {
			mode = protoMode
		}
		opts := prototype.Options{Mode: prototype.ParseMode(mode), Title: protoTitle, Notes: protoNotes}
		ctx := context.Background()

		var b *prototype.Bundle
		if protoPattern != "" {
			p, err := readPattern(protoPattern)
			if err != nil {
				return err
			}
			b, err = a.pipeline.Generator.GenerateFromPattern(ctx, *p, opts)
			if err != nil {
				return err
			}
		} else {
			res, err := a.pipeline.Correlator.Correlate(ctx, args[0])
			if err != nil {
				return err
			}
			b, err = a.pipeline.Generator.GenerateFromResult(ctx, res, opts)
			if err != nil {
				return err
			}
		}

		if protoHTML {
			page, err := prototype.RenderHTML(b.Dir)
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(b.Dir, "index.html"), page, 0o644); err != nil {
				return fmt.Errorf("writing index.html: %w", err)
			}
		}

		if jsonOutput {
			return printJSON(b)
		}
		fmt.Printf("%s\n  bundle: %s\n  mode:   %s\n", b.DisplayName, b.Dir, b.Mode)
		if b.Report == "" && opts.Mode.WantsReport() {
			fmt.Println("  report: not generated (collaborator unavailable)")
		}
		return nil
	},
}

func readPattern(path string) (*prototype.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern: %w", err)
	}
	var p prototype.Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pattern %s: %w", path, err)
	}
	return &p, nil
}

func init() {
	prototypeCmd.Flags().StringVar(&protoPattern, "pattern", "", "generate from a pattern JSON file instead of a session")
	prototypeCmd.Flags().StringVar(&protoMode, "mode", "", "outputs to produce: cursor, gpt or both (default from config)")
	prototypeCmd.Flags().StringVar(&protoTitle, "title", "", "workflow title used in the prompts")
	prototypeCmd.Flags().StringVar(&protoNotes, "notes", "", "free-text notes for the build prompt")
	prototypeCmd.Flags().BoolVar(&protoHTML, "html", false, "also render the bundle to index.html")
	rootCmd.AddCommand(prototypeCmd)
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .flowtrace.yml with an interactive wizard",
	Long: `Asks for the report provider, data directory, prototype mode, retention
window and log globs, then writes .flowtrace.yml in the current directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(config.FileName); err == nil && !initForce {
			return fmt.Errorf("%s already exists; use --force to overwrite it", config.FileName)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

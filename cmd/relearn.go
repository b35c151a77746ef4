package cmd

import (
	"scantool/internal/cmd/relearn"

	"github.com/spf13/cobra"
)

var relearnCmd = &cobra.Command{
	Use:   "relearn",
	Short: "Run vehicle relearn and adaptation procedures",
	RunE:  relearn.List,
}

var relearnShowCmd = &cobra.Command{
	Use:   "show <procedure>",
	Short: "Show the steps and preconditions of a procedure",
	Args:  cobra.ExactArgs(1),
	RunE:  relearn.Show,
}

var relearnRunCmd = &cobra.Command{
	Use:   "run <procedure>",
	Short: "Execute a relearn procedure step by step",
	Args:  cobra.ExactArgs(1),
	RunE:  relearn.Execute,
}

func init() {
	relearnRunCmd.Flags().String("export", "", "Write the run log to a JSON file")
	relearnRunCmd.Flags().Bool("skip-preconditions", false, "Run even when precondition checks fail")
	relearnCmd.AddCommand(relearnShowCmd, relearnRunCmd)
	rootCmd.AddCommand(relearnCmd)
}

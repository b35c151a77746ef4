package cmd

import (
	"scantool/internal/cmd/dtc"

	"github.com/spf13/cobra"
)

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read, clear and export diagnostic trouble codes",
	RunE:  dtc.Run,
}

func init() {
	dtcCmd.Flags().Bool("clear", false, "Clear current and pending codes (mode 04)")
	dtcCmd.Flags().Bool("history", false, "Show every code seen this session")
	dtcCmd.Flags().String("export", "", "Write the code snapshot to a JSON file")
	dtcCmd.Flags().Bool("freeze", false, "Show the freeze frame captured with the first code")
	rootCmd.AddCommand(dtcCmd)
}

package cmd

import (
	"scantool/internal/cmd/info"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show adapter and vehicle identification",
	RunE:  info.Run,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

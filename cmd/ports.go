package cmd

import (
	"scantool/internal/cmd/ports"

	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and find connected adapters",
	RunE:  ports.Run,
}

func init() {
	portsCmd.Flags().Bool("probe", false, "Probe each port for an ELM327 adapter")
	portsCmd.Flags().Bool("pick", false, "Interactively pick a port")
	rootCmd.AddCommand(portsCmd)
}

package cmd

import (
	"scantool/internal/cmd/ecu"

	"github.com/spf13/cobra"
)

var ecuCmd = &cobra.Command{
	Use:   "ecu",
	Short: "Scan, back up and program control modules",
	RunE:  ecu.Scan,
}

var ecuFlashCmd = &cobra.Command{
	Use:   "flash <address> <firmware file>",
	Short: "Flash a firmware image to a module",
	Args:  cobra.ExactArgs(2),
	RunE:  ecu.Flash,
}

var ecuBackupCmd = &cobra.Command{
	Use:   "backup <address> <output file>",
	Short: "Back up module memory to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  ecu.Backup,
}

func init() {
	ecuBackupCmd.Flags().String("size", "1MB", "Amount of memory to read (bytes, KB or MB)")
	ecuCmd.AddCommand(ecuFlashCmd, ecuBackupCmd)
	rootCmd.AddCommand(ecuCmd)
}

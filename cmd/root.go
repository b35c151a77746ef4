package cmd

import (
	"fmt"
	"os"
	"time"

	"scantool/internal/cmd/root"
	"scantool/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "scantool",
	Short: "OBD-II diagnostic scan tool for ELM327 adapters",
	Run:   root.Run,
}

func init() {
	cobra.OnInitialize(initLogger)

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().Bool("no-tui", false, "Run without TUI (for testing)")
	rootCmd.PersistentFlags().Bool("mock", false, "Replay a canned adapter session instead of real hardware")
	rootCmd.PersistentFlags().String("record", "", "Record the adapter session to a capture file")
	rootCmd.PersistentFlags().String("transport", "serial", "Transport kind: serial, tcp, ws, ble or replay")
	rootCmd.PersistentFlags().String("address", "", "Device path, host:port, URL or BLE name (serial auto-detects when empty)")
	rootCmd.PersistentFlags().Int("baud", 38400, "Baud rate for serial connection")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "Per-command timeout")
	rootCmd.PersistentFlags().Duration("interval", time.Second, "Live data refresh interval")
	rootCmd.Flags().String("log", "", "Write sampled readings to a CSV file on exit")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("no-tui", rootCmd.PersistentFlags().Lookup("no-tui"))
	viper.BindPFlag("mock", rootCmd.PersistentFlags().Lookup("mock"))
	viper.BindPFlag("record", rootCmd.PersistentFlags().Lookup("record"))
	viper.BindPFlag("transport", rootCmd.PersistentFlags().Lookup("transport"))
	viper.BindPFlag("address", rootCmd.PersistentFlags().Lookup("address"))
	viper.BindPFlag("baud", rootCmd.PersistentFlags().Lookup("baud"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("interval", rootCmd.PersistentFlags().Lookup("interval"))

	// Set default values
	viper.SetDefault("debug", false)
	viper.SetDefault("no-tui", false)
	viper.SetDefault("mock", false)
	viper.SetDefault("transport", "serial")
	viper.SetDefault("baud", 38400)
	viper.SetDefault("timeout", 5*time.Second)
	viper.SetDefault("interval", time.Second)
}

func initLogger() {
	log.InitLogger(viper.GetBool("debug"))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

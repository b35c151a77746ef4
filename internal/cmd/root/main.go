package root

import (
	"fmt"

	"scantool/internal/cmd/connect"
	"scantool/internal/displayer"
	"scantool/internal/models"
	"scantool/internal/obd"
	"scantool/pkg/log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func Run(cmd *cobra.Command, args []string) {
	client, err := connect.Open(cmd.Context())
	if err != nil {
		log.Fatal("failed to connect", zap.Error(err))
	}
	defer client.Disconnect()

	if viper.GetBool("no-tui") {
		printSummary(client)
		return
	}

	d := displayer.New(client, viper.GetDuration("interval"))
	if err := d.Run(); err != nil {
		fmt.Printf("error: %v\n", err)
	}

	if path, _ := cmd.Flags().GetString("log"); path != "" {
		if m := client.Monitor(); m != nil {
			if err := m.ExportCSV(path); err != nil {
				log.Error("failed to write readings log", zap.Error(err))
			} else {
				fmt.Printf("Readings written to %s\n", path)
			}
		}
	}
}

func printSummary(client *obd.Client) {
	info := client.VehicleInfo()
	fmt.Printf("Protocol: %s\n", info.Protocol)
	if info.VIN != "" {
		fmt.Printf("VIN:      %s\n", info.VIN)
	}

	if status, err := client.Status(); err == nil {
		mil := color.GreenString("off")
		if status.MILOn {
			mil = color.RedString("ON")
		}
		fmt.Printf("MIL: %s, stored codes: %d\n", mil, status.DTCCount)
	}

	codes, err := client.ReadDTCs(models.StatusCurrent)
	if err != nil {
		log.Error("failed to read trouble codes", zap.Error(err))
		return
	}

	fmt.Println("Current DTC Error Codes:")
	if len(codes) == 0 {
		fmt.Println("No error codes.")
		return
	}
	for _, code := range codes {
		fmt.Printf("- %s: %s\n", color.RedString(code.Code), code.Description)
	}
}

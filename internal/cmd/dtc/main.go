// Package dtc implements the trouble code command: read all three
// fault stores, optionally clear and export.
package dtc

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"scantool/internal/cmd/connect"
	dtccodec "scantool/internal/dtc"
	"scantool/internal/models"
	"scantool/internal/obd"
)

var statusColors = map[models.DTCStatus]func(format string, a ...interface{}) string{
	models.StatusCurrent:   color.RedString,
	models.StatusPending:   color.YellowString,
	models.StatusPermanent: color.MagentaString,
}

func Run(cmd *cobra.Command, args []string) error {
	client, err := connect.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if clear, _ := cmd.Flags().GetBool("clear"); clear {
		if err := client.ClearDTCs(); err != nil {
			return fmt.Errorf("clear codes: %w", err)
		}
		fmt.Println("Codes cleared. Permanent codes stay until the ECU ages them out.")
	}

	for _, status := range []models.DTCStatus{models.StatusCurrent, models.StatusPending, models.StatusPermanent} {
		codes, err := client.ReadDTCs(status)
		if err != nil {
			fmt.Printf("%s: read failed: %v\n", status, err)
			continue
		}
		printSet(status, codes)
	}

	if freeze, _ := cmd.Flags().GetBool("freeze"); freeze {
		printFreezeFrame(client)
	}

	if history, _ := cmd.Flags().GetBool("history"); history {
		fmt.Println("\nSession history:")
		for _, code := range client.DTCHistory() {
			fmt.Printf("  %s  %s  %s\n", code.DetectedAt.Format("15:04:05"), code.Code, code.Description)
		}
	}

	if path, _ := cmd.Flags().GetString("export"); path != "" {
		if err := client.ExportDTCs(path); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("Snapshot written to %s\n", path)
	}
	return nil
}

// printFreezeFrame shows the conditions stored with frame 0.
func printFreezeFrame(client *obd.Client) {
	code, err := client.FreezeFrameDTC(0)
	if err != nil || code == "" {
		fmt.Println("\nNo freeze frame stored.")
		return
	}
	fmt.Printf("\nFreeze frame for %s:\n", color.RedString(code))
	for _, pid := range []byte{obd.PIDEngineRPM, obd.PIDCoolantTemp, obd.PIDVehicleSpeed, obd.PIDShortFuelTrim1} {
		reading, err := client.FreezeFrame(pid, 0)
		if err != nil {
			continue
		}
		fmt.Printf("  %-28s %7.1f %s\n", reading.Name, reading.Value, reading.Unit)
	}
}

func printSet(status models.DTCStatus, codes []models.DTC) {
	paint := statusColors[status]
	fmt.Printf("\n%s codes: %d\n", status, len(codes))
	for _, code := range codes {
		fmt.Printf("  %s  %-45s %s / %s\n",
			paint("%s", code.Code),
			code.Description,
			dtccodec.System(code.Code),
			dtccodec.Severity(code.Code))
	}
}

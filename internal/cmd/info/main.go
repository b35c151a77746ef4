// Package info implements the identification command.
package info

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"scantool/internal/cmd/connect"
	"scantool/internal/obd"
)

func Run(cmd *cobra.Command, args []string) error {
	client, err := connect.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	adapter := client.AdapterInfo()
	fmt.Println(color.CyanString("Adapter"))
	fmt.Printf("  Version:   %s\n", adapter.Version)
	fmt.Printf("  Device:    %s\n", adapter.DeviceID)
	fmt.Printf("  Voltage:   %.1f V\n", adapter.Voltage)

	vehicle := client.VehicleInfo()
	fmt.Println(color.CyanString("Vehicle"))
	fmt.Printf("  Protocol:  %s\n", vehicle.Protocol)
	fmt.Printf("  VIN:       %s\n", orUnknown(vehicle.VIN))
	fmt.Printf("  Cal ID:    %s\n", orUnknown(vehicle.CalibrationID))
	fmt.Printf("  PIDs:      %d advertised\n", len(vehicle.SupportedPIDs))

	if status, err := client.Status(); err == nil {
		mil := color.GreenString("off")
		if status.MILOn {
			mil = color.RedString("ON")
		}
		fmt.Printf("  MIL:       %s (%d stored codes)\n", mil, status.DTCCount)
	}

	if len(vehicle.SupportedPIDs) > 0 {
		fmt.Println(color.CyanString("Supported parameters"))
		for _, pid := range vehicle.SupportedPIDs {
			if def, ok := obd.Lookup(pid); ok {
				fmt.Printf("  %02X  %s (%s)\n", pid, def.Name, def.Unit)
			}
		}
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

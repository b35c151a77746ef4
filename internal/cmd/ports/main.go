// Package ports implements serial port discovery.
package ports

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scantool/internal/elm"
	"scantool/internal/transport"
)

func Run(cmd *cobra.Command, args []string) error {
	list, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	probe, _ := cmd.Flags().GetBool("probe")
	pick, _ := cmd.Flags().GetBool("pick")

	if pick {
		return pickPort(list)
	}

	for _, p := range list {
		line := p.Device
		if p.Description != "" {
			line += "  (" + p.Description + ")"
		}
		if probe {
			if probePort(p.Device) {
				line += "  " + color.GreenString("ELM327")
			} else {
				line += "  " + color.New(color.Faint).Sprint("no adapter")
			}
		}
		fmt.Println(line)
	}
	return nil
}

func pickPort(list []transport.PortInfo) error {
	items := make([]string, len(list))
	for i, p := range list {
		items[i] = p.Device
		if p.Description != "" {
			items[i] += "  (" + p.Description + ")"
		}
	}

	prompt := promptui.Select{
		Label: "Select adapter port",
		Items: items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return err
	}
	fmt.Printf("Use with: scantool --address %s\n", list[idx].Device)
	return nil
}

// probePort opens the port and checks for the ELM reset banner.
func probePort(device string) bool {
	tr := transport.NewSerial(transport.Config{Address: device, Baud: viper.GetInt("baud")})
	if err := tr.Open(); err != nil {
		return false
	}
	defer tr.Close()
	return elm.NewSession(tr).Probe() == nil
}

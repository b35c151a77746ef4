// Package ecu implements the ECU scan, flash and backup commands.
package ecu

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scantool/internal/cmd/connect"
	"scantool/internal/ecu"
	"scantool/pkg/log"
)

// Scan probes the well-known module addresses and prints what answers.
func Scan(cmd *cobra.Command, args []string) error {
	client, err := connect.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	fmt.Println("Scanning for modules...")
	modules, err := ecu.New(client.Session()).Scan()
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		fmt.Println("No modules responded.")
		return nil
	}

	fmt.Printf("%-8s %-28s %-14s %-10s %s\n", "ADDR", "MODULE", "PART", "SW", "HW")
	for _, m := range modules {
		fmt.Printf("%-8s %-28s %-14s %-10s %s\n",
			m.Address, m.Name, orDash(m.PartNumber), orDash(m.SoftwareVersion), orDash(m.HardwareVersion))
	}
	return nil
}

// Flash reprograms one module from a firmware image. This is the one
// destructive command in the tool, so it double-checks with the
// operator before touching the ECU.
func Flash(cmd *cobra.Command, args []string) error {
	address, path := args[0], args[1]

	firmware, err := ecu.LoadFirmware(path)
	if err != nil {
		return fmt.Errorf("load firmware: %w", err)
	}
	fmt.Printf("Loaded %d bytes from %s\n", len(firmware), path)

	if err := confirmFlash(address); err != nil {
		return err
	}

	client, err := connect.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	prog := ecu.New(client.Session())
	if err := prog.EnterProgramming(address); err != nil {
		return fmt.Errorf("enter programming session: %w", err)
	}
	defer func() {
		if err := prog.ExitProgramming(); err != nil {
			log.Warn("leaving programming session", zap.Error(err))
		}
	}()

	bar := progressbar.DefaultBytes(int64(len(firmware)), "flashing")
	err = prog.Flash(firmware, func(done, total int) {
		bar.Set(done * len(firmware) / total)
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("flash failed: %w", err)
	}

	fmt.Println(color.GreenString("Flash complete, verification passed."))
	return nil
}

// Backup reads a module's memory into a file.
func Backup(cmd *cobra.Command, args []string) error {
	address, path := args[0], args[1]

	sizeFlag, _ := cmd.Flags().GetString("size")
	size, err := parseSize(sizeFlag)
	if err != nil {
		return err
	}

	client, err := connect.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	prog := ecu.New(client.Session())
	if err := prog.EnterProgramming(address); err != nil {
		return fmt.Errorf("enter programming session: %w", err)
	}
	defer func() {
		if err := prog.ExitProgramming(); err != nil {
			log.Warn("leaving programming session", zap.Error(err))
		}
	}()

	bar := progressbar.DefaultBytes(int64(size), "reading")
	data, err := prog.Backup(size, func(done, total int) {
		bar.Set(done)
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), path)
	return nil
}

func confirmFlash(address string) error {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Flashing module %s can brick it if interrupted. Continue", address),
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		return fmt.Errorf("flash aborted")
	}
	return nil
}

// parseSize accepts plain byte counts plus KB/MB suffixes ("512KB", "1MB").
func parseSize(s string) (int, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	mult := 1
	switch {
	case strings.HasSuffix(v, "MB"):
		mult, v = 1024*1024, strings.TrimSuffix(v, "MB")
	case strings.HasSuffix(v, "KB"):
		mult, v = 1024, strings.TrimSuffix(v, "KB")
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

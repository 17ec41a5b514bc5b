package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"roverctl/internal/evdev"
)

var flagScanBLE bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List input devices (and optionally scan for the vehicle)",
	RunE:  runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&flagScanBLE, "ble", false, "also scan for the vehicle over BLE")
}

func runDevices(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	devs, err := evdev.ListDevices()
	if err != nil {
		fmt.Fprintf(out, "input devices unavailable: %v\n", err)
	}
	for _, d := range devs {
		mark := " "
		if d.IsKeyboard() {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-20s name=%q handlers=%s\n", mark, d.Path(), d.Name, strings.Join(d.Handlers, ","))
	}

	if !flagScanBLE {
		return nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := newConnector(cfg, logger).Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ble %s name=%q rssi=%d\n", res.Address.String(), res.LocalName(), res.RSSI)
	return nil
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"roverctl/internal/command"
	"roverctl/internal/remote"
)

var (
	flagInterval time.Duration
	flagLinger   time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send OPCODE...",
	Short: "Connect, send opcodes in order, then disconnect",
	Long: `Send one or more single-character opcodes (W A S D Q E X 0-9).

Commands are spaced by --interval so none is dropped by the transport's
rate limit, and the link is held open for --linger so acknowledgements
can arrive.`,
	Example: `  roverctl send 3 W
  roverctl send --transport ble X`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&flagInterval, "interval", 150*time.Millisecond, "delay between opcodes")
	sendCmd.Flags().DurationVar(&flagLinger, "linger", 500*time.Millisecond, "time to keep the link open after the last opcode")
}

func runSend(cmd *cobra.Command, args []string) (err error) {
	cmds := make([]command.Command, 0, len(args))
	for _, a := range args {
		c, err := command.Parse(a)
		if err != nil {
			return err
		}
		cmds = append(cmds, c)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := remote.New(logger, remote.Options{
		Transport: cfg.TransportMode(),
		WiFi:      cfg.WiFiOptions(),
		BLE:       cfg.BLEOptions(),
		Dialer:    newConnector(cfg, logger),
	})
	defer func() {
		err = multierr.Combine(err, session.Close())
		_ = logger.Sync()
	}()

	if err := session.Connect(ctx); err != nil {
		return err
	}
	// let the initial speed go out first
	if !sleep(ctx, cfg.WiFi.SettleDelay+flagInterval) {
		return ctx.Err()
	}

	for _, c := range cmds {
		if err := session.Send(c); err != nil {
			return err
		}
		if !sleep(ctx, flagInterval) {
			return ctx.Err()
		}
	}
	sleep(ctx, flagLinger)

	for _, c := range session.History() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s ", c)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

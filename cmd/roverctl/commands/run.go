package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"roverctl/internal/config"
	"roverctl/internal/evdev"
	"roverctl/internal/logging"
	"roverctl/internal/remote"
	"roverctl/internal/tui"
)

var (
	flagMode         string
	flagKeyboard     string
	flagGrab         bool
	flagNoTUI        bool
	flagConnect      bool
	flagReleaseAfter time.Duration
	flagDumpEvents   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the vehicle interactively",
	Long: `Drive the vehicle from the terminal UI and/or a Linux keyboard.

The terminal cannot see key releases, so a held key is considered released
after --release-after without a repeat. A keyboard read through evdev
(--keyboard auto or --keyboard /dev/input/eventN) reports real releases.

Keys: W/A/S/D drive, Q/E gripper, X or Esc stop, Up/Down speed,
c connect, t wifi/ble, m hold/toggle, ctrl+z suspend, ctrl+c quit.`,
	RunE: runRemote,
}

func init() {
	runCmd.Flags().StringVarP(&flagMode, "mode", "m", "", "control mode: hold|toggle")
	runCmd.Flags().StringVar(&flagKeyboard, "keyboard", "", "evdev keyboard: auto or a /dev/input/event* path")
	runCmd.Flags().BoolVar(&flagGrab, "grab", false, "EVIOCGRAB the keyboard so keys do not reach the console")
	runCmd.Flags().BoolVar(&flagNoTUI, "no-tui", false, "run without the terminal UI (needs --keyboard)")
	runCmd.Flags().BoolVar(&flagConnect, "connect", false, "connect on start")
	runCmd.Flags().DurationVar(&flagReleaseAfter, "release-after", 0, "terminal key release timeout")
	runCmd.Flags().BoolVar(&flagDumpEvents, "dump-events", false, "log raw keyboard events. Noisy.")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = flagMode
	}
	if flags.Changed("keyboard") && flagKeyboard != "" {
		cfg.Keyboard.Enabled = true
		cfg.Keyboard.Device = ""
		if flagKeyboard != "auto" {
			cfg.Keyboard.Device = flagKeyboard
		}
	}
	if flags.Changed("grab") {
		cfg.Keyboard.Grab = flagGrab
	}
	if flags.Changed("dump-events") {
		cfg.Keyboard.DumpEvents = flagDumpEvents
	}
	if flags.Changed("release-after") {
		cfg.TUI.ReleaseAfter = flagReleaseAfter
	}
}

func runRemote(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagNoTUI && !cfg.Keyboard.Enabled {
		return errors.New("--no-tui needs a keyboard source, use --keyboard auto")
	}

	logger, err := newLogger(cfg, !flagNoTUI)
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := remote.New(logger, remote.Options{
		Transport: cfg.TransportMode(),
		Mode:      cfg.ControlMode(),
		WiFi:      cfg.WiFiOptions(),
		BLE:       cfg.BLEOptions(),
		Dialer:    newConnector(cfg, logger),
	})
	defer func() {
		err = multierr.Combine(err, session.Close())
		_ = logger.Sync()
	}()

	if cfg.Keyboard.Enabled {
		if err := startKeyboard(ctx, cfg, session, logger); err != nil {
			return err
		}
	}

	if flagConnect || flagNoTUI {
		if err := session.Connect(ctx); err != nil {
			logger.Warnw("initial connect failed", "transport", cfg.Transport, "error", err)
			if flagNoTUI && cfg.TransportMode() == remote.BLE {
				return err
			}
		}
	}

	if flagNoTUI {
		logger.Infow("driving from keyboard, ctrl+c to quit", "transport", cfg.Transport)
		<-ctx.Done()
		return nil
	}

	m := tui.New(ctx, session, cfg.TUI.ReleaseAfter, logger.Named("tui"))
	opts := tui.Options()
	if !cfg.TUI.Mouse {
		opts = []tea.ProgramOption{tea.WithAltScreen(), tea.WithReportFocus()}
	}
	p := tea.NewProgram(m, append(opts, tea.WithContext(ctx))...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "terminal ui")
	}
	return nil
}

func startKeyboard(ctx context.Context, cfg config.Config, s *remote.Session, logger logging.Logger) error {
	klog := logger.Named("evdev")
	path, err := evdev.FindKeyboard(cfg.Keyboard.Device, cfg.Keyboard.Probe, klog)
	if err != nil {
		return err
	}
	kb := evdev.NewKeyboard(path, cfg.Keyboard.Grab, s.Controller(), klog)
	kb.DumpEvents = cfg.Keyboard.DumpEvents
	go func() {
		if err := kb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			klog.Errorw("keyboard stopped", "path", path, "error", err)
		}
	}()
	if flagNoTUI {
		fmt.Fprintf(os.Stderr, "reading keyboard %s\n", path)
	}
	return nil
}

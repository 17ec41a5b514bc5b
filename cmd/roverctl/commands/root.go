package commands

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"roverctl/internal/config"
	"roverctl/internal/logging"
	"roverctl/internal/transport/ble"
)

var (
	cfgFile   string
	flagDebug bool
	flagLog   string

	// Transport overrides shared by run and send.
	flagTransport string
	flagURL       string
	flagPrefix    string
	flagScan      time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roverctl",
	Short: "Remote control for a WiFi/BLE robot vehicle",
	Long: `roverctl sends single-character drive commands to a robot vehicle.

W/A/S/D drive, Q/E open and close the gripper, X stops and 0-9 set the
speed. Commands go over the firmware's WebSocket (default) or over a BLE
characteristic.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemote(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLog, "log-file", "", "write logs to this file")

	rootCmd.PersistentFlags().StringVarP(&flagTransport, "transport", "t", "", "transport: wifi|ble")
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "vehicle WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&flagPrefix, "ble-prefix", "", "BLE device name prefix")
	rootCmd.PersistentFlags().DurationVar(&flagScan, "scan-timeout", 0, "BLE scan timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(devicesCmd)
}

// loadConfig layers changed flags over file and environment settings.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = flagDebug
	}
	if flags.Changed("log-file") {
		cfg.LogFile = flagLog
	}
	if flags.Changed("transport") {
		cfg.Transport = flagTransport
	}
	if flags.Changed("url") {
		cfg.WiFi.URL = flagURL
	}
	if flags.Changed("ble-prefix") {
		cfg.BLE.NamePrefix = flagPrefix
	}
	if flags.Changed("scan-timeout") {
		cfg.BLE.ScanTimeout = flagScan
	}
	applyRunFlags(cmd, &cfg)
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, quiet bool) (logging.Logger, error) {
	path := cfg.LogFile
	if quiet && path == "" {
		// the terminal UI owns stdout
		path = filepath.Join(os.TempDir(), "roverctl.log")
	}
	return logging.New("roverctl", path, cfg.Debug)
}

func newConnector(cfg config.Config, logger logging.Logger) *ble.Connector {
	return ble.NewConnector(logger.Named("ble"), cfg.BLE.NamePrefix, cfg.BLE.ScanTimeout)
}

package commands

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/test"

	"roverctl/internal/control"
)

func TestRunFlagsOverrideConfig(t *testing.T) {
	t.Setenv("ROVER_MODE", "hold")
	t.Setenv("ROVER_RELEASE_AFTER", "900ms")

	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().StringVarP(&flagMode, "mode", "m", "", "")
	cmd.Flags().StringVar(&flagKeyboard, "keyboard", "", "")
	cmd.Flags().DurationVar(&flagReleaseAfter, "release-after", 0, "")

	test.That(t, cmd.Flags().Set("mode", "toggle"), test.ShouldBeNil)
	test.That(t, cmd.Flags().Set("keyboard", "auto"), test.ShouldBeNil)

	cfg, err := loadConfig(cmd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ControlMode(), test.ShouldEqual, control.Toggle)
	test.That(t, cfg.Keyboard.Enabled, test.ShouldBeTrue)
	test.That(t, cfg.Keyboard.Device, test.ShouldEqual, "")
	// unchanged flags leave env values alone
	test.That(t, cfg.TUI.ReleaseAfter, test.ShouldEqual, 900*time.Millisecond)
}

func TestInvalidFlagValue(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().StringVarP(&flagMode, "mode", "m", "", "")
	test.That(t, cmd.Flags().Set("mode", "sticky"), test.ShouldBeNil)

	_, err := loadConfig(cmd)
	test.That(t, err, test.ShouldNotBeNil)
}

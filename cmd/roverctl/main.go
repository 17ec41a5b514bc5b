// roverctl drives a small robot vehicle over WiFi (WebSocket) or BLE.
//
// Usage:
//
//	roverctl run                          # terminal UI, wifi transport
//	roverctl run --transport ble          # scan for the vehicle over BLE
//	roverctl run --keyboard auto --no-tui # drive from a Linux keyboard with real key releases
//	roverctl send 5 W X                   # one-shot commands
//	roverctl devices                      # list input devices
//
// Settings are read from an optional YAML file, then ROVER_* environment
// variables, then flags.
package main

import (
	"os"

	"roverctl/cmd/roverctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

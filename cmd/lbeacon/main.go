// Command lbeacon is the process entry point: parse flags, load
// configuration, and run the supervisor until signalled to stop.
// Grounded on the pack's eth2028 entry point (cmd/eth2028/main.go),
// which separates a thin main() from a testable run() returning an
// exit code; flag parsing itself is lifted from urfave/cli/v2 rather
// than stdlib flag, since the pack's eth2030 go.mod already pulls it
// in and it gives --help/usage text for free.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/OpenISDM/lbeacon/internal/config"
	"github.com/OpenISDM/lbeacon/internal/lberr"
	"github.com/OpenISDM/lbeacon/internal/supervisor"
)

// Exit codes spec.md §6 assigns to the process.
const (
	ExitOK             = 0
	ExitBadConfig      = 1
	ExitAlreadyRunning = 2
	ExitDongleMissing  = 3
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	exitCode := ExitOK

	app := &cli.App{
		Name:      "lbeacon",
		Usage:     "indoor-positioning beacon firmware",
		ArgsUsage: "[config-file]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "foreground",
				Usage: "run in the foreground with logging to stderr (the process never detaches and logs to stderr with or without this flag)",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "run a single scan/advertise cycle and exit, for tests",
			},
		},
		Action: func(c *cli.Context) error {
			exitCode = runSupervisor(c.Args().First(), c.Bool("foreground"), c.Bool("once"))
			return nil
		},
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitBadConfig
	}
	return exitCode
}

func runSupervisor(configPath string, foreground, once bool) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitBadConfig
	}
	if foreground {
		cfg.Static.LogEnabled = true
	}

	sup := supervisor.New(cfg, once)
	ctx, cancel := supervisor.WaitForSignal(context.Background())
	defer cancel()

	err = sup.Run(ctx)
	if err != nil && !lberr.Is(err, lberr.Shutdown) {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCodeForErr(err)
}

// exitCodeForErr maps a supervisor.Run outcome to the process exit
// code spec.md §6 assigns it.
func exitCodeForErr(err error) int {
	switch {
	case err == nil, lberr.Is(err, lberr.Shutdown):
		return ExitOK
	case lberr.Is(err, lberr.AlreadyRunning):
		return ExitAlreadyRunning
	case lberr.Is(err, lberr.DongleUnavailable):
		return ExitDongleMissing
	default:
		return ExitBadConfig
	}
}

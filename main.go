// Package main provides an interactive shell for sending raw command
// batches to NFC cards. Frames are typed as hex at a prompt and pushed
// through a PC/SC, libnfc or serial PN532 reader.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tapware/nfcshell/buildinfo"
	"github.com/tapware/nfcshell/reader"
	"github.com/tapware/nfcshell/shell"
)

var longHelp = strings.TrimSpace(`
` + buildinfo.DisplayName + ` opens one reader and drops into a prompt where every line is a
batch of card commands: hex frames separated by ";", sent in order, with
each response printed as hex and ASCII.

Prompt commands:
  <hex>[; <hex>...]    send the batch to the card now
  run <batch>          wait for a card, then send the batch once
  loop <batch>         send the batch to a series of cards, ctrl+c to stop
  help                 short usage hint
  exit                 leave the shell
`)

var exampleUsage = strings.TrimSpace(`
  nfcshell
  nfcshell --driver pcsc --device "ACS ACR122U" -v
  nfcshell --driver uart --device /dev/ttyUSB0 --baud 115200
  nfcshell list
`)

func main() {
	var (
		driverFlag       string
		deviceFlag       string
		baudFlag         int
		plainFlag        bool
		runTimeoutFlag   time.Duration
		loopTimeoutFlag  time.Duration
		loopDelayFlag    time.Duration
		pollIntervalFlag time.Duration
		verboseFlag      int
	)

	root := &cobra.Command{
		Use:     buildinfo.Name,
		Short:   buildinfo.Description,
		Long:    longHelp,
		Example: exampleUsage,
		Version: buildinfo.FullVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(verboseFlag).With().
				Str("session", uuid.New().String()).
				Logger()

			log.Debug().
				Str("version", buildinfo.FullVersion()).
				Str("driver", driverFlag).
				Str("device", deviceFlag).
				Msg("Starting")
			cmd.Flags().Visit(func(f *pflag.Flag) {
				log.Debug().Str("flag", f.Name).Str("value", f.Value.String()).Msg("Flag set")
			})

			transport, err := reader.Open(reader.Config{
				Driver: driverFlag,
				Device: deviceFlag,
				Baud:   baudFlag,
				Plain:  plainFlag,
				Log:    log,
			})
			if err != nil {
				return err
			}
			log.Info().Str("reader", transport.String()).Msg("Reader connected")

			sh := shell.New(transport, shell.Options{
				RunTimeout:   runTimeoutFlag,
				LoopTimeout:  loopTimeoutFlag,
				LoopDelay:    loopDelayFlag,
				PollInterval: pollIntervalFlag,
				Log:          log,
				Exit: func(code int) {
					if err := transport.Close(); err != nil {
						log.Warn().Err(err).Msg("Failed to release reader")
					}
					os.Exit(code)
				},
			})

			// ctrl+c stops the running operation, or ends the shell when
			// nothing is running. SIGTERM always ends it.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				for sig := range sigCh {
					if sig == syscall.SIGTERM {
						sh.Terminate()
						continue
					}
					sh.Interrupt()
				}
			}()

			runErr := sh.Run()
			if err := transport.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to release reader")
			}
			return runErr
		},
	}

	root.PersistentFlags().StringVar(&driverFlag, "driver", reader.DriverPCSC, "reader driver: pcsc, libnfc or uart")
	root.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "more log output (repeat for debug, trace)")
	root.Flags().StringVar(&deviceFlag, "device", "", "reader name, libnfc connstring or serial port (default: first found)")
	root.Flags().IntVar(&baudFlag, "baud", reader.DefaultBaudRate, "serial baud rate for the uart driver")
	root.Flags().BoolVar(&plainFlag, "plain", false, "send frames as plain APDUs instead of tunneling through the PN532")
	root.Flags().DurationVar(&runTimeoutFlag, "run-timeout", shell.DefaultRunTimeout, "how long run waits for a card")
	root.Flags().DurationVar(&loopTimeoutFlag, "loop-timeout", shell.DefaultLoopTimeout, "how long loop waits for each card")
	root.Flags().DurationVar(&loopDelayFlag, "loop-delay", shell.DefaultLoopDelay, "pause between loop iterations")
	root.Flags().DurationVar(&pollIntervalFlag, "poll-interval", shell.DefaultPollInterval, "card presence poll interval")
	root.SetVersionTemplate(buildinfo.BuildInfo() + "\n")

	root.AddCommand(newListCommand(&driverFlag, &verboseFlag))

	if err := root.Execute(); err != nil {
		newLogger(verboseFlag).Error().Err(err).Msg(buildinfo.Name)
		os.Exit(1)
	}
}

// newListCommand builds the "list" subcommand, which prints the devices
// the selected driver can see without connecting to any of them.
func newListCommand(driverFlag *string, verboseFlag *int) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the devices the selected driver can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := reader.ListDevices(reader.Config{
				Driver: *driverFlag,
				Log:    newLogger(*verboseFlag),
			})
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No devices found.")
				return nil
			}
			for _, device := range devices {
				fmt.Println(device)
			}
			return nil
		},
	}
}

// newLogger builds the console logger on stderr, keeping stdout for the
// shell conversation. Verbosity raises the level from the warn default:
// -v info, -vv debug, -vvv trace.
func newLogger(verbosity int) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case verbosity >= 3:
		level = zerolog.TraceLevel
	case verbosity == 2:
		level = zerolog.DebugLevel
	case verbosity == 1:
		level = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Logger().Level(level)
}

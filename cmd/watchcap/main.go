package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	statusFlags := &StatusFlags{}
	resetFlags := &ResetFlags{}
	stopFlags := &StopFlags{}
	eventsFlags := &EventsFlags{}
	checkFlags := &CheckFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createStatusCommand(statusFlags),
		createResetCommand(resetFlags),
		createStopCommand(stopFlags),
		createEventsCommand(eventsFlags),
		createCheckCommand(checkFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "watchcap",
		Short: "Crash-recovering supervisor for USB capture pipelines",
		Long: `Watchcap supervises a capture pipeline (producer feeding a consumer) against
an unreliable USB device: it monitors device health, restarts crashed
processes with exponential backoff, and halts for operator attention when the
crash budget is exhausted.

Examples:
  watchcap run --config=watchcap.toml
  watchcap status --api-url=http://localhost:8080/api
  watchcap reset                          # clear Halted after fixing the device
  watchcap check --device=/dev/video0     # one-shot device health check`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8080/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor in the foreground",
		Long: `Run launches the capture pipeline and supervises it until stopped. The
pipeline comes from a TOML config file, or directly from the device and
command flags when no config file is given. Exits non-zero when stopped
while Halted or on a configuration error.

Examples:
  watchcap run --config=/etc/watchcap/watchcap.toml
  watchcap run --device=/dev/video0 \
    --producer-command="ffmpeg -f v4l2 -i /dev/video0 -f mpegts udp://127.0.0.1:5000" \
    --consumer-command="ffplay udp://127.0.0.1:5000"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := flags.ConfigPath
			if cfgPath == "" {
				cfgPath = global.ConfigPath
			}
			if cfgPath != "" {
				// the config file wins over the direct flags
				return runDaemon(cfgPath)
			}
			return runDirect(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&flags.Device, "device", "", "device node path (when no config file)")
	cmd.Flags().StringVar(&flags.ProducerCommand, "producer-command", "", "producer command line (when no config file)")
	cmd.Flags().StringVar(&flags.ConsumerCommand, "consumer-command", "", "consumer command line (when no config file)")
	return cmd
}

func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(*flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createResetCommand(flags *ResetFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear crash history and resume automatic recovery",
		Long: `Reset clears the crash counter and returns a Halted supervisor to normal
operation. Use after fixing the underlying device problem.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(*flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createStopCommand(flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the pipeline and shut the daemon down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(*flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createEventsCommand(flags *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent diagnostic events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(*flags)
		},
	}
	addAPIFlags(cmd, &flags.APIFlags)
	cmd.Flags().IntVar(&flags.Limit, "limit", 50, "maximum number of events")
	return cmd
}

func createCheckCommand(flags *CheckFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "One-shot device health check",
		Long: `Check resolves the device node and runs a single probe against it without
starting any processes. Exits non-zero when the device is not healthy.

Examples:
  watchcap check --device=/dev/video0
  watchcap check --device=/dev/video0 --probe="v4l2-ctl --device {path} --get-fmt-video"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.DevicePath, "device", "", "device node path (required)")
	cmd.Flags().StringVar(&flags.ProbeCommand, "probe", "", "probe command ({path} expands to the device path)")
	cmd.Flags().DurationVar(&flags.ProbeTimeout, "probe-timeout", 2*time.Second, "probe timeout")
	if err := cmd.MarkFlagRequired("device"); err != nil {
		panic(err)
	}
	return cmd
}

// Command bridge reads NMEA sentences from a single source and fans them
// out to one or more serial, virtual-COM, UDP or file sinks, following the
// teacher lineage's cobra-based CLI shape (see cmd/wt in the wingthing
// example this repo learned cobra from).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/goblimey/nmea-bridge/apps/bridge/config"
	"github.com/goblimey/nmea-bridge/sentence"
	"github.com/goblimey/nmea-bridge/session"
	"github.com/goblimey/nmea-bridge/sink"
	"github.com/goblimey/nmea-bridge/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "bridge",
		Short: "NMEA-0183 data bridge",
		Long:  "Ingests NMEA-0183 sentences over UDP or TCP, validates and rate-limits them, and fans them out to serial, virtual-COM, UDP or file sinks.",
	}

	root.AddCommand(startCmd(), portsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge using a JSON configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("missing config file: -c or --config")
			}
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file (required)")
	return cmd
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports visible to the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("list serial ports: %w", err)
			}
			if len(names) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PORT")
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
			return w.Flush()
		},
	}
}

func run(configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	file, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sessionCfg, err := file.BuildSessionConfig()
	if err != nil {
		return err
	}

	onStateChange := func(old, new session.State, msg string) {
		logger.Info("session state change", "from", old, "to", new, "detail", msg)
	}
	onSentence := func(s sentence.Sentence) {
		logger.Debug("sentence broadcast", "type", s.Type)
	}

	sess := session.New(sessionCfg, logger, onStateChange, onSentence)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	var telemetryServer *telemetry.Server
	if file.Telemetry != nil {
		telemetryServer = telemetry.New(sess, file.Telemetry.ControlHost, file.Telemetry.ControlPort,
			file.Telemetry.MetricsAddr, file.Telemetry.EventLogDir)
		telemetryServer.Start()
	}

	logger.Info("bridge running", "config", configPath)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sink.StopGrace)
	defer cancel()

	if telemetryServer != nil {
		if err := telemetryServer.Stop(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown", "error", err)
		}
	}

	if err := sess.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return nil
}

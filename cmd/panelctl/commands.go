package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dougsko/radiopanel/pkg/protocol"
)

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func buttonName(index int) string {
	if index < 0 {
		return "none"
	}
	return fmt.Sprintf("%d", index)
}

func frequencyName(code int) string {
	if code < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", code)
}

func printStatus(w io.Writer, s *protocol.Status) {
	state := color.RedString("stopped")
	if s.Running {
		state = color.GreenString("running")
	}
	fmt.Fprintf(w, "Engine:     %s (%s backend, version %s)\n", state, s.Backend, s.Version)
	if s.Uptime != "" {
		fmt.Fprintf(w, "Uptime:     %s\n", s.Uptime)
	}
	fmt.Fprintf(w, "Button:     %s\n", bold(buttonName(s.ButtonIndex)))
	fmt.Fprintf(w, "Playing:    %s\n", bold("%t", s.Playing))
	fmt.Fprintf(w, "Frequency:  %s\n", bold(frequencyName(s.Frequency)))
	fmt.Fprintf(w, "Cycles:     %d\n", s.Counters.Cycles)
	fmt.Fprintf(w, "Sent:       %d (%d failed)\n", s.Counters.Transmitted, s.Counters.TransmitErrors)
	fmt.Fprintf(w, "Failed measurements: %d\n", s.Counters.FailedMeasurements)
	fmt.Fprintf(w, "Snapshot requests:   %d\n", s.Counters.SnapshotRequests)
}

func printEvents(w io.Writer, events []protocol.Event) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tKIND\tVALUE\tRESULT")
	for _, e := range events {
		result := color.GreenString("sent")
		if !e.Delivered {
			result = color.RedString("failed: %s", e.Error)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.ID, e.Timestamp.Local().Format(time.TimeOnly), e.Kind, e.Value, result)
	}
	tw.Flush()
}

func printStations(w io.Writer, stations []protocol.StationInfo, fallback int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHARGE (us)\tSTATION")
	lower := int64(0)
	for _, s := range stations {
		fmt.Fprintf(tw, "%d-%d\t%d\n", lower, s.MaxChargeMicros, s.Code)
		lower = s.MaxChargeMicros + 1
	}
	fmt.Fprintf(tw, ">=%d\t%d\n", lower, fallback)
	tw.Flush()
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gDaemon,
		Short:   "Show the current panel state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := apiClient.GetStatus()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func NewSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "snapshot",
		GroupID: gDaemon,
		Short:   "Send a state snapshot to the host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := apiClient.RequestSnapshot(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Snapshot queued")
			return nil
		},
	}
}

func NewEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "events",
		GroupID: gDaemon,
		Short:   "List recently transmitted messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			events, err := apiClient.GetEvents(limit)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")

	return cmd
}

func NewStationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stations",
		GroupID: gDaemon,
		Short:   "Show the charge time to station table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stations, fallback, err := apiClient.GetStations()
			if err != nil {
				return err
			}
			printStations(cmd.OutOrStdout(), stations, fallback)
			return nil
		},
	}
}

func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ping",
		GroupID: gDaemon,
		Short:   "Check that paneld is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := apiClient.Ping(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pong")
			return nil
		},
	}
}

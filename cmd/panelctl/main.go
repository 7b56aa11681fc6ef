package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dougsko/radiopanel/pkg/client"
)

var (
	unixSocketPath = "/tmp/radiopanel.sock"
	apiClient      *client.SocketClient
)

var (
	gDaemon  = "Daemon:"
	gSerial  = "Serial link:"
	cmdGroup = []string{gDaemon, gSerial}
)

func handleCmdError(err error) {
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
		fmt.Fprintln(os.Stderr, "\nError: paneld is not running")
		fmt.Fprintf(os.Stderr, "No daemon is listening on %s\n", unixSocketPath)
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panelctl",
		Short: "panelctl inspects and drives the radio front panel daemon",
		Long: `panelctl inspects and drives the radio front panel daemon.

Daemon commands talk to paneld over its control socket. The monitor
command reads the panel's serial link directly, as the host unit does.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			apiClient = client.NewSocketClient(unixSocketPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&unixSocketPath, "socket", "s", unixSocketPath, "paneld unix socket path")

	for _, g := range cmdGroup {
		cmd.AddGroup(&cobra.Group{ID: g, Title: g})
	}

	cmd.AddCommand(
		NewStatusCommand(),
		NewSnapshotCommand(),
		NewEventsCommand(),
		NewStationsCommand(),
		NewPingCommand(),
		NewMonitorCommand(),
	)

	return cmd
}

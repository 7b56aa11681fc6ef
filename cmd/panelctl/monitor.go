package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/protocol"
)

func NewMonitorCommand() *cobra.Command {
	var (
		device string
		baud   int
		list   bool
	)

	cmd := &cobra.Command{
		Use:     "monitor",
		GroupID: gSerial,
		Short:   "Decode the panel's serial output",
		Long: `Read the serial link the panel transmits on and print every
message as the host unit would decode it. Use --list to show the
serial ports present on this machine.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				ports, err := hardware.SerialPorts()
				if err != nil {
					return err
				}
				for _, p := range ports {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			}
			if device == "" {
				return fmt.Errorf("--device is required")
			}

			port, err := hardware.OpenSerialPort(device, baud)
			if err != nil {
				return err
			}
			defer port.Close()

			fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring %s at %d baud, Ctrl-C to stop\n", device, baud)
			return monitor(port, cmd.OutOrStdout(), time.Now)
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "serial device, e.g. /dev/ttyUSB0")
	cmd.Flags().IntVarP(&baud, "baud", "b", hardware.DefaultBaudRate, "baud rate")
	cmd.Flags().BoolVar(&list, "list", false, "list serial ports and exit")

	return cmd
}

// monitor prints decoded messages until r ends. Records with an unknown
// kind or a missing field are reported and skipped, as are bytes that
// are not a message at all.
func monitor(r io.Reader, w io.Writer, now func() time.Time) error {
	dec := protocol.NewStreamDecoder(r)
	for {
		msg, err := dec.Next()
		stamp := now().Format("15:04:05.000")
		switch {
		case err == nil:
			fmt.Fprintf(w, "%s %s\n", stamp, formatMessage(msg))
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, protocol.ErrUnknownCommand), errors.Is(err, protocol.ErrMissingField),
			errors.Is(err, protocol.ErrNotMessage):
			fmt.Fprintf(w, "%s %s\n", stamp, color.YellowString("skipped: %v", err))
		default:
			return fmt.Errorf("serial stream: %w", err)
		}
	}
}

func formatMessage(m protocol.Message) string {
	switch m.Kind {
	case protocol.KindButtonPressed:
		return fmt.Sprintf("%s button %s", color.CyanString(m.Kind), bold(buttonName(m.ButtonIndex)))
	case protocol.KindPlayPause:
		state := color.GreenString("play")
		if m.IsPause {
			state = color.RedString("pause")
		}
		return fmt.Sprintf("%s %s", color.CyanString(m.Kind), state)
	case protocol.KindNewFrequency:
		return fmt.Sprintf("%s station %s", color.CyanString(m.Kind), bold(frequencyName(m.Frequency)))
	default:
		form := "untagged"
		if m.Tagged {
			form = "tagged"
		}
		return fmt.Sprintf("%s (%s) button %s, pause %t, station %s", color.MagentaString(m.Kind), form,
			buttonName(m.ButtonIndex), m.IsPause, frequencyName(m.Frequency))
	}
}

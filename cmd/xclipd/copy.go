package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xclipd/xclipd/xdriver"
	"github.com/xclipd/xclipd/xdriver/clipboard"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Publish stdin on the CLIPBOARD selection (like xclip -i)",
		Long: `Reads stdin and claims the CLIPBOARD selection offering it under the
given targets. Keeps serving requests until another client takes the
selection or the process is interrupted.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runCopy(v) },
	}

	f := cmd.Flags()
	f.StringSlice("target", defaultTargets(), "target names to offer the data under")
	addCommonFlags(cmd)

	return cmd
}

func defaultTargets() []string {
	return []string{clipboard.TargetUTF8String, clipboard.TargetTextPlainUTF8}
}

func runCopy(v *viper.Viper) error {
	setupLogging(v)

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "read stdin")
	}

	win, err := xdriver.NewWindow(slog.Default())
	if err != nil {
		return err
	}
	defer win.Close()

	targets := v.GetStringSlice("target")
	formats := make([]clipboard.Format, 0, len(targets))
	for _, name := range targets {
		formats = append(formats, clipboard.Format{Name: name, Data: data})
	}
	win.Clipboard.PutFormats(formats)
	slog.Info("serving clipboard", "bytes", len(data), "targets", targets)

	return serveUntilLost(win)
}

// serveUntilLost blocks while the event loop answers requests, returning
// when ownership is lost, the connection drops, or on SIGINT/SIGTERM.
func serveUntilLost(win *xdriver.Window) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			return nil
		case ev := <-win.Events():
			switch t := ev.(type) {
			case *xdriver.SelectionLost:
				slog.Info("selection taken by another client")
				return nil
			case *xdriver.ConnClosed:
				return errors.New("x connection closed")
			case error:
				slog.Error("x event", "err", t)
			}
		}
	}
}

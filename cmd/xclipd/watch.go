package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xclipd/xclipd/xdriver"
	"github.com/xclipd/xclipd/xdriver/clipboard"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Keep a file's contents on the CLIPBOARD selection",
		Long: `Publishes the file on the CLIPBOARD selection and republishes it every
time the file changes, reclaiming the selection if another client took it
in between.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runWatch(v, args[0]) },
	}

	f := cmd.Flags()
	f.StringSlice("target", defaultTargets(), "target names to offer the data under")
	addCommonFlags(cmd)

	return cmd
}

func runWatch(v *viper.Viper, path string) error {
	setupLogging(v)

	win, err := xdriver.NewWindow(slog.Default())
	if err != nil {
		return err
	}
	defer win.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watcher")
	}
	defer watcher.Close()

	// watch the directory: editors replace files via rename, which drops
	// a watch on the file itself
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %v", dir)
	}

	targets := v.GetStringSlice("target")
	publish := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("read file", "path", path, "err", err)
			return
		}
		formats := make([]clipboard.Format, 0, len(targets))
		for _, name := range targets {
			formats = append(formats, clipboard.Format{Name: name, Data: data})
		}
		win.Clipboard.PutFormats(formats)
		slog.Info("published", "path", path, "bytes", len(data))
	}
	publish()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for {
		select {
		case <-sig:
			return nil
		case wev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if name, _ := filepath.Abs(wev.Name); name != abs {
				continue
			}
			if wev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				publish()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher", "err", werr)
		case ev := <-win.Events():
			switch t := ev.(type) {
			case *xdriver.SelectionLost:
				// reclaimed on the next file change
				slog.Info("selection taken by another client")
			case *xdriver.ConnClosed:
				return errors.New("x connection closed")
			case error:
				slog.Error("x event", "err", t)
			}
		}
	}
}

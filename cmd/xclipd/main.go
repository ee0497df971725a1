// xclipd: own the x11 CLIPBOARD selection from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "xclipd",
		Short: "Serve the x11 CLIPBOARD selection",
		Long: `xclipd claims the x11 CLIPBOARD selection and serves it to other
clients, including TARGETS negotiation and chunked INCR transfers for
payloads larger than one request.

Use "xclipd copy" to publish stdin once, or "xclipd watch" to keep a
file's contents on the clipboard.

All flags can be set via XCLIPD_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newCopyCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("xclipd %s\n", Version)
		},
	}
}

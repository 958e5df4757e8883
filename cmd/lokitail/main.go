package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/lokitail/pkg/connector/registry"

	// Import all available connectors to register them
	_ "github.com/ajitpratap0/lokitail/pkg/connector/destinations"
	_ "github.com/ajitpratap0/lokitail/pkg/connector/sources"
)

// Build variables, set by ldflags
var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lokitail",
		Short: "lokitail - stream Grafana Loki logs into a transactional sink",
		Long: `lokitail reads log lines from Grafana Loki, either by tailing a LogQL
selector over a websocket or by polling range queries, and writes every
received batch into a sink (object store, database, Kafka or a JSON lines file)
inside one transaction.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lokitail v%s (%s)\n", version, commit)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Source Connectors:")
			for _, name := range registry.ListSources() {
				printConnector(cmd, name)
			}
			fmt.Fprintln(out, "\nAvailable Destination Connectors:")
			for _, name := range registry.ListDestinations() {
				printConnector(cmd, name)
			}
		},
	})

	root.AddCommand(newRunCommand())
	return root
}

func printConnector(cmd *cobra.Command, name string) {
	out := cmd.OutOrStdout()
	info, err := registry.GetConnectorInfo(name)
	if err != nil {
		fmt.Fprintf(out, "  - %s\n", name)
		return
	}
	fmt.Fprintf(out, "  - %-11s %s\n", name, info.Description)
	if len(info.Settings) > 0 {
		fmt.Fprintf(out, "    %-11s %v\n", "settings:", info.Settings)
	}
}

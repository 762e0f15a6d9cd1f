// Command cpc-log views protocol trace files written by a cpc Session
// configured with a trace_file.
//
// Usage:
//
//	cpc-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	stats    Show per-generation and per-endpoint statistics
//
// Examples:
//
//	# View only wire-layer events of endpoint 90
//	cpc-log view --layer wire --endpoint 90 session.clog
//
//	# View events of the second generation
//	cpc-log view --generation 2 session.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cpc-host/cpc-go/cmd/cpc-log/commands"
	"github.com/cpc-host/cpc-go/pkg/cpc"
	"github.com/cpc-host/cpc-go/pkg/log"
)

const usage = `cpc-log - CPC Protocol Trace Viewer

Usage:
  cpc-log <command> [flags] <file.clog>

Commands:
  view     View trace file in human-readable format
  stats    Show per-generation and per-endpoint statistics

Use "cpc-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `cpc-log view - View trace file in human-readable format

Usage:
  cpc-log view [flags] <file.clog>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (transport, wire, session)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	generation := fs.Uint("generation", 0, "Filter by session generation")
	endpoint := fs.Int("endpoint", -1, "Filter by endpoint ID")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	filter := log.Filter{
		ConnectionID: *connID,
		Generation:   uint32(*generation),
	}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *endpoint >= 0 {
		if *endpoint > 255 {
			fail(fmt.Errorf("%w: %d", cpc.ErrInvalidEndpointID, *endpoint))
		}
		id, err := cpc.ParseEndpointID(uint8(*endpoint))
		if err != nil {
			fail(err)
		}
		raw := uint8(id)
		filter.EndpointID = &raw
	}

	if err := commands.RunView(fs.Arg(0), filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `cpc-log stats - Show trace statistics

Usage:
  cpc-log stats <file.clog>
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: trace file path required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunStats(fs.Arg(0), os.Stdout); err != nil {
		fail(err)
	}
}

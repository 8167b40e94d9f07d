// Package cli implements the walletrisk command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/mbd888/walletrisk/pkg/walletrisk"
)

// Version is printed by the version command. Set by ldflags.
var Version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	apiURL  string
	timeout time.Duration
	asJSON  bool
	noColor bool

	out    io.Writer
	au     aurora.Aurora
	client *walletrisk.Client
}

// NewRootCmd builds the command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "walletrisk",
		Short: "Screen Ethereum addresses for sanctions and risk",
		Long: `walletrisk queries a walletrisk server, which fans an address out to
blockchain-intelligence providers (Alchemy, Etherscan, Elliptic, Chainalysis,
OFAC and others) and screens it against the OFAC sanctions list.

The server address is taken from --api or WALLETRISK_API_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.au = aurora.NewAurora(!a.noColor && !a.asJSON)
			a.client = walletrisk.NewClient(a.apiURL, walletrisk.WithHTTPClient(newHTTPClient(a.timeout)))
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	defaultURL := os.Getenv("WALLETRISK_API_URL")
	if defaultURL == "" {
		defaultURL = walletrisk.DefaultBaseURL
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api", defaultURL, "walletrisk server base URL")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print raw JSON instead of a summary")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		a.analyzeCmd(),
		a.checkCmd(),
		a.screenCmd(),
		a.providersCmd(),
		a.historyCmd(),
		a.sanctionsCmd(),
		versionCmd(out),
	)
	return root
}

// Execute runs the CLI against os.Args and returns the exit code.
func Execute() int {
	root := NewRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, aurora.Red("error: "+err.Error()))
		return 1
	}
	return 0
}

func versionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show walletrisk version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "Version: %s\n", Version)
		},
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// band colors a verdict the way an operator scans it: red stops, yellow
// needs a look, green passes.
func (a *app) band(b walletrisk.Band) aurora.Value {
	switch b {
	case walletrisk.BandHigh:
		return a.au.Bold(a.au.Red(b))
	case walletrisk.BandMedium:
		return a.au.Yellow(b)
	case walletrisk.BandLow:
		return a.au.Green(b)
	default:
		return a.au.Faint(b)
	}
}

package cli

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/walletrisk/pkg/walletrisk"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (a *app) analyzeCmd() *cobra.Command {
	var providers []string
	cmd := &cobra.Command{
		Use:   "analyze <address> [address...]",
		Short: "Run every provider (or a subset) against one or more addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for i, addr := range args {
				r, err := a.client.Analyze(cmd.Context(), addr, providers...)
				if err != nil {
					fmt.Fprintf(a.out, "%s: %s\n", addr, a.au.Red(err.Error()))
					failed++
					continue
				}
				if a.asJSON {
					if err := a.printJSON(r); err != nil {
						return err
					}
					continue
				}
				if i > 0 {
					fmt.Fprintln(a.out)
				}
				a.printReport(r)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d analyses failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&providers, "providers", "p", nil, "provider keys to use (default all)")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <provider> <address>",
		Short: "Run a single provider against an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.client.Check(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(f)
			}
			a.printFinding(f)
			return nil
		},
	}
}

func (a *app) screenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "screen <address>",
		Short: "Screen an address against the OFAC sanctions list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.client.Screen(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(f)
			}
			if f.SanctionsHit {
				fmt.Fprintf(a.out, "%s %s\n", a.au.Bold(a.au.Red("SANCTIONED")), f.Address)
			} else {
				fmt.Fprintf(a.out, "%s %s\n", a.au.Green("clear"), f.Address)
			}
			a.printFinding(f)
			return nil
		},
	}
}

func (a *app) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List providers and whether they run live or simulated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.client.Providers(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(ps)
			}
			for _, p := range ps {
				mode := a.au.Faint(p.Mode)
				if p.Mode == "live" {
					mode = a.au.Green(p.Mode)
				}
				fmt.Fprintf(a.out, "%-12s %-16s %s\n", p.Key, p.Name, mode)
			}
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Show past analyses of an address, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.client.History(cmd.Context(), args[0], limit, cursor)
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(page)
			}
			if len(page.Items) == 0 {
				fmt.Fprintln(a.out, "no analyses recorded")
				return nil
			}
			for _, r := range page.Items {
				fmt.Fprintf(a.out, "%s  %-7s  %d providers, %d fallbacks  %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					a.band(r.Overall), len(r.Findings), r.Fallbacks, r.ID)
			}
			if page.HasMore {
				fmt.Fprintf(a.out, "more: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "reports per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func (a *app) sanctionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sanctions",
		Short: "Inspect or refresh the server's OFAC list",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show registry size and freshness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client.SanctionsStats(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(s)
			}
			status := a.au.Green(s.Status)
			if s.Status != "fresh" {
				status = a.au.Yellow(s.Status)
			}
			fmt.Fprintf(a.out, "addresses:   %d\n", s.TotalSanctionedAddresses)
			fmt.Fprintf(a.out, "status:      %s (%s)\n", status, s.Source)
			fmt.Fprintf(a.out, "last update: %s\n", formatTime(s.LastUpdate))
			fmt.Fprintf(a.out, "next update: %s\n", formatTime(s.NextUpdate))
			return nil
		},
	}

	update := &cobra.Command{
		Use:   "update",
		Short: "Download the OFAC lists now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.RefreshSanctions(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(res)
			}
			fmt.Fprintf(a.out, "%d addresses (%s, %s)\n", res.TotalAddresses,
				a.au.Red(fmt.Sprintf("+%d", res.Added)), a.au.Green(fmt.Sprintf("-%d", res.Removed)))
			for _, src := range res.Sources {
				if src.Error != "" {
					fmt.Fprintf(a.out, "  %s %s: %s\n", a.au.Red("x"), src.URL, src.Error)
					continue
				}
				fmt.Fprintf(a.out, "  %s %s: %d\n", a.au.Green("ok"), src.URL, src.Addresses)
			}
			return nil
		},
	}

	cmd.AddCommand(stats, update)
	return cmd
}

func (a *app) printReport(r *walletrisk.Report) {
	fmt.Fprintf(a.out, "%s  overall %s", a.au.Bold(r.Address), a.band(r.Overall))
	if r.SanctionsHit {
		fmt.Fprintf(a.out, "  %s", a.au.Bold(a.au.Red("OFAC SANCTIONED")))
	}
	fmt.Fprintf(a.out, "  (%dms)\n", r.DurationMs)
	for _, f := range r.Findings {
		a.printFinding(f)
	}
	if r.Fallbacks > 0 {
		fmt.Fprintf(a.out, "%s %d provider(s) unreachable, fallback scores shown\n", a.au.Yellow("!"), r.Fallbacks)
	}
}

func (a *app) printFinding(f *walletrisk.Finding) {
	var tags []string
	if f.Simulated {
		tags = append(tags, "simulated")
	}
	if f.Fallback {
		tags = append(tags, "fallback")
	}
	name := f.ProviderName
	if name == "" {
		name = f.ProviderKey
	}
	suffix := ""
	if len(tags) > 0 {
		suffix = " " + a.au.Faint("["+strings.Join(tags, ",")+"]").String()
	}
	fmt.Fprintf(a.out, "  %-16s %3d  %s%s\n", name, f.Score, a.band(f.Risk), suffix)
	if f.Notes != "" {
		fmt.Fprintf(a.out, "  %-16s      %s\n", "", f.Notes)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

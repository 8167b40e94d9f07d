package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/walletrisk/pkg/walletrisk"
)

// API is the part of the walletrisk client the tools call.
type API interface {
	Analyze(ctx context.Context, addr string, providers ...string) (*walletrisk.Report, error)
	Check(ctx context.Context, provider, addr string) (*walletrisk.Finding, error)
	Screen(ctx context.Context, addr string) (*walletrisk.Finding, error)
	Providers(ctx context.Context) ([]walletrisk.Provider, error)
	History(ctx context.Context, addr string, limit int, cursor string) (*walletrisk.HistoryPage, error)
	SanctionsStats(ctx context.Context) (*walletrisk.SanctionsStats, error)
	RefreshSanctions(ctx context.Context) (*walletrisk.RefreshResult, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client API
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client API) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeWallet runs the aggregate analysis.
func (h *Handlers) HandleAnalyzeWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	report, err := h.client.Analyze(ctx, address, splitList(req.GetString("providers", ""))...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatReport(report)), nil
}

// HandleCheckProvider runs one provider.
func (h *Handlers) HandleCheckProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := req.GetString("provider", "")
	if provider == "" {
		return mcp.NewToolResultError("provider is required"), nil
	}
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	f, err := h.client.Check(ctx, provider, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Provider %s failed: %v", provider, err)), nil
	}

	text := formatFinding(f)
	if len(f.Details) > 0 && string(f.Details) != "null" {
		text += "\nDetails:\n" + formatJSON(f.Details)
	}
	return mcp.NewToolResultText(text), nil
}

// HandleScreenSanctions checks an address against the OFAC screener.
func (h *Handlers) HandleScreenSanctions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	f, err := h.client.Screen(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Screening failed: %v", err)), nil
	}

	var sb strings.Builder
	if f.SanctionsHit {
		fmt.Fprintf(&sb, "SANCTIONED: %s is on the OFAC list.\n", f.Address)
	} else {
		fmt.Fprintf(&sb, "No sanctions match for %s.\n", f.Address)
	}
	sb.WriteString(formatFinding(f))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListProviders lists the provider catalog.
func (h *Handlers) HandleListProviders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ps, err := h.client.Providers(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list providers: %v", err)), nil
	}

	if len(ps) == 0 {
		return mcp.NewToolResultText("No providers configured."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d provider(s):\n", len(ps))
	for _, p := range ps {
		fmt.Fprintf(&sb, "  %-12s %-16s %s\n", p.Key, p.Name, p.Mode)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAnalysisHistory lists past reports for an address.
func (h *Handlers) HandleAnalysisHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	limit := req.GetInt("limit", 10)

	page, err := h.client.History(ctx, address, limit, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load history: %v", err)), nil
	}

	if len(page.Items) == 0 {
		return mcp.NewToolResultText("No analyses recorded for " + address + "."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d analysis report(s) for %s:\n\n", len(page.Items), address)
	for i, r := range page.Items {
		fmt.Fprintf(&sb, "%d. %s  overall=%s", i+1, r.StartedAt.Format("2006-01-02 15:04:05 MST"), r.Overall)
		if r.SanctionsHit {
			sb.WriteString("  SANCTIONED")
		}
		fmt.Fprintf(&sb, "  providers=%d fallbacks=%d\n", len(r.Findings), r.Fallbacks)
	}
	if page.HasMore {
		sb.WriteString("\nOlder reports exist.")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleSanctionsStats summarizes the sanctions registry.
func (h *Handlers) HandleSanctionsStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.client.SanctionsStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get sanctions stats: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Sanctions registry:\n")
	fmt.Fprintf(&sb, "  Addresses:   %d\n", s.TotalSanctionedAddresses)
	fmt.Fprintf(&sb, "  Status:      %s (%s)\n", s.Status, s.Source)
	if !s.LastUpdate.IsZero() {
		fmt.Fprintf(&sb, "  Last update: %s\n", s.LastUpdate.Format("2006-01-02 15:04 MST"))
	} else {
		sb.WriteString("  Last update: never\n")
	}
	if !s.NextUpdate.IsZero() {
		fmt.Fprintf(&sb, "  Next update: %s\n", s.NextUpdate.Format("2006-01-02 15:04 MST"))
	}
	if s.Overrides > 0 {
		fmt.Fprintf(&sb, "  Overrides:   %d\n", s.Overrides)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRefreshSanctions triggers a list download.
func (h *Handlers) HandleRefreshSanctions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.client.RefreshSanctions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Refresh failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sanctions list refreshed: %d addresses (+%d, -%d).\n",
		res.TotalAddresses, res.Added, res.Removed)
	for _, src := range res.Sources {
		if src.Error != "" {
			fmt.Fprintf(&sb, "  %s: failed (%s)\n", src.URL, src.Error)
			continue
		}
		fmt.Fprintf(&sb, "  %s: %d addresses\n", src.URL, src.Addresses)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatReport(r *walletrisk.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet risk for %s\n", r.Address)
	fmt.Fprintf(&sb, "Overall: %s\n", strings.ToUpper(string(r.Overall)))
	if r.SanctionsHit {
		sb.WriteString("OFAC: SANCTIONED, do not transact\n")
	} else {
		sb.WriteString("OFAC: no match\n")
	}
	if r.Fallbacks > 0 {
		fmt.Fprintf(&sb, "Note: %d provider(s) were unreachable and used fallback scores.\n", r.Fallbacks)
	}
	sb.WriteString("\n")
	for _, f := range r.Findings {
		sb.WriteString(formatFinding(f))
	}
	return sb.String()
}

func formatFinding(f *walletrisk.Finding) string {
	var tags []string
	if f.SanctionsHit {
		tags = append(tags, "sanctioned")
	}
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

	line := fmt.Sprintf("- %s: %s (score %d)", name, f.Risk, f.Score)
	if len(tags) > 0 {
		line += " [" + strings.Join(tags, ", ") + "]"
	}
	line += "\n"
	if f.Notes != "" {
		line += "  " + f.Notes + "\n"
	}
	return line
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// splitList parses a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

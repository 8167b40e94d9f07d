package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the walletrisk MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeWallet = mcp.NewTool("analyze_wallet",
	mcp.WithDescription(
		"Assess the risk of an Ethereum wallet by querying several blockchain-intelligence "+
			"providers at once. Returns an overall verdict (low/medium/high), whether the address "+
			"is on the OFAC sanctions list, and each provider's score and notes. "+
			"Use this first when asked whether an address is safe to transact with."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Ethereum address, 0x followed by 40 hex characters")),
	mcp.WithString("providers",
		mcp.Description("Comma-separated provider keys to restrict the analysis (e.g. 'ofac,etherscan'). Omit to use every provider.")),
)

var ToolCheckProvider = mcp.NewTool("check_provider",
	mcp.WithDescription(
		"Run a single intelligence provider against an address and return its full finding, "+
			"including provider-specific details such as transaction counts or exposure categories."),
	mcp.WithString("provider",
		mcp.Required(),
		mcp.Description("Provider key"),
		mcp.Enum("alchemy", "etherscan", "elliptic", "chainalysis", "ofac", "blockchain", "fireblocks", "bridge")),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Ethereum address, 0x followed by 40 hex characters")),
)

var ToolScreenSanctions = mcp.NewTool("screen_sanctions",
	mcp.WithDescription(
		"Screen an address against the OFAC sanctions list. A hit means transacting with the "+
			"address is prohibited for US persons."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Ethereum address, 0x followed by 40 hex characters")),
)

var ToolListProviders = mcp.NewTool("list_providers",
	mcp.WithDescription(
		"List the intelligence providers this service exposes and whether each one talks to a "+
			"live upstream or returns simulated demo data."),
)

var ToolAnalysisHistory = mcp.NewTool("analysis_history",
	mcp.WithDescription(
		"Show previous aggregate analyses of an address, newest first."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Ethereum address, 0x followed by 40 hex characters")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of reports to return (default 10)")),
)

var ToolSanctionsStats = mcp.NewTool("sanctions_stats",
	mcp.WithDescription(
		"Show the size and freshness of the sanctions list the service screens against."),
)

var ToolRefreshSanctions = mcp.NewTool("refresh_sanctions",
	mcp.WithDescription(
		"Download the OFAC sanctions lists now instead of waiting for the daily refresh. "+
			"Reports how many addresses were added or removed."),
)

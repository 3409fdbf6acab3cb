package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the intake MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScoreTransaction = mcp.NewTool("score_transaction",
	mcp.WithDescription(
		"Score a single transaction for fraud risk without storing it. "+
			"Returns a score (0-100 by default), a low/medium/high level and the signals that fired: "+
			"large amount, unusual country, off-hours timestamp, blacklisted merchant."),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transaction amount (e.g. 1250.50)")),
	mcp.WithString("country",
		mcp.Description("Country name (defaults to Ireland)")),
	mcp.WithString("merchant",
		mcp.Description("Merchant name (defaults to 'unknown')")),
	mcp.WithString("timestamp",
		mcp.Description("ISO-8601 timestamp, e.g. '2024-03-01T02:15:00Z'. Off-hours are 00:00-05:00 UTC.")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription(
		"List a user's stored transactions newest first, with their risk scores. "+
			"Use the returned cursor to fetch the next page."),
	mcp.WithString("user_id",
		mcp.Description("User whose transactions to list (defaults to the configured user)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous list_transactions call")),
)

var ToolRequestRescore = mcp.NewTool("request_rescore",
	mcp.WithDescription(
		"Queue a background job that recomputes the risk score of every stored transaction for a user. "+
			"Returns a job id; poll it with get_job."),
	mcp.WithString("user_id",
		mcp.Description("User to rescore (defaults to the configured user)")),
)

var ToolGetJob = mcp.NewTool("get_job",
	mcp.WithDescription(
		"Get the status of a background job (CSV import or rescore): pending, processing, done or failed, "+
			"with inserted/updated/skipped counts or the failure reason."),
	mcp.WithString("job_id",
		mcp.Required(),
		mcp.Description("Job id returned by an upload or request_rescore")),
)

var ToolGetDashboard = mcp.NewTool("get_dashboard",
	mcp.WithDescription(
		"Get a user's risk dashboard: transaction count, total amount, average and maximum risk, "+
			"high-risk count, per-country counts and job counts by status."),
	mcp.WithString("user_id",
		mcp.Description("User whose dashboard to show (defaults to the configured user)")),
)

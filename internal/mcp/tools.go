package mcp

import "github.com/mark3labs/mcp-go/mcp"

// listSessionsTool defines the list_sessions MCP tool.
var listSessionsTool = mcp.NewTool("list_sessions",
	mcp.WithDescription("List recorded sessions across all collector stores with their first and last activity and row counts."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of sessions to return, most recent first (default 20)"),
	),
)

// correlateSessionTool defines the correlate_session MCP tool.
var correlateSessionTool = mcp.NewTool("correlate_session",
	mcp.WithDescription("Reconstruct a session as one time-ordered event stream from every collector and matching application log lines."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session identifier"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to list (default 50)"),
	),
)

// understandSessionTool defines the understand_session MCP tool.
var understandSessionTool = mcp.NewTool("understand_session",
	mcp.WithDescription("Infer per-event intents, context, dependencies, workflow segments and segment goals for a session."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session identifier"),
	),
	mcp.WithBoolean("refresh",
		mcp.Description("Re-run the analysis even if a stored result exists"),
	),
)

// generatePrototypeTool defines the generate_prototype MCP tool.
var generatePrototypeTool = mcp.NewTool("generate_prototype",
	mcp.WithDescription("Generate an automation prototype bundle (script skeleton, build prompt, report) for a session."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session identifier"),
	),
	mcp.WithString("mode",
		mcp.Description("Which generated outputs to produce (default both)"),
		mcp.Enum("cursor", "gpt", "both"),
	),
	mcp.WithString("title",
		mcp.Description("Optional workflow title used in the prompts"),
	),
	mcp.WithString("notes",
		mcp.Description("Optional free-text notes for the build prompt"),
	),
)

package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Session tools: the inbound tracker messages and the processing status.

var sessionStartToolDef = mcp.NewTool("session_start",
	mcp.WithDescription("Begin a tracking session. Returns the open session unchanged if one is already tracking; fails with BUSY while the previous session is still finalizing."),
	mcp.WithString("platform", mcp.Description("Platform of the tab that started tracking"), mcp.Enum("instagram", "youtube")),
	mcp.WithString("tabId", mcp.Description("Id of the tab that started tracking")),
	mcp.WithString("pageUrl", mcp.Description("Page URL of that tab")),
)

var sessionStopToolDef = mcp.NewTool("session_stop",
	mcp.WithDescription("End the current session. Returns immediately; finalization continues in the background (poll session_status)."),
)

var sessionRawUpdateToolDef = mcp.NewTool("session_raw_update",
	mcp.WithDescription("Replace a platform buffer with a tracker's full current snapshot. Accepts {sessionId, platform, items, finalize}, the legacy {sessionId, posts|reels} shape, and {sessionId, platforms: {...}}. Updates for an unknown or closed session are acknowledged with accepted=false."),
	mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session the snapshot belongs to")),
	mcp.WithString("platform", mcp.Description("instagram or youtube")),
	mcp.WithArray("items", mcp.Description("Observations: {key, captionText, dwellMs, href?, imageRef?}; dwellMs is cumulative"), mcp.Items(map[string]any{"type": "object"})),
	mcp.WithBoolean("finalize", mcp.Description("Set by the tracker's last snapshot after a stop")),
	mcp.WithString("pageUrl", mcp.Description("Page URL of the tab")),
	mcp.WithString("tabId", mcp.Description("Id of the tab")),
	mcp.WithObject("platforms", mcp.Description("Multi-platform shape: {instagram: {items, finalized, pageUrl}, youtube: {...}}")),
)

var sessionIncrementalToolDef = mcp.NewTool("session_incremental",
	mcp.WithDescription("Classify items that are already stable and merge the result into the session. Items analyzed by an earlier batch are skipped."),
	mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session the items belong to")),
	mcp.WithString("platform", mcp.Description("Default platform for items that do not name one")),
	mcp.WithArray("items", mcp.Required(), mcp.Description("Observations: {key, captionText, dwellMs, platform?, imageRef?}"), mcp.Items(map[string]any{"type": "object"})),
)

var sessionTabFocusToolDef = mcp.NewTool("session_tab_focus",
	mcp.WithDescription("Report that a tab on a tracked platform became visible. A tab not yet part of the open session joins it and is signalled to start."),
	mcp.WithString("tabId", mcp.Required(), mcp.Description("Id of the focused tab")),
	mcp.WithString("platform", mcp.Required(), mcp.Description("Platform of the focused tab"), mcp.Enum("instagram", "youtube")),
)

var sessionSignalsToolDef = mcp.NewTool("session_signals",
	mcp.WithDescription("Return and clear the start/stop signals queued for a tab."),
	mcp.WithString("tabId", mcp.Required(), mcp.Description("Id of the polling tab")),
)

var sessionStatusToolDef = mcp.NewTool("session_status",
	mcp.WithDescription("Processing status {isProcessing, step, progress, error} plus the open session, if any."),
)

// Stats tools: the outbound daily statistics and session history.

var statsDashboardToolDef = mcp.NewTool("stats_dashboard",
	mcp.WithDescription("Daily buckets, the trailing window with totals, the last session, and recent session history."),
	mcp.WithNumber("days", mcp.Description("Trailing window in days (default 7, max 366)")),
)

var statsDayToolDef = mcp.NewTool("stats_day",
	mcp.WithDescription("The daily bucket for one local date (empty when nothing was recorded)."),
	mcp.WithString("date", mcp.Required(), mcp.Description("Date as YYYY-MM-DD")),
)

var statsSessionToolDef = mcp.NewTool("stats_session",
	mcp.WithDescription("A finalized session record by id."),
	mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session id")),
)

var statsHistoryToolDef = mcp.NewTool("stats_history",
	mcp.WithDescription("Recorded sessions, newest first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Entries to skip")),
)

var statsExportToolDef = mcp.NewTool("stats_export",
	mcp.WithDescription("Write daily buckets (and optionally session records) to a JSONL file."),
	mcp.WithString("path", mcp.Description("Export file path (default ~/.feedlens/exports/...)")),
	mcp.WithString("from", mcp.Description("First date, YYYY-MM-DD")),
	mcp.WithString("to", mcp.Description("Last date, YYYY-MM-DD")),
	mcp.WithBoolean("include_sessions", mcp.Description("Also export session records")),
)

var statsImportToolDef = mcp.NewTool("stats_import",
	mcp.WithDescription("Restore daily buckets and session records from an export file."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Import file path")),
	mcp.WithString("mode", mcp.Description("Collision mode"), mcp.Enum("skip", "replace")),
)

var statsPruneToolDef = mcp.NewTool("stats_prune",
	mcp.WithDescription("Remove daily buckets and sessions older than a retention window."),
	mcp.WithNumber("older_than_days", mcp.Required(), mcp.Description("Retention window in days")),
)

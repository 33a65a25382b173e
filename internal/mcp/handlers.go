package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/feedlens/internal/app"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/ops"
	"github.com/hpungsan/feedlens/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// StartRequest represents the arguments for session_start.
type StartRequest struct {
	Platform string `json:"platform,omitempty"`
	TabID    string `json:"tabId,omitempty"`
	PageURL  string `json:"pageUrl,omitempty"`
}

// TabFocusRequest represents the arguments for session_tab_focus.
type TabFocusRequest struct {
	TabID    string `json:"tabId"`
	Platform string `json:"platform"`
}

// SignalsRequest represents the arguments for session_signals.
type SignalsRequest struct {
	TabID string `json:"tabId"`
}

// DashboardRequest represents the arguments for stats_dashboard.
type DashboardRequest struct {
	Days int `json:"days,omitempty"`
}

// DayRequest represents the arguments for stats_day.
type DayRequest struct {
	Date string `json:"date"`
}

// SessionRequest represents the arguments for stats_session.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// HistoryRequest represents the arguments for stats_history.
type HistoryRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ExportRequest represents the arguments for stats_export.
type ExportRequest struct {
	Path            string `json:"path,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	IncludeSessions bool   `json:"include_sessions,omitempty"`
}

// ImportRequest represents the arguments for stats_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// PruneRequest represents the arguments for stats_prune.
type PruneRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// StatusOutput is the session_status result.
type StatusOutput struct {
	session.Status
	Session *session.View `json:"session"`
}

// SignalsOutput is the session_signals result.
type SignalsOutput struct {
	TabID   string           `json:"tabId"`
	Signals []session.Signal `json:"signals"`
}

// Handler implementations

// HandleStart handles the session_start tool call.
func (h *Handlers) HandleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StartRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.app.Aggregator.Start(ctx, session.StartInput{
		Platform: input.Platform,
		TabID:    input.TabID,
		PageURL:  input.PageURL,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStop handles the session_stop tool call.
func (h *Handlers) HandleStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.app.Aggregator.Stop(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRawUpdate handles the session_raw_update tool call.
func (h *Handlers) HandleRawUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := rawArgs(req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	update, err := session.DecodeRawUpdate(data, h.app.Config.FieldMaxChars)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.app.Aggregator.RawUpdate(ctx, update)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleIncremental handles the session_incremental tool call.
func (h *Handlers) HandleIncremental(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := rawArgs(req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	input, err := session.DecodeIncremental(data, h.app.Config.FieldMaxChars)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.app.Aggregator.Incremental(ctx, input.SessionID, input.Items)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTabFocus handles the session_tab_focus tool call.
func (h *Handlers) HandleTabFocus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TabFocusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.app.Aggregator.TabFocus(ctx, input.TabID, input.Platform)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSignals handles the session_signals tool call.
func (h *Handlers) HandleSignals(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SignalsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.TabID == "" {
		return errorResult(errors.NewInvalidRequest("tabId is required")), nil
	}

	return successResult(SignalsOutput{
		TabID:   input.TabID,
		Signals: h.app.Mailbox.Drain(input.TabID),
	})
}

// HandleStatus handles the session_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.app.Aggregator.Status(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	view, err := h.app.Aggregator.View(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(StatusOutput{Status: status, Session: view})
}

// HandleDashboard handles the stats_dashboard tool call.
func (h *Handlers) HandleDashboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DashboardRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Dashboard(ctx, h.app.Store, h.app.Stats, ops.DashboardInput{Days: input.Days})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDay handles the stats_day tool call.
func (h *Handlers) HandleDay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DayRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Day(ctx, h.app.Stats, input.Date)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSession handles the stats_session tool call.
func (h *Handlers) HandleSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetSession(ctx, h.app.Store, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistory handles the stats_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.History(ctx, h.app.Store, ops.HistoryInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the stats_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.app.Store, h.app.Stats, h.app.Config, ops.ExportInput{
		Path:            input.Path,
		From:            input.From,
		To:              input.To,
		IncludeSessions: input.IncludeSessions,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the stats_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.app.Store, h.app.Stats, h.app.Config, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePrune handles the stats_prune tool call.
func (h *Handlers) HandlePrune(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PruneRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Prune(ctx, h.app.Store, h.app.Stats, ops.PruneInput{
		OlderThanDays: input.OlderThanDays,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if lensErr, ok := err.(*errors.LensError); ok {
		errorObj := map[string]any{
			"code":    lensErr.Code,
			"message": lensErr.Message,
			"status":  lensErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if lensErr.Code != errors.ErrInternal && lensErr.Details != nil {
			errorObj["details"] = lensErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

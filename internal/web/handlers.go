package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hpungsan/feedlens/internal/app"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/ops"
	"github.com/hpungsan/feedlens/internal/session"
)

// Handlers contains HTTP route handlers for the tracker API and the UI.
type Handlers struct {
	app      *app.App
	renderer *Renderer
}

// tabFocusRequest is the body of POST /v1/tabs/focus.
type tabFocusRequest struct {
	TabID    string `json:"tabId"`
	Platform string `json:"platform"`
}

// statusResponse is the body of GET /v1/status.
type statusResponse struct {
	session.Status
	Session *session.View `json:"session"`
}

// signalResponse is the body of GET /v1/tabs/{tab}/signal.
type signalResponse struct {
	TabID   string           `json:"tabId"`
	Signals []session.Signal `json:"signals"`
}

// HandleStart handles POST /v1/session/start. An empty body is allowed.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var input session.StartInput
	if err := decodeBody(r, &input, true); err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := h.app.Aggregator.Start(r.Context(), input)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyActive {
		status = http.StatusOK
	}
	renderJSON(w, status, result)
}

// HandleStop handles POST /v1/session/stop. It answers 202 while
// finalization runs in the background.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Aggregator.Stop(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	status := http.StatusOK
	if result.Stopped {
		status = http.StatusAccepted
	}
	renderJSON(w, status, result)
}

// HandleRaw handles POST /v1/session/raw. Every supported snapshot shape is
// normalized by session.DecodeRawUpdate.
func (h *Handlers) HandleRaw(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	update, err := session.DecodeRawUpdate(data, h.app.Config.FieldMaxChars)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := h.app.Aggregator.RawUpdate(r.Context(), update)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleIncremental handles POST /v1/session/incremental.
func (h *Handlers) HandleIncremental(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	input, err := session.DecodeIncremental(data, h.app.Config.FieldMaxChars)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := h.app.Aggregator.Incremental(r.Context(), input.SessionID, input.Items)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleTabFocus handles POST /v1/tabs/focus.
func (h *Handlers) HandleTabFocus(w http.ResponseWriter, r *http.Request) {
	var input tabFocusRequest
	if err := decodeBody(r, &input, false); err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := h.app.Aggregator.TabFocus(r.Context(), input.TabID, input.Platform)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleSignal handles GET /v1/tabs/{tab}/signal. Signals are consumed by
// the read.
func (h *Handlers) HandleSignal(w http.ResponseWriter, r *http.Request) {
	tab := r.PathValue("tab")
	renderJSON(w, http.StatusOK, signalResponse{
		TabID:   tab,
		Signals: h.app.Mailbox.Drain(tab),
	})
}

// HandleStatus handles GET /v1/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Aggregator.Status(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	view, err := h.app.Aggregator.View(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, statusResponse{Status: status, Session: view})
}

// HandleDashboard handles GET /v1/dashboard.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Dashboard(r.Context(), h.app.Store, h.app.Stats, ops.DashboardInput{
		Days: parseIntParam(r, "days", 0),
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDay handles GET /v1/days/{date}.
func (h *Handlers) HandleDay(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Day(r.Context(), h.app.Stats, r.PathValue("date"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleHistory handles GET /v1/sessions.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	result, err := ops.History(r.Context(), h.app.Store, ops.HistoryInput{
		Limit:  parseIntParam(r, "limit", 0),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleSession handles GET /v1/sessions/{id}.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	result, err := ops.GetSession(r.Context(), h.app.Store, r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleDashboardPage handles GET / — the HTML dashboard.
func (h *Handlers) HandleDashboardPage(w http.ResponseWriter, r *http.Request) {
	dash, err := ops.Dashboard(r.Context(), h.app.Store, h.app.Stats, ops.DashboardInput{
		Days: parseIntParam(r, "days", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	status, err := h.app.Aggregator.Status(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	data := DashboardPageData{
		PageData: PageData{
			Title:   "Dashboard",
			Version: h.renderer.version,
			Nav:     "dashboard",
		},
		Dashboard: dash,
		Status:    status,
		Window:    dayRows(dash.Window),
		Totals:    dayRow(dash.Totals),
	}
	if dash.LastSession != nil {
		data.LastReport = renderMarkdown(SessionReport(dash.LastSession))
	}
	h.renderer.renderPage(w, r, "dashboard", data)
}

// HandleSessionPage handles GET /sessions/{id} — one session's report.
func (h *Handlers) HandleSessionPage(w http.ResponseWriter, r *http.Request) {
	rec, err := ops.GetSession(r.Context(), h.app.Store, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "session", SessionPageData{
		PageData: PageData{
			Title:   "Session " + rec.SessionID,
			Version: h.renderer.version,
			Nav:     "sessions",
		},
		Record:       rec,
		RenderedHTML: renderMarkdown(SessionReport(rec)),
	})
}

// Helper functions

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("read body: %v", err))
	}
	if len(data) > maxBodyBytes {
		return nil, errors.NewInvalidRequest("request body too large")
	}
	return data, nil
}

// decodeBody unmarshals a JSON body into v. allowEmpty accepts an empty body
// as the zero value.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.NewInvalidRequest("request body is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

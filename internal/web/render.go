package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/ops"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/stats"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "dashboard", "sessions"
}

// DashboardPageData is the template data for the dashboard page.
type DashboardPageData struct {
	PageData
	Dashboard  *ops.DashboardOutput
	Status     session.Status
	Window     []DayRow
	Totals     DayRow
	LastReport template.HTML
}

// SessionPageData is the template data for the session report page.
type SessionPageData struct {
	PageData
	Record       *session.Record
	RenderedHTML template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Share is one category's slice of a day.
type Share struct {
	Label   string
	Ms      int64
	Percent float64
}

// DayRow is a daily bucket flattened for table rendering.
type DayRow struct {
	Date     string
	TotalMs  int64
	Sessions int
	Topics   []Share
	Emotions []Share
}

func dayRow(b stats.Bucket) DayRow {
	row := DayRow{
		Date:     b.Date,
		TotalMs:  b.TotalMs,
		Sessions: b.SessionCount,
		Topics:   make([]Share, 0, len(taxonomy.DisplayTopics)),
		Emotions: make([]Share, 0, len(taxonomy.DisplayEmotions)),
	}
	for _, t := range taxonomy.DisplayTopics {
		row.Topics = append(row.Topics, share(string(t), b.TopicMs[t], b.TotalMs))
	}
	for _, e := range taxonomy.DisplayEmotions {
		row.Emotions = append(row.Emotions, share(string(e), b.EmotionMs[e], b.TotalMs))
	}
	return row
}

func dayRows(buckets []stats.Bucket) []DayRow {
	rows := make([]DayRow, len(buckets))
	for i, b := range buckets {
		rows[i] = dayRow(b)
	}
	return rows
}

func share(label string, ms, total int64) Share {
	s := Share{Label: label, Ms: ms}
	if total > 0 {
		s.Percent = float64(ms) * 100 / float64(total)
	}
	return s
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"percent":        func(f float64) string { return fmt.Sprintf("%.0f%%", f) },
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"dashboard": "dashboard.html",
		"session":   "session.html",
		"error":     "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, _ *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("web: template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("web: template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	lErr := asLensError(err)

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		writeAPIError(w, lErr)
		return
	}

	r.renderPageStatus(w, req, lErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", lErr.Status),
			Version: r.version,
		},
		StatusCode: lErr.Status,
		Message:    lErr.Message,
	})
}

// writeAPIError writes the JSON error payload. Internal error messages are
// replaced with a generic one.
func writeAPIError(w http.ResponseWriter, err error) {
	lErr := asLensError(err)
	errorObj := map[string]any{
		"code":    string(lErr.Code),
		"message": lErr.Message,
		"status":  lErr.Status,
	}
	if lErr.Code == errors.ErrInternal {
		log.Printf("web: internal error: %v", lErr)
		errorObj["message"] = "an internal error occurred"
	} else if lErr.Details != nil {
		errorObj["details"] = lErr.Details
	}
	renderJSON(w, lErr.Status, map[string]any{"error": errorObj})
}

func asLensError(err error) *errors.LensError {
	var lErr *errors.LensError
	if !stderrors.As(err, &lErr) {
		lErr = errors.NewInternal(err)
	}
	return lErr
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// markdown renders session reports; tables need the GFM extension.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a timestamp as "2006-01-02 15:04" local time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// formatDuration renders milliseconds as "1h 02m", "3m 05s" or "12s".
func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

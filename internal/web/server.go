package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/feedlens/internal/app"
	"github.com/hpungsan/feedlens/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// maxBodyBytes bounds inbound tracker messages. Snapshots may carry data:
// URL thumbnails.
const maxBodyBytes = 8 << 20

// NewServer creates the HTTP server for page trackers and the dashboard UI.
func NewServer(a *app.App, version, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(a, version),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed, header-wrapped handler.
func NewHandler(a *app.App, version string) http.Handler {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		app:      a,
		renderer: NewRenderer(templateSub, version),
	}

	mux := http.NewServeMux()

	// Tracker API
	mux.HandleFunc("POST /v1/session/start", h.HandleStart)
	mux.HandleFunc("POST /v1/session/stop", h.HandleStop)
	mux.HandleFunc("POST /v1/session/raw", h.HandleRaw)
	mux.HandleFunc("POST /v1/session/incremental", h.HandleIncremental)
	mux.HandleFunc("POST /v1/tabs/focus", h.HandleTabFocus)
	mux.HandleFunc("GET /v1/tabs/{tab}/signal", h.HandleSignal)

	// Consumer API
	mux.HandleFunc("GET /v1/status", h.HandleStatus)
	mux.HandleFunc("GET /v1/dashboard", h.HandleDashboard)
	mux.HandleFunc("GET /v1/days/{date}", h.HandleDay)
	mux.HandleFunc("GET /v1/sessions", h.HandleHistory)
	mux.HandleFunc("GET /v1/sessions/{id}", h.HandleSession)

	// UI
	mux.HandleFunc("GET /{$}", h.HandleDashboardPage)
	mux.HandleFunc("GET /sessions/{id}", h.HandleSessionPage)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	mux.Handle("GET /metrics", metrics.Handler(a.Registry))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("web: feedlens running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("web: WARNING: server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("web: shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

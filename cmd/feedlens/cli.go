package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/app"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/ops"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/web"
)

// maxStdinBytes bounds piped classify input.
const maxStdinBytes = 8 << 20

// newCLIApp creates the CLI application with all commands. a may be nil when
// only help or version output is requested.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "feedlens",
		Usage:   "Feed session analytics",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(a),
			classifyCmd(a),
			dashboardCmd(a),
			dayCmd(a),
			historyCmd(a),
			sessionCmd(a),
			exportCmd(a),
			importCmd(a),
			pruneCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// serveCmd creates the serve command.
func serveCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the tracker API, the dashboard, and /metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 7811, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			warnUnknownDisabled(a.Config)
			srv := web.NewServer(a, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv)
		},
	}
}

// classifyCmd creates the classify command.
func classifyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify items read from stdin (a JSON array, or an object with an items array)",
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("items must be piped via stdin"))
			}
			data, err := readStdin()
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			items, err := parseItems(data)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(a.Analyzer.Analyze(c.Context, items))
		},
	}
}

// dashboardCmd creates the dashboard command.
func dashboardCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show today, the trailing window, and recent sessions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Trailing window in days"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Dashboard(c.Context, a.Store, a.Stats, ops.DashboardInput{
				Days: c.Int("days"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// dayCmd creates the day command.
func dayCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "day",
		Usage:     "Show one daily bucket",
		ArgsUsage: "<YYYY-MM-DD>",
		Action: func(c *cli.Context) error {
			output, err := ops.Day(c.Context, a.Stats, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded sessions, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum sessions to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(c.Context, a.Store, ops.HistoryInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// sessionCmd creates the session command.
func sessionCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Show a recorded session (the last one when no ID is given)",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "markdown", Aliases: []string{"md"}, Usage: "Print the markdown report instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			var (
				rec *session.Record
				err error
			)
			if id := c.Args().First(); id != "" {
				rec, err = ops.GetSession(c.Context, a.Store, id)
			} else {
				rec, err = ops.LastSession(c.Context, a.Store)
			}
			if err != nil {
				return outputError(err)
			}
			if rec == nil {
				return outputError(errors.NewNotFound("last session"))
			}
			if c.Bool("markdown") {
				_, err := fmt.Fprint(os.Stdout, web.SessionReport(rec))
				return err
			}
			return outputJSON(rec)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export daily buckets (and optionally sessions) to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.feedlens/exports/feedlens-<range>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "from", Usage: "First date to export (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Usage: "Last date to export (YYYY-MM-DD)"},
			&cli.BoolFlag{Name: "sessions", Aliases: []string{"s"}, Usage: "Include session records"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, a.Store, a.Stats, a.Config, ops.ExportInput{
				Path:            c.String("path"),
				From:            c.String("from"),
				To:              c.String("to"),
				IncludeSessions: c.Bool("sessions"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import daily buckets and sessions from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "skip", Usage: "Collision mode: skip|replace"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, a.Store, a.Stats, a.Config, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// pruneCmd creates the prune command.
func pruneCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete daily buckets and sessions older than a cutoff",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Required: true, Usage: "Age cutoff in days (e.g., 90d)"},
		},
		Action: func(c *cli.Context) error {
			days, err := parseDuration(c.String("older-than"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			output, err := ops.Prune(c.Context, a.Store, a.Stats, ops.PruneInput{OlderThanDays: days})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// parseItems accepts a JSON array of items or an object with an "items" array.
func parseItems(data string) ([]analysis.Item, error) {
	var items []analysis.Item
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "{") {
		var wrapper struct {
			Items []analysis.Item `json:"items"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid JSON: %v", err))
		}
		items = wrapper.Items
	} else if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	for i := range items {
		if items[i].Key == "" {
			items[i].Key = strconv.Itoa(i)
		}
	}
	return items, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var lErr *errors.LensError
	if stderrors.As(err, &lErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", lErr.Code, lErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, up to maxStdinBytes.
func readStdin() (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxStdinBytes {
		return "", fmt.Errorf("input exceeds %d bytes", maxStdinBytes)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/stats"
)

// ExportSchemaVersion is written to the header line of every export.
const ExportSchemaVersion = "1.0"

// Export line types.
const (
	LineDaily   = "daily"
	LineSession = "session"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path            string // optional, default: ~/.feedlens/exports/feedlens-<range>-<timestamp>.jsonl
	From            string // optional first date (inclusive)
	To              string // optional last date (inclusive)
	IncludeSessions bool   // also write the records in the session history
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Days       int    `json:"days"`
	Sessions   int    `json:"sessions"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader represents the header line in a JSONL export file.
type ExportHeader struct {
	FeedlensExport bool   `json:"_feedlens_export"`
	SchemaVersion  string `json:"schema_version"`
	ExportedAt     int64  `json:"exported_at"`
}

// ExportLine is one data line of an export file.
type ExportLine struct {
	Type    string          `json:"type"`
	Bucket  *stats.Bucket   `json:"bucket,omitempty"`
	Session *session.Record `json:"session,omitempty"`
}

// Export writes daily buckets (and optionally session records) to a JSONL
// file. The file is written to a temp name and renamed into place, so an
// existing export is preserved on failure.
func Export(ctx context.Context, s kv.Store, st *stats.Store, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	if err := validateRange(input.From, input.To); err != nil {
		return nil, err
	}

	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(input.From, input.To, now)
		if err != nil {
			return nil, err
		}
	}

	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	dir := filepath.Dir(exportPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	if err := writeLine(w, ExportHeader{
		FeedlensExport: true,
		SchemaVersion:  ExportSchemaVersion,
		ExportedAt:     exportedAt,
	}); err != nil {
		return nil, err
	}

	dates, err := st.Dates(ctx)
	if err != nil {
		return nil, err
	}
	out := &ExportOutput{ExportedAt: exportedAt}
	for _, d := range dates {
		if !inRange(d, input.From, input.To) {
			continue
		}
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("export")
		}
		b, err := st.Read(ctx, d)
		if err != nil {
			return nil, err
		}
		if err := writeLine(w, ExportLine{Type: LineDaily, Bucket: &b}); err != nil {
			return nil, err
		}
		out.Days++
	}

	if input.IncludeSessions {
		ids, err := readHistory(ctx, s)
		if err != nil {
			return nil, err
		}
		// oldest first, so an import rebuilds history in the same order
		for i := len(ids) - 1; i >= 0; i-- {
			rec, err := GetSession(ctx, s, ids[i])
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !inRange(stats.DateKey(rec.StartedAt), input.From, input.To) {
				continue
			}
			if err := writeLine(w, ExportLine{Type: LineSession, Session: rec}); err != nil {
				return nil, err
			}
			out.Sessions++
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// On Windows, os.Rename fails if the destination exists. Fail safely
	// rather than delete+rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	out.Path = exportPath
	return out, nil
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternal(err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func validateRange(from, to string) error {
	if from != "" && !stats.ValidDate(from) {
		return errors.NewInvalidRequest("from must be a YYYY-MM-DD date")
	}
	if to != "" && !stats.ValidDate(to) {
		return errors.NewInvalidRequest("to must be a YYYY-MM-DD date")
	}
	if from != "" && to != "" && from > to {
		return errors.NewInvalidRequest("from must not be after to")
	}
	return nil
}

// inRange compares ISO dates lexically.
func inRange(date, from, to string) bool {
	return (from == "" || date >= from) && (to == "" || date <= to)
}

// defaultExportPath generates the default export path.
// Format: ~/.feedlens/exports/feedlens-<from>_<to>-<timestamp>.jsonl or feedlens-all-<timestamp>.jsonl
func defaultExportPath(from, to string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}

	name := "all"
	if from != "" || to != "" {
		name = SanitizeForFilename(from + "_" + to)
	}
	filename := fmt.Sprintf("feedlens-%s-%s.jsonl", name, now.Format("2006-01-02T150405"))
	return filepath.Join(dir, filename), nil
}

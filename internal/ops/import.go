package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/errors"
	"github.com/hpungsan/feedlens/internal/kv"
	"github.com/hpungsan/feedlens/internal/stats"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeSkip    ImportMode = "skip"    // keep existing buckets and sessions
	ImportModeReplace ImportMode = "replace" // overwrite on collision
)

// maxImportLine bounds one JSONL line. Session records carry raw items.
const maxImportLine = 16 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: skip
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Days     int           `json:"days"`
	Sessions int           `json:"sessions"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError represents an error that occurred during import.
type ImportError struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import restores daily buckets and session records from an export file.
// A session already listed in its day's bucket (normally restored by the
// daily line of the same export) is not folded again.
func Import(ctx context.Context, s kv.Store, st *stats.Store, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeSkip
	}
	if input.Mode != ImportModeSkip && input.Mode != ImportModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: skip, replace")
	}
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	out := &ImportOutput{Errors: []ImportError{}}
	rec := NewRecorder(s, st, historyLimit(cfg))
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	lineNum := 0
	sawHeader := false
	for scanner.Scan() {
		lineNum++
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("import")
		}

		var entry struct {
			ExportHeader
			ExportLine
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			out.Errors = append(out.Errors, ImportError{Line: lineNum, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if entry.FeedlensExport {
			sawHeader = true
			continue
		}

		switch {
		case entry.Type == LineDaily && entry.Bucket != nil:
			ok, err := importBucket(ctx, st, entry.Bucket, input.Mode)
			if err != nil {
				out.Errors = append(out.Errors, ImportError{Line: lineNum, Code: "INVALID_RECORD", Message: err.Error()})
				continue
			}
			if ok {
				out.Days++
			} else {
				out.Skipped++
			}

		case entry.Type == LineSession && entry.Session != nil:
			id, err := ValidateSessionID(entry.Session.SessionID)
			if err != nil {
				out.Errors = append(out.Errors, ImportError{Line: lineNum, Code: "INVALID_RECORD", Message: err.Error()})
				continue
			}
			_, err = GetSession(ctx, s, id)
			switch {
			case err == nil && input.Mode == ImportModeSkip:
				out.Skipped++
				continue
			case err != nil && !errors.Is(err, errors.ErrNotFound):
				return nil, err
			}
			if err := rec.Record(ctx, entry.Session); err != nil {
				return nil, err
			}
			out.Sessions++

		default:
			out.Errors = append(out.Errors, ImportError{Line: lineNum, Code: "INVALID_RECORD", Message: "unknown line type"})
		}
	}
	if err := scanner.Err(); err != nil {
		out.Errors = append(out.Errors, ImportError{Line: lineNum, Code: "READ_ERROR", Message: fmt.Sprintf("failed to read file: %v", err)})
	}
	if !sawHeader && lineNum > 0 {
		out.Errors = append(out.Errors, ImportError{Line: 1, Code: "MISSING_HEADER", Message: "file has no feedlens export header"})
	}
	return out, nil
}

func importBucket(ctx context.Context, st *stats.Store, b *stats.Bucket, mode ImportMode) (bool, error) {
	if !stats.ValidDate(b.Date) {
		return false, fmt.Errorf("invalid bucket date %q", b.Date)
	}
	if mode == ImportModeSkip {
		existing, err := st.Read(ctx, b.Date)
		if err != nil {
			return false, err
		}
		if existing.SessionCount > 0 || existing.TotalMs > 0 {
			return false, nil
		}
	}
	if err := st.Replace(ctx, *b); err != nil {
		return false, err
	}
	return true, nil
}

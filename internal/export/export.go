// Package export writes a user's food log entries to a CSV file one page at a time.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

// Header is the fixed first row of every export.
var Header = []string{"id", "name", "labels", "timeStart", "timeEnd", "metrics"}

// Pager fetches up to limit entries after cursor. An empty next cursor ends the export.
// The first call receives an empty cursor.
type Pager func(ctx context.Context, cursor string, limit int) (entries []*model.FoodLogEntry, next string, err error)

// Writer creates export files in Dir, fetching PageSize rows at a time.
type Writer struct {
	Dir      string
	PageSize int
}

// Run streams every page from pager into a new <Dir>/<uuid>.csv and returns its path.
// On failure the partial file is removed and a system error returned.
func (w Writer) Run(ctx context.Context, pager Pager) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", model.NewSystemError(err)
	}
	path := filepath.Join(w.Dir, uuid.NewString()+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", model.NewSystemError(err)
	}

	if err := w.write(ctx, f, pager); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", model.NewSystemError(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", model.NewSystemError(err)
	}
	return path, nil
}

func (w Writer) write(ctx context.Context, f *os.File, pager Pager) error {
	limit := w.PageSize
	if limit <= 0 {
		limit = 250
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(Header); err != nil {
		return err
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, next, err := pager(ctx, cursor, limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			row, err := Row(e)
			if err != nil {
				return err
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if next == cursor {
			return fmt.Errorf("export pager returned the same cursor %q twice", next)
		}
		cursor = next
	}
}

// Row renders one entry. Labels and metrics are embedded JSON, times ISO-8601 UTC.
func Row(e *model.FoodLogEntry) ([]string, error) {
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	lb, err := json.Marshal(labels)
	if err != nil {
		return nil, err
	}
	metrics := e.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	mb, err := json.Marshal(metrics)
	if err != nil {
		return nil, err
	}
	return []string{
		e.ID,
		e.Name,
		string(lb),
		strfmt.DateTime(e.Time.Start.UTC()).String(),
		strfmt.DateTime(e.Time.End.UTC()).String(),
		string(mb),
	}, nil
}

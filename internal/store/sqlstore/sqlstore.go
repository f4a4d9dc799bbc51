// Package sqlstore implements store.Store over database/sql. Engine differences
// (placeholders, column types, upsert) are supplied by a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfooddiary/openfooddiary/server/internal/export"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

// Dialect captures what differs between SQL engines.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Schema returns idempotent DDL statements.
	Schema() []string
	// UpsertConfig replaces the configuration row for (userID, id).
	UpsertConfig(ctx context.Context, db *sql.DB, userID, id, value string) error
}

// Store is the relational store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	opts    store.Options
}

// New constructs a relational store over an open connection.
func New(db *sql.DB, dialect Dialect, opts store.Options) *Store {
	return &Store{db: db, dialect: dialect, opts: opts.WithDefaults()}
}

func (s *Store) Name() string                         { return s.dialect.Name() }
func (s *Store) FoodLogs() store.FoodLogs             { return &foodLogs{s} }
func (s *Store) Configurations() store.Configurations { return &configurations{s} }

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

// HealthPing implements health.HealthPinger for SQL-backed stores.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Setup applies the dialect schema.
func (s *Store) Setup(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return model.NewSystemError(err)
		}
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return model.NewSystemError(err)
	}
	return nil
}

// rebind rewrites ? markers with the dialect's placeholders.
func (s *Store) rebind(query string) string {
	if s.dialect.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Epoch converts t to epoch seconds with millisecond precision.
func Epoch(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// FromEpoch is the inverse of Epoch.
func FromEpoch(f float64) time.Time {
	return time.UnixMilli(int64(math.Round(f * 1000))).UTC()
}

// DollarPlaceholder numbers arguments as $1, $2, ...
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

const entryColumns = `id, name, labels, metrics, time_start, time_end`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*model.FoodLogEntry, error) {
	var (
		e               model.FoodLogEntry
		labels, metrics string
		start, end      float64
	)
	if err := r.Scan(&e.ID, &e.Name, &labels, &metrics, &start, &end); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metrics), &e.Metrics); err != nil {
		return nil, err
	}
	if e.Labels == nil {
		e.Labels = []string{}
	}
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}
	e.Time = model.TimeRange{Start: FromEpoch(start), End: FromEpoch(end)}
	return &e, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

type foodLogs struct{ s *Store }

func (f *foodLogs) Store(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	if err := store.CheckCreate(userID, in, f.s.opts); err != nil {
		return "", err
	}
	e := model.NewFoodLogEntry(uuid.NewString(), in)
	labels, err := encodeJSON(e.Labels)
	if err != nil {
		return "", model.NewSystemError(err)
	}
	metrics, err := encodeJSON(e.Metrics)
	if err != nil {
		return "", model.NewSystemError(err)
	}
	_, err = f.s.db.ExecContext(ctx, f.s.rebind(`
        INSERT INTO user_foodlogentry (user_id, id, name, labels, metrics, time_start, time_end)
        VALUES (?,?,?,?,?,?,?)
    `), userID, e.ID, e.Name, labels, metrics, Epoch(e.Time.Start), Epoch(e.Time.End))
	if err != nil {
		return "", model.NewSystemError(err)
	}
	return e.ID, nil
}

func (f *foodLogs) Retrieve(ctx context.Context, userID, id string) (*model.FoodLogEntry, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	row := f.s.db.QueryRowContext(ctx, f.s.rebind(`
        SELECT `+entryColumns+` FROM user_foodlogentry WHERE user_id=? AND id=?
    `), userID, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return e, nil
}

// Edit updates only the supplied columns, then re-reads the row.
func (f *foodLogs) Edit(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	if err := store.CheckEdit(userID, in, f.s.opts); err != nil {
		return nil, err
	}
	var (
		sets []string
		args []any
	)
	if in.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *in.Name)
	}
	if in.Labels != nil {
		v, err := encodeJSON(in.Labels)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		sets = append(sets, "labels=?")
		args = append(args, v)
	}
	if in.Metrics != nil {
		v, err := encodeJSON(in.Metrics)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		sets = append(sets, "metrics=?")
		args = append(args, v)
	}
	if in.Time != nil {
		sets = append(sets, "time_start=?", "time_end=?")
		args = append(args, Epoch(model.NormalizeTime(in.Time.Start)), Epoch(model.NormalizeTime(in.Time.End)))
	}
	if len(sets) == 0 {
		return f.Retrieve(ctx, userID, in.ID)
	}

	args = append(args, userID, in.ID)
	res, err := f.s.db.ExecContext(ctx, f.s.rebind(
		`UPDATE user_foodlogentry SET `+strings.Join(sets, ", ")+` WHERE user_id=? AND id=?`), args...)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	if n == 0 {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	return f.Retrieve(ctx, userID, in.ID)
}

func (f *foodLogs) Delete(ctx context.Context, userID, id string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	_, err := f.s.db.ExecContext(ctx, f.s.rebind(`DELETE FROM user_foodlogentry WHERE user_id=? AND id=?`), userID, id)
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

func (f *foodLogs) Query(ctx context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error) {
	if err := store.CheckRange(userID, start, end); err != nil {
		return nil, err
	}
	rows, err := f.s.db.QueryContext(ctx, f.s.rebind(`
        SELECT `+entryColumns+` FROM user_foodlogentry
        WHERE user_id=? AND time_start <= ? AND time_end >= ?
        ORDER BY time_start, id
    `), userID, Epoch(end), Epoch(start))
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	defer rows.Close()
	out, err := collect(rows)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

func collect(rows *sql.Rows) ([]*model.FoodLogEntry, error) {
	out := []*model.FoodLogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (f *foodLogs) Purge(ctx context.Context, userID string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	if _, err := f.s.db.ExecContext(ctx, f.s.rebind(`DELETE FROM user_foodlogentry WHERE user_id=?`), userID); err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

func (f *foodLogs) BulkExport(ctx context.Context, userID string) (string, error) {
	if err := store.CheckUser(userID); err != nil {
		return "", err
	}
	w := export.Writer{Dir: f.s.opts.ExportDir, PageSize: f.s.opts.ExportPageSize}
	return w.Run(ctx, f.page(userID))
}

// page is a keyset pager ordered by id. It fetches limit+1 rows to detect the last page.
func (f *foodLogs) page(userID string) export.Pager {
	q := f.s.rebind(`
        SELECT ` + entryColumns + ` FROM user_foodlogentry
        WHERE user_id=? AND id > ?
        ORDER BY id
        LIMIT ?
    `)
	return func(ctx context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		rows, err := f.s.db.QueryContext(ctx, q, userID, cursor, limit+1)
		if err != nil {
			return nil, "", err
		}
		defer rows.Close()
		out, err := collect(rows)
		if err != nil {
			return nil, "", err
		}
		if len(out) <= limit {
			return out, "", nil
		}
		out = out[:limit]
		return out, out[limit-1].ID, nil
	}
}

type configurations struct{ s *Store }

func (c *configurations) Store(ctx context.Context, userID string, cfg model.Configuration) (model.ConfigurationID, error) {
	if err := store.CheckConfiguration(userID, cfg); err != nil {
		return "", err
	}
	raw, err := cfg.EncodeValue()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	if err := c.s.dialect.UpsertConfig(ctx, c.s.db, userID, string(cfg.ID), string(raw)); err != nil {
		return "", model.NewSystemError(err)
	}
	return cfg.ID, nil
}

func (c *configurations) Retrieve(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	var raw string
	err := c.s.db.QueryRowContext(ctx, c.s.rebind(`
        SELECT serialised_value FROM user_config WHERE user_id=? AND id=?
    `), userID, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewNotFoundError(model.MsgConfigNotFound)
	}
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	out, err := model.DecodeConfiguration(id, []byte(raw))
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

func (c *configurations) Query(ctx context.Context, userID string) ([]*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(`
        SELECT id, serialised_value FROM user_config WHERE user_id=? ORDER BY id
    `), userID)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	defer rows.Close()
	out := []*model.Configuration{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, model.NewSystemError(err)
		}
		cfg, err := model.DecodeConfiguration(model.ConfigurationID(id), []byte(raw))
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

func (c *configurations) Delete(ctx context.Context, userID string, id model.ConfigurationID) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	_, err := c.s.db.ExecContext(ctx, c.s.rebind(`DELETE FROM user_config WHERE user_id=? AND id=?`), userID, string(id))
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

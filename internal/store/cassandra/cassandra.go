// Package cassandra stores food logs in a wide-column table partitioned by user.
//
// Range queries filter the user's partition server-side on the timestart/timeend
// columns, which carry secondary indexes. Bulk export walks the partition with
// driver page state, so memory use is bounded by one page.
package cassandra

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/gocql/gocql"

	"github.com/openfooddiary/openfooddiary/server/internal/export"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

// Store is the Cassandra store.Store.
type Store struct {
	session  *gocql.Session
	keyspace string
	rf       int
	opts     store.Options
}

// New wraps an open session. Tables live in keyspace, created by Setup with
// SimpleStrategy and the given replication factor.
func New(session *gocql.Session, keyspace string, replicationFactor int, opts store.Options) *Store {
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	return &Store{session: session, keyspace: keyspace, rf: replicationFactor, opts: opts.WithDefaults()}
}

func (s *Store) Name() string                         { return "cassandra" }
func (s *Store) FoodLogs() store.FoodLogs             { return &foodLogs{s} }
func (s *Store) Configurations() store.Configurations { return &configurations{s} }

// table qualifies name with the keyspace.
func (s *Store) table(name string) string { return s.keyspace + "." + name }

func (s *Store) query(ctx context.Context, stmt string, args ...interface{}) *gocql.Query {
	return s.session.Query(stmt, args...).WithContext(ctx)
}

// Schema returns the idempotent keyspace, table and index statements.
func (s *Store) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`, s.keyspace, s.rf),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            userid text,
            id uuid,
            name text,
            labels list<text>,
            metrics map<text, double>,
            timestart timestamp,
            timeend timestamp,
            PRIMARY KEY ((userid), id)
        )`, s.table("user_foodlogentry")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS user_foodlogentry_timestart ON %s (timestart)`, s.table("user_foodlogentry")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS user_foodlogentry_timeend ON %s (timeend)`, s.table("user_foodlogentry")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            user_id text,
            id text,
            serialised_value text,
            PRIMARY KEY ((user_id), id)
        )`, s.table("user_config")),
	}
}

func (s *Store) Setup(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if err := s.query(ctx, stmt).Exec(); err != nil {
			return model.NewSystemError(err)
		}
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.session.Close()
	return nil
}

func (s *Store) HealthPing(ctx context.Context) error {
	var version string
	return s.query(ctx, `SELECT release_version FROM system.local`).Scan(&version)
}

const entryColumns = `id, name, labels, metrics, timestart, timeend`

// scanEntries drains sc into entries.
func scanEntries(sc gocql.Scanner, sizeHint int) ([]*model.FoodLogEntry, error) {
	out := make([]*model.FoodLogEntry, 0, sizeHint)
	for sc.Next() {
		var (
			id         gocql.UUID
			e          model.FoodLogEntry
			start, end time.Time
		)
		if err := sc.Scan(&id, &e.Name, &e.Labels, &e.Metrics, &start, &end); err != nil {
			return nil, err
		}
		out = append(out, finishEntry(id, &e, start, end))
	}
	return out, sc.Err()
}

// finishEntry normalises driver nulls: empty collections are stored as null.
func finishEntry(id gocql.UUID, e *model.FoodLogEntry, start, end time.Time) *model.FoodLogEntry {
	e.ID = id.String()
	if e.Labels == nil {
		e.Labels = []string{}
	}
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}
	e.Time = model.TimeRange{Start: start.UTC(), End: end.UTC()}
	return e
}

// parseID returns false for ids this backend could never have issued.
func parseID(id string) (gocql.UUID, bool) {
	if !strfmt.IsUUID(id) {
		return gocql.UUID{}, false
	}
	u, err := gocql.ParseUUID(id)
	return u, err == nil
}

// buildUpdate renders the SET clause for the supplied fields of an edit.
func buildUpdate(table string, in model.EditFoodLogEntry) (string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	if in.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *in.Name)
	}
	if in.Labels != nil {
		sets = append(sets, "labels = ?")
		args = append(args, in.Labels)
	}
	if in.Metrics != nil {
		sets = append(sets, "metrics = ?")
		args = append(args, in.Metrics)
	}
	if in.Time != nil {
		sets = append(sets, "timestart = ?", "timeend = ?")
		args = append(args, model.NormalizeTime(in.Time.Start), model.NormalizeTime(in.Time.End))
	}
	if len(sets) == 0 {
		return "", nil
	}
	return fmt.Sprintf(`UPDATE %s SET %s WHERE userid = ? AND id = ? IF EXISTS`, table, strings.Join(sets, ", ")), args
}

type foodLogs struct{ s *Store }

func (f *foodLogs) Store(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	if err := store.CheckCreate(userID, in, f.s.opts); err != nil {
		return "", err
	}
	id, err := gocql.RandomUUID()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	e := model.NewFoodLogEntry(id.String(), in)
	err = f.s.query(ctx,
		`INSERT INTO `+f.s.table("user_foodlogentry")+` (userid, id, name, labels, metrics, timestart, timeend) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, id, e.Name, e.Labels, e.Metrics, e.Time.Start, e.Time.End,
	).Exec()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	return e.ID, nil
}

func (f *foodLogs) Retrieve(ctx context.Context, userID, id string) (*model.FoodLogEntry, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	uid, ok := parseID(id)
	if !ok {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	var (
		rowID      gocql.UUID
		e          model.FoodLogEntry
		start, end time.Time
	)
	err := f.s.query(ctx,
		`SELECT `+entryColumns+` FROM `+f.s.table("user_foodlogentry")+` WHERE userid = ? AND id = ?`,
		userID, uid,
	).Scan(&rowID, &e.Name, &e.Labels, &e.Metrics, &start, &end)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return finishEntry(rowID, &e, start, end), nil
}

// Edit uses a lightweight transaction so a missing row is reported, not upserted.
func (f *foodLogs) Edit(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	if err := store.CheckEdit(userID, in, f.s.opts); err != nil {
		return nil, err
	}
	uid, ok := parseID(in.ID)
	if !ok {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	stmt, args := buildUpdate(f.s.table("user_foodlogentry"), in)
	if stmt == "" {
		return f.Retrieve(ctx, userID, in.ID)
	}
	args = append(args, userID, uid)
	applied, err := f.s.query(ctx, stmt, args...).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	if !applied {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	return f.Retrieve(ctx, userID, in.ID)
}

func (f *foodLogs) Delete(ctx context.Context, userID, id string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	uid, ok := parseID(id)
	if !ok {
		return true, nil
	}
	err := f.s.query(ctx, `DELETE FROM `+f.s.table("user_foodlogentry")+` WHERE userid = ? AND id = ?`, userID, uid).Exec()
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

// Query filters the user's partition with ALLOW FILTERING at consistency ONE.
func (f *foodLogs) Query(ctx context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error) {
	if err := store.CheckRange(userID, start, end); err != nil {
		return nil, err
	}
	iter := f.s.query(ctx,
		`SELECT `+entryColumns+` FROM `+f.s.table("user_foodlogentry")+
			` WHERE userid = ? AND timestart <= ? AND timeend >= ? ALLOW FILTERING`,
		userID, end.UTC(), start.UTC(),
	).Consistency(gocql.One).Iter()

	out, err := scanEntries(iter.Scanner(), 0)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

// Purge drops the whole user partition.
func (f *foodLogs) Purge(ctx context.Context, userID string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	if err := f.s.query(ctx, `DELETE FROM `+f.s.table("user_foodlogentry")+` WHERE userid = ?`, userID).Exec(); err != nil {
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

// page uses the driver page state, base64 encoded, as the export cursor.
func (f *foodLogs) page(userID string) export.Pager {
	stmt := `SELECT ` + entryColumns + ` FROM ` + f.s.table("user_foodlogentry") + ` WHERE userid = ?`
	return func(ctx context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		state, err := base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			return nil, "", err
		}
		iter := f.s.query(ctx, stmt, userID).PageSize(limit).PageState(state).Iter()
		next := iter.PageState()

		out, err := scanEntries(iter.Scanner(), limit)
		if err != nil {
			return nil, "", err
		}
		if len(next) == 0 {
			return out, "", nil
		}
		return out, base64.StdEncoding.EncodeToString(next), nil
	}
}

type configurations struct{ s *Store }

// Store relies on CQL INSERT being an upsert.
func (c *configurations) Store(ctx context.Context, userID string, cfg model.Configuration) (model.ConfigurationID, error) {
	if err := store.CheckConfiguration(userID, cfg); err != nil {
		return "", err
	}
	raw, err := cfg.EncodeValue()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	err = c.s.query(ctx,
		`INSERT INTO `+c.s.table("user_config")+` (user_id, id, serialised_value) VALUES (?, ?, ?)`,
		userID, string(cfg.ID), string(raw),
	).Exec()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	return cfg.ID, nil
}

func (c *configurations) Retrieve(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	var raw string
	err := c.s.query(ctx,
		`SELECT serialised_value FROM `+c.s.table("user_config")+` WHERE user_id = ? AND id = ?`,
		userID, string(id),
	).Scan(&raw)
	if errors.Is(err, gocql.ErrNotFound) {
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
	sc := c.s.query(ctx,
		`SELECT id, serialised_value FROM `+c.s.table("user_config")+` WHERE user_id = ?`, userID,
	).Iter().Scanner()

	out := []*model.Configuration{}
	for sc.Next() {
		var id, raw string
		if err := sc.Scan(&id, &raw); err != nil {
			return nil, model.NewSystemError(err)
		}
		cfg, err := model.DecodeConfiguration(model.ConfigurationID(id), []byte(raw))
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		out = append(out, cfg)
	}
	if err := sc.Err(); err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

func (c *configurations) Delete(ctx context.Context, userID string, id model.ConfigurationID) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	err := c.s.query(ctx, `DELETE FROM `+c.s.table("user_config")+` WHERE user_id = ? AND id = ?`, userID, string(id)).Exec()
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

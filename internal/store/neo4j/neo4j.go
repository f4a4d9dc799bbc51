// Package neo4j stores food logs as a graph.
//
// A (:User) node owns its (:FoodLog) nodes through ENTERED_LOG relationships.
// Labels are shared (:FoodLogLabel) nodes linked by HAS_LABEL relationships that
// carry the label's position, so order and duplicates survive. Time bounds are
// epoch-millisecond properties on the log node. Configuration documents hang off
// the user as (:Config {type, value}) nodes.
package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/openfooddiary/openfooddiary/server/internal/export"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

// Config holds the connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	// Database selects a named database; empty uses the server default.
	Database string
}

// NewDriver opens a driver with basic auth. Connectivity is not verified.
func NewDriver(cfg Config) (neo4j.DriverWithContext, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: uri is required")
	}
	return neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
}

var schema = []string{
	`CREATE CONSTRAINT user_userid IF NOT EXISTS FOR (u:User) REQUIRE u.userid IS UNIQUE`,
	`CREATE CONSTRAINT foodloglabel_value IF NOT EXISTS FOR (l:FoodLogLabel) REQUIRE l.value IS UNIQUE`,
	`CREATE INDEX foodlog_id IF NOT EXISTS FOR (f:FoodLog) ON (f.id)`,
}

// Store is the Neo4j store.Store.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	opts     store.Options
}

// New wraps driver; database may be empty.
func New(driver neo4j.DriverWithContext, database string, opts store.Options) *Store {
	return &Store{driver: driver, database: database, opts: opts.WithDefaults()}
}

func (s *Store) Name() string                         { return "neo4j" }
func (s *Store) FoodLogs() store.FoodLogs             { return &foodLogs{s} }
func (s *Store) Configurations() store.Configurations { return &configurations{s} }

func (s *Store) Setup(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		}); err != nil {
			return model.NewSystemError(err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error { return s.driver.Close(ctx) }

func (s *Store) HealthPing(ctx context.Context) error { return s.driver.VerifyConnectivity(ctx) }

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

func (s *Store) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()
	return session.ExecuteWrite(ctx, work)
}

func (s *Store) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()
	return session.ExecuteRead(ctx, work)
}

// collect runs a statement and returns every record.
func collect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

var errNotFound = errors.New("neo4j: no matching node")

// mapErr turns errNotFound from a transaction into the given not-found message.
func mapErr(err error, notFound string) error {
	if errors.Is(err, errNotFound) {
		return model.NewNotFoundError(notFound)
	}
	return model.NewSystemError(err)
}

// entryReturn aggregates labels in position order; callers bind fl.
const entryReturn = `
OPTIONAL MATCH (l:FoodLogLabel)-[r:HAS_LABEL]->(fl)
WITH fl, l, r ORDER BY r.position
RETURN fl.id AS id, fl.name AS name, fl.metrics AS metrics,
       fl.timeStart AS timeStart, fl.timeEnd AS timeEnd, collect(l.value) AS labels`

const setLabels = `
FOREACH (i IN range(0, size($labels) - 1) |
  MERGE (l:FoodLogLabel {value: $labels[i]})
  CREATE (l)-[:HAS_LABEL {position: i}]->(fl))`

// decodeEntry reads a record shaped by entryReturn.
func decodeEntry(rec *neo4j.Record) (*model.FoodLogEntry, error) {
	m := rec.AsMap()
	id, _ := m["id"].(string)
	name, _ := m["name"].(string)
	start, ok := m["timeStart"].(int64)
	if !ok {
		return nil, fmt.Errorf("neo4j: food log %q has no start time", id)
	}
	end, ok := m["timeEnd"].(int64)
	if !ok {
		return nil, fmt.Errorf("neo4j: food log %q has no end time", id)
	}
	e := &model.FoodLogEntry{
		ID:      id,
		Name:    name,
		Labels:  []string{},
		Metrics: map[string]float64{},
		Time: model.TimeRange{
			Start: time.UnixMilli(start).UTC(),
			End:   time.UnixMilli(end).UTC(),
		},
	}
	if raw, _ := m["metrics"].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Metrics); err != nil {
			return nil, fmt.Errorf("neo4j: food log %q metrics: %w", id, err)
		}
	}
	labels, _ := m["labels"].([]any)
	for _, l := range labels {
		if v, ok := l.(string); ok {
			e.Labels = append(e.Labels, v)
		}
	}
	return e, nil
}

func decodeEntries(records []*neo4j.Record) ([]*model.FoodLogEntry, error) {
	out := make([]*model.FoodLogEntry, 0, len(records))
	for _, rec := range records {
		e, err := decodeEntry(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func encodeMetrics(m map[string]float64) (string, error) {
	if m == nil {
		m = map[string]float64{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// retrieve loads one entry inside tx.
func retrieve(ctx context.Context, tx neo4j.ManagedTransaction, userID, id string) (*model.FoodLogEntry, error) {
	records, err := collect(ctx, tx,
		`MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog {id: $id})`+entryReturn,
		map[string]any{"userid": userID, "id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errNotFound
	}
	return decodeEntry(records[0])
}

type foodLogs struct{ s *Store }

func (f *foodLogs) Store(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	if err := store.CheckCreate(userID, in, f.s.opts); err != nil {
		return "", err
	}
	e := model.NewFoodLogEntry(uuid.NewString(), in)
	metrics, err := encodeMetrics(e.Metrics)
	if err != nil {
		return "", model.NewSystemError(err)
	}
	params := map[string]any{
		"userid":    userID,
		"id":        e.ID,
		"name":      e.Name,
		"metrics":   metrics,
		"timeStart": e.Time.Start.UnixMilli(),
		"timeEnd":   e.Time.End.UnixMilli(),
		"labels":    e.Labels,
	}
	_, err = f.s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := collect(ctx, tx, `
MERGE (u:User {userid: $userid})
CREATE (u)-[:ENTERED_LOG]->(fl:FoodLog {id: $id, name: $name, metrics: $metrics, timeStart: $timeStart, timeEnd: $timeEnd})`+setLabels, params)
		return nil, err
	})
	if err != nil {
		return "", model.NewSystemError(err)
	}
	return e.ID, nil
}

func (f *foodLogs) Retrieve(ctx context.Context, userID, id string) (*model.FoodLogEntry, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	out, err := f.s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return retrieve(ctx, tx, userID, id)
	})
	if err != nil {
		return nil, mapErr(err, model.MsgLogNotFound)
	}
	return out.(*model.FoodLogEntry), nil
}

// Edit sets the supplied properties and, when labels are given, rebuilds the label links.
func (f *foodLogs) Edit(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	if err := store.CheckEdit(userID, in, f.s.opts); err != nil {
		return nil, err
	}
	props := map[string]any{}
	if in.Name != nil {
		props["name"] = *in.Name
	}
	if in.Metrics != nil {
		metrics, err := encodeMetrics(in.Metrics)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		props["metrics"] = metrics
	}
	if in.Time != nil {
		props["timeStart"] = model.NormalizeTime(in.Time.Start).UnixMilli()
		props["timeEnd"] = model.NormalizeTime(in.Time.End).UnixMilli()
	}
	params := map[string]any{"userid": userID, "id": in.ID, "props": props}

	out, err := f.s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog {id: $id})
SET fl += $props
RETURN fl.id AS id`, params)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, errNotFound
		}
		if in.Labels != nil {
			params["labels"] = in.Labels
			if _, err := collect(ctx, tx, `
MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog {id: $id})
OPTIONAL MATCH (:FoodLogLabel)-[r:HAS_LABEL]->(fl)
DELETE r
WITH DISTINCT fl`+setLabels, params); err != nil {
				return nil, err
			}
		}
		return retrieve(ctx, tx, userID, in.ID)
	})
	if err != nil {
		return nil, mapErr(err, model.MsgLogNotFound)
	}
	return out.(*model.FoodLogEntry), nil
}

func (f *foodLogs) Delete(ctx context.Context, userID, id string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	_, err := f.s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := collect(ctx, tx,
			`MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog {id: $id}) DETACH DELETE fl`,
			map[string]any{"userid": userID, "id": id})
		return nil, err
	})
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

func (f *foodLogs) Query(ctx context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error) {
	if err := store.CheckRange(userID, start, end); err != nil {
		return nil, err
	}
	params := map[string]any{
		"userid": userID,
		"start":  model.NormalizeTime(start).UnixMilli(),
		"end":    model.NormalizeTime(end).UnixMilli(),
	}
	out, err := f.s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx, `
MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog)
WHERE fl.timeStart <= $end AND fl.timeEnd >= $start`+entryReturn+`
ORDER BY timeStart, id`, params)
		if err != nil {
			return nil, err
		}
		return decodeEntries(records)
	})
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out.([]*model.FoodLogEntry), nil
}

// Purge detaches and deletes every log node of the user; shared label nodes stay.
func (f *foodLogs) Purge(ctx context.Context, userID string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	_, err := f.s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := collect(ctx, tx,
			`MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog) DETACH DELETE fl`,
			map[string]any{"userid": userID})
		return nil, err
	})
	if err != nil {
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

// page walks log ids in order; one extra row tells whether another page exists.
func (f *foodLogs) page(userID string) export.Pager {
	return func(ctx context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		params := map[string]any{"userid": userID, "cursor": cursor, "limit": int64(limit + 1)}
		out, err := f.s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			records, err := collect(ctx, tx, `
MATCH (:User {userid: $userid})-[:ENTERED_LOG]->(fl:FoodLog)
WHERE fl.id > $cursor
WITH fl ORDER BY fl.id LIMIT $limit`+entryReturn+`
ORDER BY id`, params)
			if err != nil {
				return nil, err
			}
			return decodeEntries(records)
		})
		if err != nil {
			return nil, "", err
		}
		entries := out.([]*model.FoodLogEntry)
		if len(entries) <= limit {
			return entries, "", nil
		}
		entries = entries[:limit]
		return entries, entries[limit-1].ID, nil
	}
}

type configurations struct{ s *Store }

// Store merges on (user, type) so repeated writes replace the value.
func (c *configurations) Store(ctx context.Context, userID string, cfg model.Configuration) (model.ConfigurationID, error) {
	if err := store.CheckConfiguration(userID, cfg); err != nil {
		return "", err
	}
	raw, err := cfg.EncodeValue()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	_, err = c.s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := collect(ctx, tx, `
MERGE (u:User {userid: $userid})
MERGE (u)-[:HAS_CONFIG]->(c:Config {type: $type})
SET c.value = $value`,
			map[string]any{"userid": userID, "type": string(cfg.ID), "value": string(raw)})
		return nil, err
	})
	if err != nil {
		return "", model.NewSystemError(err)
	}
	return cfg.ID, nil
}

func (c *configurations) Retrieve(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	out, err := c.s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx,
			`MATCH (:User {userid: $userid})-[:HAS_CONFIG]->(c:Config {type: $type}) RETURN c.value AS value`,
			map[string]any{"userid": userID, "type": string(id)})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, errNotFound
		}
		raw, _ := records[0].AsMap()["value"].(string)
		return model.DecodeConfiguration(id, []byte(raw))
	})
	if err != nil {
		return nil, mapErr(err, model.MsgConfigNotFound)
	}
	return out.(*model.Configuration), nil
}

func (c *configurations) Query(ctx context.Context, userID string) ([]*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	out, err := c.s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := collect(ctx, tx,
			`MATCH (:User {userid: $userid})-[:HAS_CONFIG]->(c:Config) RETURN c.type AS type, c.value AS value ORDER BY type`,
			map[string]any{"userid": userID})
		if err != nil {
			return nil, err
		}
		cfgs := make([]*model.Configuration, 0, len(records))
		for _, rec := range records {
			m := rec.AsMap()
			typ, _ := m["type"].(string)
			raw, _ := m["value"].(string)
			cfg, err := model.DecodeConfiguration(model.ConfigurationID(typ), []byte(raw))
			if err != nil {
				return nil, err
			}
			cfgs = append(cfgs, cfg)
		}
		return cfgs, nil
	})
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out.([]*model.Configuration), nil
}

func (c *configurations) Delete(ctx context.Context, userID string, id model.ConfigurationID) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	_, err := c.s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := collect(ctx, tx,
			`MATCH (:User {userid: $userid})-[:HAS_CONFIG]->(c:Config {type: $type}) DETACH DELETE c`,
			map[string]any{"userid": userID, "type": string(id)})
		return nil, err
	})
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

// Package spanner stores food logs in Cloud Spanner tables keyed by (UserId, Id).
package spanner

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/openfooddiary/openfooddiary/server/internal/export"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

const (
	entriesTable = "UserFoodLogEntries"
	configsTable = "UserConfigs"
)

var entryColumns = []string{"Id", "Name", "Labels", "Metrics", "TimeStart", "TimeEnd"}

type ddlObject struct {
	name string
	stmt string
}

var schema = []ddlObject{
	{entriesTable, `CREATE TABLE UserFoodLogEntries (
        UserId STRING(MAX) NOT NULL,
        Id STRING(36) NOT NULL,
        Name STRING(MAX) NOT NULL,
        Labels ARRAY<STRING(MAX)> NOT NULL,
        Metrics STRING(MAX) NOT NULL,
        TimeStart TIMESTAMP NOT NULL,
        TimeEnd TIMESTAMP NOT NULL,
    ) PRIMARY KEY (UserId, Id)`},
	{"UserFoodLogEntriesByTime", `CREATE INDEX UserFoodLogEntriesByTime ON UserFoodLogEntries(UserId, TimeStart)`},
	{configsTable, `CREATE TABLE UserConfigs (
        UserId STRING(MAX) NOT NULL,
        Id STRING(32) NOT NULL,
        SerialisedValue STRING(MAX) NOT NULL,
    ) PRIMARY KEY (UserId, Id)`},
}

// Store is the Spanner store.Store.
type Store struct {
	client *spanner.Client
	admin  *database.DatabaseAdminClient
	opts   store.Options
}

// New wraps existing clients. admin may be nil when schema is managed elsewhere.
func New(client *spanner.Client, admin *database.DatabaseAdminClient, opts store.Options) *Store {
	return &Store{client: client, admin: admin, opts: opts.WithDefaults()}
}

func (s *Store) Name() string                         { return "spanner" }
func (s *Store) FoodLogs() store.FoodLogs             { return &foodLogs{s} }
func (s *Store) Configurations() store.Configurations { return &configurations{s} }

// HealthPing performs a basic health check on the Spanner client
func (s *Store) HealthPing(ctx context.Context) error {
	iter := s.client.Single().Query(ctx, spanner.Statement{SQL: "SELECT 1"})
	defer iter.Stop()
	_, err := iter.Next()
	return err
}

// Setup creates the tables and index that do not exist yet.
func (s *Store) Setup(ctx context.Context) error {
	if s.admin == nil {
		return nil
	}
	existing := map[string]bool{}
	iter := s.client.Single().Query(ctx, spanner.Statement{SQL: `
        SELECT TABLE_NAME AS name FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ''
        UNION ALL
        SELECT INDEX_NAME AS name FROM INFORMATION_SCHEMA.INDEXES WHERE TABLE_SCHEMA = ''`})
	defer iter.Stop()
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return model.NewSystemError(err)
		}
		var name string
		if err := row.Columns(&name); err != nil {
			return model.NewSystemError(err)
		}
		existing[name] = true
	}

	var stmts []string
	for _, obj := range schema {
		if !existing[obj.name] {
			stmts = append(stmts, obj.stmt)
		}
	}
	if len(stmts) == 0 {
		return nil
	}
	op, err := s.admin.UpdateDatabaseDdl(ctx, &databasepb.UpdateDatabaseDdlRequest{
		Database:   s.client.DatabaseName(),
		Statements: stmts,
	})
	if err != nil {
		return model.NewSystemError(err)
	}
	if err := op.Wait(ctx); err != nil {
		return model.NewSystemError(err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.client.Close()
	if s.admin != nil {
		if err := s.admin.Close(); err != nil {
			return model.NewSystemError(err)
		}
	}
	return nil
}

func decodeEntry(row *spanner.Row) (*model.FoodLogEntry, error) {
	var (
		e          model.FoodLogEntry
		metrics    string
		start, end time.Time
	)
	if err := row.Columns(&e.ID, &e.Name, &e.Labels, &metrics, &start, &end); err != nil {
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
	e.Time = model.TimeRange{Start: start.UTC(), End: end.UTC()}
	return &e, nil
}

func entryMutation(userID string, e *model.FoodLogEntry, op func(string, []string, []interface{}) *spanner.Mutation) (*spanner.Mutation, error) {
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return nil, err
	}
	return op(entriesTable,
		[]string{"UserId", "Id", "Name", "Labels", "Metrics", "TimeStart", "TimeEnd"},
		[]interface{}{userID, e.ID, e.Name, e.Labels, string(metrics), e.Time.Start, e.Time.End},
	), nil
}

func queryEntries(ctx context.Context, client *spanner.Client, stmt spanner.Statement) ([]*model.FoodLogEntry, error) {
	iter := client.Single().Query(ctx, stmt)
	defer iter.Stop()

	out := []*model.FoodLogEntry{}
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		e, err := decodeEntry(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

type foodLogs struct{ s *Store }

func (f *foodLogs) Store(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	if err := store.CheckCreate(userID, in, f.s.opts); err != nil {
		return "", err
	}
	e := model.NewFoodLogEntry(uuid.NewString(), in)
	m, err := entryMutation(userID, e, spanner.Insert)
	if err != nil {
		return "", model.NewSystemError(err)
	}
	if _, err := f.s.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return "", model.NewSystemError(err)
	}
	return e.ID, nil
}

func (f *foodLogs) Retrieve(ctx context.Context, userID, id string) (*model.FoodLogEntry, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	row, err := f.s.client.Single().ReadRow(ctx, entriesTable, spanner.Key{userID, id}, entryColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	e, err := decodeEntry(row)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return e, nil
}

// Edit reads, merges and writes the entry in one read-write transaction.
func (f *foodLogs) Edit(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	if err := store.CheckEdit(userID, in, f.s.opts); err != nil {
		return nil, err
	}
	var merged *model.FoodLogEntry
	_, err := f.s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		row, err := txn.ReadRow(ctx, entriesTable, spanner.Key{userID, in.ID}, entryColumns)
		if spanner.ErrCode(err) == codes.NotFound {
			return model.NewNotFoundError(model.MsgLogNotFound)
		}
		if err != nil {
			return err
		}
		current, err := decodeEntry(row)
		if err != nil {
			return err
		}
		merged = model.ApplyEdit(current, in)
		m, err := entryMutation(userID, merged, spanner.Update)
		if err != nil {
			return err
		}
		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return merged, nil
}

func (f *foodLogs) Delete(ctx context.Context, userID, id string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	m := spanner.Delete(entriesTable, spanner.Key{userID, id})
	if _, err := f.s.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

func (f *foodLogs) Query(ctx context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error) {
	if err := store.CheckRange(userID, start, end); err != nil {
		return nil, err
	}
	stmt := spanner.Statement{
		SQL: `SELECT Id, Name, Labels, Metrics, TimeStart, TimeEnd
              FROM UserFoodLogEntries
              WHERE UserId = @userId AND TimeStart <= @end AND TimeEnd >= @start
              ORDER BY TimeStart, Id`,
		Params: map[string]interface{}{
			"userId": userID,
			"start":  start.UTC(),
			"end":    end.UTC(),
		},
	}
	out, err := queryEntries(ctx, f.s.client, stmt)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

// Purge removes every row under the user's key prefix.
func (f *foodLogs) Purge(ctx context.Context, userID string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	m := spanner.Delete(entriesTable, spanner.Key{userID}.AsPrefix())
	if _, err := f.s.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

func (f *foodLogs) BulkExport(ctx context.Context, userID string) (string, error) {
	if err := store.CheckUser(userID); err != nil {
		return "", err
	}
	w := export.Writer{Dir: f.s.opts.ExportDir, PageSize: f.s.opts.ExportPageSize}
	return w.Run(ctx, func(ctx context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		stmt := spanner.Statement{
			SQL: `SELECT Id, Name, Labels, Metrics, TimeStart, TimeEnd
                  FROM UserFoodLogEntries
                  WHERE UserId = @userId AND Id > @cursor
                  ORDER BY Id LIMIT @limit`,
			Params: map[string]interface{}{
				"userId": userID,
				"cursor": cursor,
				"limit":  int64(limit + 1),
			},
		}
		out, err := queryEntries(ctx, f.s.client, stmt)
		if err != nil {
			return nil, "", err
		}
		if len(out) <= limit {
			return out, "", nil
		}
		out = out[:limit]
		return out, out[limit-1].ID, nil
	})
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
	m := spanner.InsertOrUpdate(configsTable,
		[]string{"UserId", "Id", "SerialisedValue"},
		[]interface{}{userID, string(cfg.ID), string(raw)},
	)
	if _, err := c.s.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return "", model.NewSystemError(err)
	}
	return cfg.ID, nil
}

func (c *configurations) Retrieve(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	row, err := c.s.client.Single().ReadRow(ctx, configsTable, spanner.Key{userID, string(id)}, []string{"SerialisedValue"})
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, model.NewNotFoundError(model.MsgConfigNotFound)
	}
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	var raw string
	if err := row.Columns(&raw); err != nil {
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
	iter := c.s.client.Single().Query(ctx, spanner.Statement{
		SQL:    `SELECT Id, SerialisedValue FROM UserConfigs WHERE UserId = @userId ORDER BY Id`,
		Params: map[string]interface{}{"userId": userID},
	})
	defer iter.Stop()

	out := []*model.Configuration{}
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		var id, raw string
		if err := row.Columns(&id, &raw); err != nil {
			return nil, model.NewSystemError(err)
		}
		cfg, err := model.DecodeConfiguration(model.ConfigurationID(id), []byte(raw))
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		out = append(out, cfg)
	}
}

func (c *configurations) Delete(ctx context.Context, userID string, id model.ConfigurationID) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	m := spanner.Delete(configsTable, spanner.Key{userID, string(id)})
	if _, err := c.s.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

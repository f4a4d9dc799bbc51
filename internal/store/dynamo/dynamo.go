// Package dynamo stores food logs in DynamoDB.
//
// Entries live in one table keyed by (userId, id) with a local secondary index on
// timeStart; range queries use the index for the upper bound and filter on timeEnd.
// Times are stored as epoch milliseconds.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/openfooddiary/openfooddiary/server/internal/export"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

const (
	entriesTable = "user_foodlogentry"
	configTable  = "user_config"
	timeIndex    = "timeStart-index"

	// maxBatchWrite is the BatchWriteItem request limit.
	maxBatchWrite = 25
	tableWait     = 2 * time.Minute
)

// Store is the DynamoDB store.Store.
type Store struct {
	client *dynamodb.Client
	prefix string
	opts   store.Options
}

// New wraps client; table names are prefixed with tablePrefix.
func New(client *dynamodb.Client, tablePrefix string, opts store.Options) *Store {
	return &Store{client: client, prefix: tablePrefix, opts: opts.WithDefaults()}
}

func (s *Store) Name() string                         { return "dynamodb" }
func (s *Store) FoodLogs() store.FoodLogs             { return &foodLogs{s} }
func (s *Store) Configurations() store.Configurations { return &configurations{s} }

func (s *Store) entries() *string { return aws.String(s.prefix + entriesTable) }
func (s *Store) configs() *string { return aws.String(s.prefix + configTable) }

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) HealthPing(ctx context.Context) error {
	_, err := s.client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	return err
}

// Setup creates missing tables and waits for them to become active.
func (s *Store) Setup(ctx context.Context) error {
	for _, in := range s.tableDefinitions() {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName})
		if err == nil {
			continue
		}
		var missing *types.ResourceNotFoundException
		if !errors.As(err, &missing) {
			return model.NewSystemError(err)
		}
		if _, err := s.client.CreateTable(ctx, in); err != nil {
			return model.NewSystemError(fmt.Errorf("create table %s: %w", aws.ToString(in.TableName), err))
		}
		waiter := dynamodb.NewTableExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, tableWait); err != nil {
			return model.NewSystemError(err)
		}
	}
	return nil
}

func (s *Store) tableDefinitions() []*dynamodb.CreateTableInput {
	return []*dynamodb.CreateTableInput{
		{
			TableName:   s.entries(),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("userId"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("timeStart"), AttributeType: types.ScalarAttributeTypeN},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("userId"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeRange},
			},
			LocalSecondaryIndexes: []types.LocalSecondaryIndex{{
				IndexName: aws.String(timeIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("userId"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("timeStart"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}},
		},
		{
			TableName:   s.configs(),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("user_id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("user_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeRange},
			},
		},
	}
}

// entryItem is the stored shape of a food log entry.
type entryItem struct {
	UserID    string             `dynamodbav:"userId"`
	ID        string             `dynamodbav:"id"`
	Name      string             `dynamodbav:"name"`
	Labels    []string           `dynamodbav:"labels"`
	Metrics   map[string]float64 `dynamodbav:"metrics"`
	TimeStart int64              `dynamodbav:"timeStart"`
	TimeEnd   int64              `dynamodbav:"timeEnd"`
}

func toItem(userID string, e *model.FoodLogEntry) entryItem {
	return entryItem{
		UserID:    userID,
		ID:        e.ID,
		Name:      e.Name,
		Labels:    e.Labels,
		Metrics:   e.Metrics,
		TimeStart: e.Time.Start.UnixMilli(),
		TimeEnd:   e.Time.End.UnixMilli(),
	}
}

func (it entryItem) entry() *model.FoodLogEntry {
	e := &model.FoodLogEntry{
		ID:      it.ID,
		Name:    it.Name,
		Labels:  it.Labels,
		Metrics: it.Metrics,
		Time: model.TimeRange{
			Start: time.UnixMilli(it.TimeStart).UTC(),
			End:   time.UnixMilli(it.TimeEnd).UTC(),
		},
	}
	if e.Labels == nil {
		e.Labels = []string{}
	}
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}
	return e
}

func decodeEntries(items []map[string]types.AttributeValue) ([]*model.FoodLogEntry, error) {
	var rows []entryItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, err
	}
	out := make([]*model.FoodLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func entryKey(userID, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
		"id":     &types.AttributeValueMemberS{Value: id},
	}
}

// buildUpdate renders the update expression for the supplied fields of an edit.
func buildUpdate(in model.EditFoodLogEntry) (string, map[string]string, map[string]types.AttributeValue, error) {
	var (
		sets   []string
		names  = map[string]string{"#id": "id"}
		values = map[string]types.AttributeValue{}
	)
	set := func(attr string, v interface{}) error {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return err
		}
		names["#"+attr] = attr
		values[":"+attr] = av
		sets = append(sets, fmt.Sprintf("#%s = :%s", attr, attr))
		return nil
	}
	if in.Name != nil {
		if err := set("name", *in.Name); err != nil {
			return "", nil, nil, err
		}
	}
	if in.Labels != nil {
		if err := set("labels", in.Labels); err != nil {
			return "", nil, nil, err
		}
	}
	if in.Metrics != nil {
		if err := set("metrics", in.Metrics); err != nil {
			return "", nil, nil, err
		}
	}
	if in.Time != nil {
		if err := set("timeStart", model.NormalizeTime(in.Time.Start).UnixMilli()); err != nil {
			return "", nil, nil, err
		}
		if err := set("timeEnd", model.NormalizeTime(in.Time.End).UnixMilli()); err != nil {
			return "", nil, nil, err
		}
	}
	if len(sets) == 0 {
		return "", nil, nil, nil
	}
	return "SET " + strings.Join(sets, ", "), names, values, nil
}

// chunk splits reqs into BatchWriteItem sized groups.
func chunk(reqs []types.WriteRequest) [][]types.WriteRequest {
	var out [][]types.WriteRequest
	for len(reqs) > maxBatchWrite {
		out = append(out, reqs[:maxBatchWrite])
		reqs = reqs[maxBatchWrite:]
	}
	if len(reqs) > 0 {
		out = append(out, reqs)
	}
	return out
}

type foodLogs struct{ s *Store }

func (f *foodLogs) Store(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	if err := store.CheckCreate(userID, in, f.s.opts); err != nil {
		return "", err
	}
	e := model.NewFoodLogEntry(uuid.NewString(), in)
	item, err := attributevalue.MarshalMap(toItem(userID, e))
	if err != nil {
		return "", model.NewSystemError(err)
	}
	_, err = f.s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                f.s.entries(),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
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
	// DynamoDB rejects empty key attributes outright
	if id == "" {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	out, err := f.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      f.s.entries(),
		Key:            entryKey(userID, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	if len(out.Item) == 0 {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	var it entryItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, model.NewSystemError(err)
	}
	return it.entry(), nil
}

// Edit updates only the supplied attributes; the condition keeps a missing item from being created.
func (f *foodLogs) Edit(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	if err := store.CheckEdit(userID, in, f.s.opts); err != nil {
		return nil, err
	}
	expr, names, values, err := buildUpdate(in)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	if expr == "" {
		return f.Retrieve(ctx, userID, in.ID)
	}
	out, err := f.s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 f.s.entries(),
		Key:                       entryKey(userID, in.ID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, model.NewNotFoundError(model.MsgLogNotFound)
		}
		return nil, model.NewSystemError(err)
	}
	var it entryItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, model.NewSystemError(err)
	}
	return it.entry(), nil
}

func (f *foodLogs) Delete(ctx context.Context, userID, id string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	if id == "" {
		return true, nil
	}
	_, err := f.s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: f.s.entries(),
		Key:       entryKey(userID, id),
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
	input := &dynamodb.QueryInput{
		TableName:              f.s.entries(),
		IndexName:              aws.String(timeIndex),
		KeyConditionExpression: aws.String("#u = :u AND #ts <= :end"),
		FilterExpression:       aws.String("#te >= :start"),
		ExpressionAttributeNames: map[string]string{
			"#u":  "userId",
			"#ts": "timeStart",
			"#te": "timeEnd",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u":     &types.AttributeValueMemberS{Value: userID},
			":end":   &types.AttributeValueMemberN{Value: fmt.Sprint(model.NormalizeTime(end).UnixMilli())},
			":start": &types.AttributeValueMemberN{Value: fmt.Sprint(model.NormalizeTime(start).UnixMilli())},
		},
	}
	out := []*model.FoodLogEntry{}
	paginator := dynamodb.NewQueryPaginator(f.s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		entries, err := decodeEntries(page.Items)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Purge deletes the user's items page by page in batches, resubmitting unprocessed writes.
func (f *foodLogs) Purge(ctx context.Context, userID string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	input := &dynamodb.QueryInput{
		TableName:                f.s.entries(),
		KeyConditionExpression:   aws.String("#u = :u"),
		ProjectionExpression:     aws.String("#u, #id"),
		ExpressionAttributeNames: map[string]string{"#u": "userId", "#id": "id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
	}
	paginator := dynamodb.NewQueryPaginator(f.s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, model.NewSystemError(err)
		}
		reqs := make([]types.WriteRequest, 0, len(page.Items))
		for _, item := range page.Items {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: item}})
		}
		for _, batch := range chunk(reqs) {
			if err := f.s.batchWrite(ctx, aws.ToString(f.s.entries()), batch); err != nil {
				return false, model.NewSystemError(err)
			}
		}
	}
	return true, nil
}

func (s *Store) batchWrite(ctx context.Context, table string, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{table: reqs}
	op := func() error {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(out.UnprocessedItems[table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		return fmt.Errorf("%d unprocessed writes", len(pending[table]))
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (f *foodLogs) BulkExport(ctx context.Context, userID string) (string, error) {
	if err := store.CheckUser(userID); err != nil {
		return "", err
	}
	w := export.Writer{Dir: f.s.opts.ExportDir, PageSize: f.s.opts.ExportPageSize}
	return w.Run(ctx, f.page(userID))
}

// page uses the last evaluated id as the export cursor.
func (f *foodLogs) page(userID string) export.Pager {
	return func(ctx context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		input := &dynamodb.QueryInput{
			TableName:                f.s.entries(),
			KeyConditionExpression:   aws.String("#u = :u"),
			ExpressionAttributeNames: map[string]string{"#u": "userId"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": &types.AttributeValueMemberS{Value: userID},
			},
			Limit: aws.Int32(int32(limit)),
		}
		if cursor != "" {
			input.ExclusiveStartKey = entryKey(userID, cursor)
		}
		out, err := f.s.client.Query(ctx, input)
		if err != nil {
			return nil, "", err
		}
		entries, err := decodeEntries(out.Items)
		if err != nil {
			return nil, "", err
		}
		var next string
		if id, ok := out.LastEvaluatedKey["id"].(*types.AttributeValueMemberS); ok {
			next = id.Value
		}
		return entries, next, nil
	}
}

type configItem struct {
	UserID string `dynamodbav:"user_id"`
	ID     string `dynamodbav:"id"`
	Value  string `dynamodbav:"serialised_value"`
}

func configKey(userID string, id model.ConfigurationID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
		"id":      &types.AttributeValueMemberS{Value: string(id)},
	}
}

type configurations struct{ s *Store }

// Store relies on PutItem replacing any existing item.
func (c *configurations) Store(ctx context.Context, userID string, cfg model.Configuration) (model.ConfigurationID, error) {
	if err := store.CheckConfiguration(userID, cfg); err != nil {
		return "", err
	}
	raw, err := cfg.EncodeValue()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	item, err := attributevalue.MarshalMap(configItem{UserID: userID, ID: string(cfg.ID), Value: string(raw)})
	if err != nil {
		return "", model.NewSystemError(err)
	}
	if _, err := c.s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: c.s.configs(), Item: item}); err != nil {
		return "", model.NewSystemError(err)
	}
	return cfg.ID, nil
}

func (c *configurations) Retrieve(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, model.NewNotFoundError(model.MsgConfigNotFound)
	}
	out, err := c.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      c.s.configs(),
		Key:            configKey(userID, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	if len(out.Item) == 0 {
		return nil, model.NewNotFoundError(model.MsgConfigNotFound)
	}
	var it configItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, model.NewSystemError(err)
	}
	cfg, err := model.DecodeConfiguration(id, []byte(it.Value))
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return cfg, nil
}

func (c *configurations) Query(ctx context.Context, userID string) ([]*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	input := &dynamodb.QueryInput{
		TableName:                c.s.configs(),
		KeyConditionExpression:   aws.String("#u = :u"),
		ExpressionAttributeNames: map[string]string{"#u": "user_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	}
	out := []*model.Configuration{}
	paginator := dynamodb.NewQueryPaginator(c.s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		var items []configItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, model.NewSystemError(err)
		}
		for _, it := range items {
			cfg, err := model.DecodeConfiguration(model.ConfigurationID(it.ID), []byte(it.Value))
			if err != nil {
				return nil, model.NewSystemError(err)
			}
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (c *configurations) Delete(ctx context.Context, userID string, id model.ConfigurationID) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	if id == "" {
		return true, nil
	}
	_, err := c.s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: c.s.configs(),
		Key:       configKey(userID, id),
	})
	if err != nil {
		return false, model.NewSystemError(err)
	}
	return true, nil
}

package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/storetest"
)

func TestItemRoundTrip(t *testing.T) {
	start := time.Date(1999, 11, 15, 8, 30, 0, 250_000_000, time.UTC)
	e := &model.FoodLogEntry{
		ID:      "abc",
		Name:    "porridge",
		Labels:  []string{"breakfast", "oats"},
		Metrics: map[string]float64{"calories": 310.5},
		Time:    model.TimeRange{Start: start, End: start.Add(15 * time.Minute)},
	}
	av, err := attributevalue.MarshalMap(toItem("u1", e))
	require.NoError(t, err)

	ts, ok := av["timeStart"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "942654600250", ts.Value)
	_, ok = av["labels"].(*types.AttributeValueMemberL)
	assert.True(t, ok, "labels keep their order as a list")

	var it entryItem
	require.NoError(t, attributevalue.UnmarshalMap(av, &it))
	assert.Equal(t, e, it.entry())
}

func TestItemEntry_NilCollections(t *testing.T) {
	got := entryItem{ID: "x"}.entry()
	assert.NotNil(t, got.Labels)
	assert.NotNil(t, got.Metrics)
}

func TestBuildUpdate(t *testing.T) {
	name := "oats"
	expr, names, values, err := buildUpdate(model.EditFoodLogEntry{ID: "x", Name: &name, Labels: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "SET #name = :name, #labels = :labels", expr)
	assert.Equal(t, "name", names["#name"])
	assert.Equal(t, "id", names["#id"])
	assert.Len(t, values, 2)

	expr, _, _, err = buildUpdate(model.EditFoodLogEntry{ID: "x"})
	require.NoError(t, err)
	assert.Empty(t, expr)
}

func TestChunk(t *testing.T) {
	assert.Empty(t, chunk(nil))
	batches := chunk(make([]types.WriteRequest, 60))
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 25)
	assert.Len(t, batches[1], 25)
	assert.Len(t, batches[2], 10)
}

func TestTableDefinitions(t *testing.T) {
	s := New(nil, "test_", store.Options{})
	defs := s.tableDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "test_user_foodlogentry", *defs[0].TableName)
	require.Len(t, defs[0].LocalSecondaryIndexes, 1)
	assert.Equal(t, timeIndex, *defs[0].LocalSecondaryIndexes[0].IndexName)
	assert.Equal(t, "test_user_config", *defs[1].TableName)
}

func TestDynamoStore_Compliance(t *testing.T) {
	storetest.RequireIntegration(t)
	addr := storetest.StartContainer(t, testcontainers.ContainerRequest{
		Image:        "amazon/dynamodb-local:latest",
		ExposedPorts: []string{"8000/tcp"},
		Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
		WaitingFor:   wait.ForListeningPort("8000/tcp"),
	}, "8000/tcp")

	ctx := context.Background()
	client, err := NewClient(ctx, Config{
		Endpoint:        "http://" + addr,
		Region:          "us-east-1",
		AccessKeyID:     "local",
		SecretAccessKey: "local",
	})
	require.NoError(t, err)

	storetest.Run(t, func(t *testing.T) store.Store {
		s := New(client, "openfooddiary_", storetest.Options(t))
		require.NoError(t, s.Setup(ctx))
		return s
	})
}

func TestEmptyKeysNeverReachDynamo(t *testing.T) {
	// a nil client panics if any request is sent
	s := New(nil, "test_", store.Options{})
	ctx := context.Background()

	_, err := s.FoodLogs().Retrieve(ctx, "u1", "")
	assert.True(t, model.IsNotFoundError(err), "got %v", err)

	ok, err := s.FoodLogs().Delete(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Configurations().Retrieve(ctx, "u1", "")
	assert.True(t, model.IsNotFoundError(err), "got %v", err)

	ok, err = s.Configurations().Delete(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

package spanner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	instance "cloud.google.com/go/spanner/admin/instance/apiv1"
	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"

	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/storetest"
)

var testConfig = Config{
	ProjectID:  "local-project",
	InstanceID: "local-instance",
	DatabaseID: "openfooddiary",
}

// startEmulator runs the Spanner emulator and creates an empty database in it.
func startEmulator(t *testing.T) {
	t.Helper()
	storetest.RequireIntegration(t)
	ctx := context.Background()

	addr := storetest.StartContainer(t, testcontainers.ContainerRequest{
		Image:        "gcr.io/cloud-spanner-emulator/emulator:latest",
		ExposedPorts: []string{"9010/tcp", "9020/tcp"},
		WaitingFor:   wait.ForLog("Cloud Spanner emulator running"),
	}, "9010/tcp")
	t.Setenv("SPANNER_EMULATOR_HOST", addr)

	ic, err := instance.NewInstanceAdminClient(ctx, option.WithoutAuthentication())
	require.NoError(t, err)
	defer ic.Close()
	iop, err := ic.CreateInstance(ctx, &instancepb.CreateInstanceRequest{
		Parent:     fmt.Sprintf("projects/%s", testConfig.ProjectID),
		InstanceId: testConfig.InstanceID,
		Instance: &instancepb.Instance{
			Config:      fmt.Sprintf("projects/%s/instanceConfigs/emulator-config", testConfig.ProjectID),
			DisplayName: "Local Test Instance",
			NodeCount:   1,
		},
	})
	if err != nil && !strings.Contains(err.Error(), "ALREADY_EXISTS") {
		t.Fatalf("failed to create instance: %v", err)
	}
	if err == nil {
		_, err = iop.Wait(ctx)
		require.NoError(t, err)
	}

	dc, err := database.NewDatabaseAdminClient(ctx, option.WithoutAuthentication())
	require.NoError(t, err)
	defer dc.Close()
	dop, err := dc.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
		Parent:          fmt.Sprintf("projects/%s/instances/%s", testConfig.ProjectID, testConfig.InstanceID),
		CreateStatement: fmt.Sprintf("CREATE DATABASE `%s`", testConfig.DatabaseID),
	})
	require.NoError(t, err)
	_, err = dop.Wait(ctx)
	require.NoError(t, err)
}

func TestSpannerStore_Compliance(t *testing.T) {
	startEmulator(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		client, admin, err := Open(ctx, testConfig)
		require.NoError(t, err)
		s := New(client, admin, storetest.Options(t))
		require.NoError(t, s.Setup(ctx))
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}

func TestOpen_RequiresAllFields(t *testing.T) {
	_, _, err := Open(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}

func TestConfig_DatabasePath(t *testing.T) {
	require.Equal(t, "projects/local-project/instances/local-instance/databases/openfooddiary", testConfig.DatabasePath())
}

package storetest

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

func TestRequireIntegration_SkipsByDefault(t *testing.T) {
	t.Setenv(IntegrationEnv, "")

	var reached bool
	ok := t.Run("gated", func(t *testing.T) {
		RequireIntegration(t)
		reached = true
	})
	if !ok || reached {
		t.Fatalf("expected gated subtest to be skipped, ok=%v reached=%v", ok, reached)
	}
}

func TestStartContainer_PortFromVariable(t *testing.T) {
	RequireIntegration(t)

	port := "6379/tcp"
	addr := StartContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{port},
	}, port)
	if addr == "" {
		t.Fatal("expected a mapped address")
	}
}

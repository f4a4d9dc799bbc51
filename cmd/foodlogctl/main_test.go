package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OPENFOODDIARY_STORAGE_PROVIDER", "sqlite3")
	t.Setenv("OPENFOODDIARY_SQLITE3_FILENAME", filepath.Join(dir, "diary.sqlite"))
	t.Setenv("OPENFOODDIARY_TEMP_DIRECTORY", filepath.Join(dir, "exports"))
	t.Setenv("OPENFOODDIARY_BOOTSTRAP_TIMEOUT_SECONDS", "1")
	t.Setenv("OPENFOODDIARY_LOG_LEVEL", "disabled")
	t.Setenv("OPENFOODDIARY_USERID", "")
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

const entryJSON = `{
  "name": "porridge",
  "labels": ["breakfast", "oats"],
  "time": {"start": "1999-11-15T08:00:00Z", "end": "1999-11-15T08:20:00Z"},
  "metrics": {"calories": 310, "protein": 9.5}
}`

func TestCLI_FoodLogLifecycle(t *testing.T) {
	setupEnv(t)

	res := runCLI(t, "", "setup")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"sqlite3"`)

	res = runCLI(t, entryJSON, "--user", "u1", "logs", "add")
	require.Equal(t, exitOK, res.code, res.stderr)
	var added map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &added))
	id := added["id"]
	require.NotEmpty(t, id)

	res = runCLI(t, "", "-u", "u1", "logs", "get", id)
	require.Equal(t, exitOK, res.code, res.stderr)
	var got model.FoodLogEntry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, "porridge", got.Name)
	assert.Equal(t, []string{"breakfast", "oats"}, got.Labels)

	res = runCLI(t, `{"id": "`+id+`", "name": "oatmeal"}`, "-u", "u1", "logs", "edit")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"oatmeal"`)

	res = runCLI(t, "", "-u", "u1", "logs", "query", "--start", "1999-11-15T00:00:00Z", "--end", "1999-11-16T00:00:00Z")
	require.Equal(t, exitOK, res.code, res.stderr)
	var entries []model.FoodLogEntry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))
	assert.Len(t, entries, 1)

	res = runCLI(t, "", "-u", "u1", "logs", "export")
	require.Equal(t, exitOK, res.code, res.stderr)
	var exported map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &exported))
	raw, err := os.ReadFile(exported["path"])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,name,labels,timeStart,timeEnd,metrics", lines[0])

	res = runCLI(t, "", "-u", "u1", "logs", "delete", id)
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, "", "-u", "u1", "logs", "get", id)
	assert.Equal(t, exitNotFound, res.code)
	assert.Equal(t, "notfound: Log not found\n", res.stderr)

	res = runCLI(t, "", "-u", "u1", "logs", "purge")
	require.Equal(t, exitOK, res.code, res.stderr)
}

func TestCLI_ValidationExitCodes(t *testing.T) {
	setupEnv(t)
	require.Equal(t, exitOK, runCLI(t, "", "setup").code)

	res := runCLI(t, entryJSON, "logs", "add")
	assert.Equal(t, exitValidation, res.code)
	assert.Equal(t, "validation: Invalid user id\n", res.stderr)

	res = runCLI(t, `{"name": "no time"}`, "-u", "u1", "logs", "add")
	assert.Equal(t, exitValidation, res.code)
	assert.Equal(t, "validation: Invalid Log Entry\n", res.stderr)

	res = runCLI(t, "{", "-u", "u1", "logs", "add")
	assert.Equal(t, exitValidation, res.code)

	res = runCLI(t, "", "-u", "u1", "logs", "query", "--start", "yesterday", "--end", "1999-11-16T00:00:00Z")
	assert.Equal(t, exitValidation, res.code)

	res = runCLI(t, "", "-u", "u1", "logs", "query", "--start", "1999-11-16T00:00:00Z", "--end", "1999-11-15T00:00:00Z")
	assert.Equal(t, exitValidation, res.code)
	assert.Equal(t, "validation: startDate is after endDate\n", res.stderr)
}

func TestCLI_UserFromEnvironment(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENFOODDIARY_USERID", "solo")
	require.Equal(t, exitOK, runCLI(t, "", "setup").code)

	res := runCLI(t, entryJSON, "logs", "add")
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, "", "-u", "solo", "logs", "query", "--start", "1999-11-15T00:00:00Z", "--end", "1999-11-15T23:59:59Z")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "porridge")
}

func TestCLI_ConfigurationAndMetricsTextfile(t *testing.T) {
	dir := setupEnv(t)
	require.Equal(t, exitOK, runCLI(t, "", "setup").code)
	metricsFile := filepath.Join(dir, "counters.prom")

	cfg := `{"id": "metrics", "value": {"calories": {"label": "Calories", "priority": 1}}}`
	res := runCLI(t, cfg, "-u", "u1", "--metrics-textfile", metricsFile, "config", "put")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"metrics"`)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `openfooddiary_configuration_event{eventType="stored"} 1`)

	res = runCLI(t, "", "-u", "u1", "config", "get", "metrics")
	require.Equal(t, exitOK, res.code, res.stderr)
	var back model.Configuration
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &back))
	assert.Equal(t, "Calories", back.Metrics["calories"].Label)

	res = runCLI(t, "", "-u", "u1", "config", "list")
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, "", "-u", "u1", "config", "delete", "metrics")
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, "", "-u", "u1", "config", "get", "metrics")
	assert.Equal(t, exitNotFound, res.code)
	assert.Equal(t, "notfound: Configuration not found\n", res.stderr)

	res = runCLI(t, `{"id": "metrics", "value": {"calories": {"label": "A", "priority": 1}, "fat": {"label": "A", "priority": 2}}}`, "-u", "u1", "config", "put")
	assert.Equal(t, exitValidation, res.code)
	assert.Equal(t, "validation: Error with Configuration\n", res.stderr)
}

func TestCLI_Health(t *testing.T) {
	setupEnv(t)
	res := runCLI(t, "", "health")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"healthy": true`)
}

func TestCLI_UsageErrorIsSystemExit(t *testing.T) {
	setupEnv(t)
	res := runCLI(t, "", "logs", "get")
	assert.Equal(t, exitSystem, res.code)
	assert.True(t, strings.HasPrefix(res.stderr, "error: "), res.stderr)
}

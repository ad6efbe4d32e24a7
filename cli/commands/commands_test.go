package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalaris-go/kvquery/cli/internal/config"
	"github.com/scalaris-go/kvquery/query/compiler"
)

const people = `[
  {"id": 5, "name": "x", "age": 40, "city": "Berlin"},
  {"id": 6, "name": "y", "age": 22, "city": "Paris"},
  {"id": 7, "name": "z", "age": 15, "city": "Berlin"}
]`

func setupFs(t *testing.T) afero.Fs {
	t.Helper()
	prev := config.AppFs
	fs := afero.NewMemMapFs()
	config.AppFs = fs
	t.Cleanup(func() { config.AppFs = prev })

	for _, key := range []string{"KVQUERY_STORE_DRIVER", "KVQUERY_STORE_DSN", "KVQUERY_DEBUG"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("KVQUERY_TELEMETRY_DISABLED", "1")
	return fs
}

func writeConfig(t *testing.T, fs afero.Fs, driver, dsn string) string {
	t.Helper()
	cfg := fmt.Sprintf(`store:
  driver: %s
  dsn: %q
classes:
  - name: Person
    fields: [name, age, city]
    identity: [id]
`, driver, dsn)
	require.NoError(t, afero.WriteFile(fs, "/work/.kvquery.yaml", []byte(cfg), 0o644))
	return "/work/.kvquery.yaml"
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	root := newRootCommand(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	require.NoError(t, a.close())
	return out.String(), err
}

func TestQueryFromSeededMemoryStore(t *testing.T) {
	fs := setupFs(t)
	require.NoError(t, afero.WriteFile(fs, "/work/seed.json", []byte(`{"Person": `+people+`}`), 0o644))
	path := writeConfig(t, fs, "memory", "/work/seed.json")

	out, err := run(t, "--config", path, "query",
		"SELECT name FROM Person WHERE age > :min ORDER BY name ASC", "-p", "min=18", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `["x", "y"]`, out)

	out, err = run(t, "--config", path, "query",
		"SELECT city, count(this) FROM Person GROUP BY city", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[["Berlin", 2], ["Paris", 1]]`, out)
}

func TestQueryExplicitCandidates(t *testing.T) {
	fs := setupFs(t)
	require.NoError(t, afero.WriteFile(fs, "/work/people.json", []byte(people), 0o644))
	path := writeConfig(t, fs, "memory", "")

	out, err := run(t, "--config", path, "query",
		"SELECT UNIQUE name FROM Person WHERE id == ?1", "-p", "1=7",
		"--candidates", "/work/people.json", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `["z"]`, out)
}

func TestQueryErrors(t *testing.T) {
	fs := setupFs(t)
	path := writeConfig(t, fs, "memory", "")

	_, err := run(t, "--config", path, "query", "SELECT FROM Person WHERE age >")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "query", "SELECT FROM Person WHERE age > :min", "--json")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "query", "SELECT FROM Unknown", "--json")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "query", "SELECT FROM Person", "-p", "broken")
	assert.Error(t, err)
}

func TestLoadThenQuerySQLite(t *testing.T) {
	fs := setupFs(t)
	require.NoError(t, afero.WriteFile(fs, "/work/people.json", []byte(people), 0o644))
	path := writeConfig(t, fs, "sqlite", filepath.Join(t.TempDir(), "kv.db"))

	_, err := run(t, "--config", path, "load", "/work/people.json", "--class", "Person")
	require.NoError(t, err)

	out, err := run(t, "--config", path, "query",
		"SELECT name, age FROM Person WHERE city == 'Berlin' ORDER BY age DESC", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[["x", 40], ["z", 15]]`, out)

	_, err = run(t, "--config", path, "version", "--check")
	assert.NoError(t, err)
}

func TestLoadUnknownClass(t *testing.T) {
	fs := setupFs(t)
	require.NoError(t, afero.WriteFile(fs, "/work/people.json", []byte(people), 0o644))
	path := writeConfig(t, fs, "memory", "")

	_, err := run(t, "--config", path, "load", "/work/people.json", "--class", "Nope")
	assert.Error(t, err)
}

func TestExplainRaw(t *testing.T) {
	setupFs(t)
	out, err := run(t, "explain", "--raw", "SELECT FROM Person WHERE age > :min ORDER BY name ASC")
	require.NoError(t, err)
	assert.Contains(t, out, "# Query plan")
	assert.Contains(t, out, "`:min`")

	_, err = run(t, "explain", "--raw", "SELECT FROM")
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	fs := setupFs(t)

	_, err := run(t, "--config", "/work/.kvquery.yaml", "init")
	require.NoError(t, err)
	exists, err := afero.Exists(fs, "/work/.kvquery.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	cfg, err := config.Load("/work/.kvquery.yaml")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	require.Len(t, cfg.Classes, 1)
	assert.Equal(t, "Person", cfg.Classes[0].Name)

	_, err = run(t, "--config", "/work/.kvquery.yaml", "init")
	assert.Error(t, err)
	_, err = run(t, "--config", "/work/.kvquery.yaml", "init", "--force", "--driver", "sqlite")
	assert.Error(t, err, "sqlite without a dsn is rejected")
}

func TestVersion(t *testing.T) {
	fs := setupFs(t)
	path := writeConfig(t, fs, "memory", "")

	out, err := run(t, "--config", path, "version", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "kvquery version")
}

func TestShellLine(t *testing.T) {
	fs := setupFs(t)
	t.Setenv("KVQUERY_TELEMETRY_DISABLED", "")
	require.NoError(t, afero.WriteFile(fs, "/work/seed.json", []byte(`{"Person": `+people+`}`), 0o644))
	path := writeConfig(t, fs, "memory", "/work/seed.json")

	ctx := context.Background()
	a := &app{configPath: path}
	require.NoError(t, a.open(ctx))
	t.Cleanup(func() { require.NoError(t, a.close()) })
	require.NotNil(t, a.telemetry)

	var out bytes.Buffer
	require.NoError(t, a.shellLine(ctx, &out, ""))
	require.NoError(t, a.shellLine(ctx, &out, "SELECT name FROM Person WHERE age > 18"))
	require.NoError(t, a.shellLine(ctx, &out, ":stats"))
	assert.Equal(t, int64(1), a.telemetry.Summary().Executions)
	assert.Equal(t, int64(3), a.telemetry.Summary().Candidates)

	require.NoError(t, a.shellLine(ctx, &out, ":explain SELECT FROM Person WHERE age > :min"))
	assert.Error(t, a.shellLine(ctx, &out, ":explain SELECT FROM"))
	assert.Error(t, a.shellLine(ctx, &out, "SELECT FROM"))
}

func TestShellLineStatsWithoutTelemetry(t *testing.T) {
	fs := setupFs(t)
	path := writeConfig(t, fs, "memory", "")

	a := &app{configPath: path}
	require.NoError(t, a.open(context.Background()))
	t.Cleanup(func() { require.NoError(t, a.close()) })

	assert.EqualError(t, a.shellLine(context.Background(), &bytes.Buffer{}, ":stats"), "telemetry is disabled")
}

func TestParameterPrompts(t *testing.T) {
	q, err := compiler.Compile("SELECT FROM Person WHERE id == ?1 && age > :min && city == :city")
	require.NoError(t, err)

	prompts := parameterPrompts(q)
	assert.Equal(t, []string{"min", "city", "1"}, prompts)

	labels := make([]string, len(prompts))
	for i, p := range prompts {
		labels[i] = promptLabel(p)
	}
	assert.Equal(t, []string{":min", ":city", "?1"}, labels)
}

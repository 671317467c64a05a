package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relstore/internal/storeerr"
)

const testSchemaYAML = `
entities:
  - name: User
    properties:
      - name: name
      - name: age
        type: number
relations:
  - name: Membership
    source: User
    sourceProperty: leader
    target: User
    targetProperty: member
    cardinality: n:1
`

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3", "abc")
	require.NotNil(t, cmd)
	assert.Equal(t, "relstore", cmd.Use)
	assert.Contains(t, cmd.Long, "RELSTORE_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("dev", "none")
	commands := []string{"ddl", "migrate", "find", "create", "update", "delete", "link", "unlink", "serve", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("dev", "none")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"database.driver", "storage.schema_file", "log.level", "observability.metrics_enabled"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand("dev", "none")
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	addrFlag := serveCmd.Flags().Lookup("metrics-addr")
	require.NotNil(t, addrFlag)
	assert.Equal(t, ":9464", addrFlag.DefValue)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "relstore 1.2.3 (abc)\n", out)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "version", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestFindRejectsMalformedJSON(t *testing.T) {
	_, err := execute(t, "find", "User", "--attrs", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("connection refused")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("find: %w", storeerr.Programmerf("User", "unknown attribute"))))
	assert.Equal(t, ExitCommandError, GetExitCode(&inputError{what: "id", err: errors.New("bad")}))
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("1.2.3", "abc")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// storeConfig writes a schema and a config file for a SQLite store in a
// temp dir and returns the --config argument pair.
func storeConfig(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testSchemaYAML), 0600))

	cfg := fmt.Sprintf(`
database:
  driver: sqlite
  path: %s
storage:
  schema_file: %s
log:
  level: error
`, filepath.Join(dir, "store.db"), schemaPath)
	cfgPath := filepath.Join(dir, "relstore.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))
	return []string{"--config", cfgPath}
}

func executeJSON(t *testing.T, cfgArgs []string, args ...string) CLIResponseForTest {
	t.Helper()
	full := append(append([]string{}, args...), cfgArgs...)
	full = append(full, "--format", "json")
	out, err := execute(t, full...)
	require.NoError(t, err, out)

	var resp CLIResponseForTest
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	return resp
}

// CLIResponseForTest mirrors CLIResponse with decodable fields.
type CLIResponseForTest struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
	Events []struct {
		Type   string         `json:"type"`
		Record string         `json:"record"`
		Data   map[string]any `json:"data"`
	} `json:"events"`
}

func TestEndToEnd(t *testing.T) {
	cfgArgs := storeConfig(t)

	out, err := execute(t, append([]string{"migrate"}, cfgArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	created := executeJSON(t, cfgArgs, "create", "User", `{"name": "lead", "age": 40, "member": [{"name": "m1", "age": 20}]}`)
	var kinds []string
	for _, e := range created.Events {
		kinds = append(kinds, e.Type+" "+e.Record)
	}
	assert.Equal(t, []string{"create User", "create Membership", "create User"}, kinds)
	leadID := created.Data.(map[string]any)["id"]
	require.NotNil(t, leadID)

	found := executeJSON(t, cfgArgs, "find", "User",
		"--attrs", `["name", ["member", {"attributeQuery": ["name"]}]]`,
		"--match", `{"key": "name", "value": ["=", "lead"]}`,
	)
	users := found.Data.([]any)
	require.Len(t, users, 1)
	lead := users[0].(map[string]any)
	assert.Equal(t, "lead", lead["name"])
	members := lead["member"].([]any)
	require.Len(t, members, 1)
	assert.Equal(t, "m1", members[0].(map[string]any)["name"])

	updated := executeJSON(t, cfgArgs, "update", "User", `{"age": 41}`, "--match", `{"key": "name", "value": ["=", "lead"]}`)
	require.Len(t, updated.Events, 1)
	assert.Equal(t, "update", updated.Events[0].Type)

	deleted := executeJSON(t, cfgArgs, "delete", "User", "--match", `{"key": "name", "value": ["=", "m1"]}`)
	var deletedUsers int
	for _, e := range deleted.Events {
		assert.Equal(t, "delete", e.Type)
		if e.Record == "User" {
			deletedUsers++
		}
	}
	assert.Equal(t, 1, deletedUsers)

	one := executeJSON(t, cfgArgs, "find", "User", "--one", "--attrs", `["age"]`)
	assert.Equal(t, float64(41), one.Data.(map[string]any)["age"])
}

func TestDDLCommand(t *testing.T) {
	cfgArgs := storeConfig(t)
	out, err := execute(t, append([]string{"ddl"}, cfgArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE")
	assert.Contains(t, out, ";\n")
}

func TestDeleteRequiresMatch(t *testing.T) {
	cfgArgs := storeConfig(t)
	_, err := execute(t, append([]string{"delete", "User"}, cfgArgs...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestUnknownRecordIsCommandError(t *testing.T) {
	cfgArgs := storeConfig(t)
	_, err := execute(t, append([]string{"find", "Ghost", "--attrs", `["name"]`}, cfgArgs...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

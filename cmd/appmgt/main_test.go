package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "apps", "tenants", "audit"})
}

func TestCommands_SQLite(t *testing.T) {
	t.Setenv("APPMGT_DATABASE_DRIVER", "sqlite3")
	t.Setenv("APPMGT_DATABASE_DSN", filepath.Join(t.TempDir(), "appmgt.db"))
	t.Setenv("APPMGT_LOG_LEVEL", "error")

	out, err := run(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated up")

	out, err = run(t, "tenants", "register", "acme.com", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "registered acme.com as 7")

	out, err = run(t, "apps", "get", "local-sp", "--tenant", "acme.com")
	require.NoError(t, err)
	assert.Contains(t, out, "name: local-sp")

	out, err = run(t, "apps", "list", "--tenant", "acme.com")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "apps", "delete", "local-sp", "--user", "admin", "--tenant", "acme.com")
	assert.Error(t, err)

	_, err = run(t, "apps", "get", "portal", "--tenant", "nope.com")
	assert.Error(t, err)

	_, err = run(t, "tenants", "register", "acme.com", "seven")
	assert.Error(t, err)

	out, err = run(t, "audit", "list", "--tenant-id", "7", "--format", "ndjson")
	require.NoError(t, err)
	assert.Contains(t, out, `"action":"application.create_default"`)
	assert.Contains(t, out, `"app_name":"local-sp"`)

	out, err = run(t, "audit", "list", "--tenant-id", "8", "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, "ID,Timestamp,Action,Status,TenantID,AppID,AppName,PreviousName,Actor,OperationID,Message,ErrorMessage\n", out)

	_, err = run(t, "audit", "list", "--format", "xml")
	assert.Error(t, err)
}

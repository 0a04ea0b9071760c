package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/story-ledger/api"
	"github.com/warp/story-ledger/store/sqlite"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeed_List(t *testing.T) {
	out, err := run(t, "seed", "--list")
	require.NoError(t, err)
	for _, id := range api.ScenarioIDs() {
		assert.Contains(t, out, id)
	}
}

func TestSeed_RequiresScenario(t *testing.T) {
	_, err := run(t, "seed")
	assert.Error(t, err)
}

func TestMigrateAndSeed(t *testing.T) {
	// GIVEN a fresh database file
	path := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("STORYLEDGER_DATABASE_PATH", path)
	t.Setenv("STORYLEDGER_LOG_LEVEL", "error")

	// WHEN migrating and seeding
	_, err := run(t, "migrate")
	require.NoError(t, err)
	_, err = run(t, "seed", "first-purchase")
	require.NoError(t, err)

	// THEN the scenario's accounts are persisted
	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	reader, err := store.GetAccount(context.Background(), "fp-reader")
	require.NoError(t, err)
	assert.Equal(t, int64(30), reader.Balance)

	// AND seeding the same scenario again fails
	_, err = run(t, "seed", "first-purchase")
	assert.Error(t, err)
}

func TestSeed_UnknownScenario(t *testing.T) {
	t.Setenv("STORYLEDGER_DATABASE_PATH", ":memory:")
	t.Setenv("STORYLEDGER_LOG_LEVEL", "error")

	_, err := run(t, "seed", "no-such-scenario")
	assert.ErrorIs(t, err, api.ErrUnknownScenario)
}

func TestBoot_BadConfigFile(t *testing.T) {
	_, err := run(t, "migrate", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Text(t *testing.T) {
	db := persistScenario(t, BackendSQLite)

	out, _, err := execute(t, "status", "--db", db, "--holder", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "owner issuer")
	assert.Contains(t, out, "2025-01-15T00:00:00Z (5 journal entries)")
	assert.Contains(t, out, "Phase:        matured, health healthy")
	assert.Contains(t, out, "Records:      1, distributed through 1 (0 pending)")
	assert.Contains(t, out, "Coupon due:   0.000000")
	assert.Contains(t, out, "Treasury: balance 0.000000, reserve 0.600000, withdrawable 0.000000")
	assert.Contains(t, out, "Holder alice: balance 0.000000, claimable 0.000000, claimed index 0.001000")
}

func TestStatus_JSONBadger(t *testing.T) {
	db := persistScenario(t, BackendBadger)

	// The backend is detected from the directory.
	out, _, err := execute(t, "--format", "json", "status", "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Entries int `json:"entries"`
			Series  struct {
				TotalDeposited string `json:"total_deposited"`
				RecordCount    uint64 `json:"record_count"`
			} `json:"series"`
			Status struct {
				Phase  string `json:"phase"`
				Health string `json:"health"`
			} `json:"status"`
			Holder *HolderView `json:"holder"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 5, resp.Data.Entries)
	assert.Equal(t, "2.000000", resp.Data.Series.TotalDeposited)
	assert.Equal(t, uint64(1), resp.Data.Series.RecordCount)
	assert.Equal(t, "matured", resp.Data.Status.Phase)
	assert.Equal(t, "healthy", resp.Data.Status.Health)
	assert.Nil(t, resp.Data.Holder)
}

func TestStatus_Errors(t *testing.T) {
	_, _, err := execute(t, "status", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")

	db := persistScenario(t, BackendSQLite)
	_, _, err = execute(t, "status", "--db", db, "--holder", "   ")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatus_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	st, err := openStore(db, BackendSQLite)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, _, err = execute(t, "status", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no series parameters")
}

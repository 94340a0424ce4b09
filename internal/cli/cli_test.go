package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against a config directory and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(io.Discard)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestVersion_JSON(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, Version, got["version"])
}

func TestPrice(t *testing.T) {
	out, err := run(t, t.TempDir(), "price",
		"--spot", "100", "--strike", "100", "--days", "365.25",
		"--vol", "0.2", "--rate", "0.05", "--type", "call", "--json")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 10.4506, got["price"].(float64), 1e-4)
	assert.InDelta(t, 0.6368, got["delta"].(float64), 1e-4)

	_, err = run(t, t.TempDir(), "price", "--spot", "100", "--strike", "100", "--vol", "0.2", "--type", "straddle")
	assert.Error(t, err)
}

func TestIV(t *testing.T) {
	out, err := run(t, t.TempDir(), "iv",
		"--spot", "100", "--strike", "100", "--days", "365.25",
		"--premium", "10.4506", "--rate", "0.05", "--json")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 0.2, got["iv"].(float64), 1e-4)
}

func TestThresholds_PersistAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "threshold", "set", "alice", "delta", "10")
	require.NoError(t, err)
	_, err = run(t, dir, "threshold", "set", "alice", "vega", "500", "--instrument", "btc")
	require.NoError(t, err)

	_, err = run(t, dir, "threshold", "set", "alice", "charm", "1")
	assert.Error(t, err, "unknown metric")
	_, err = run(t, dir, "threshold", "set", "alice", "delta", "0")
	assert.Error(t, err, "limit must be positive")

	out, err := run(t, dir, "threshold", "list", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "portfolio")
	assert.Contains(t, out, "BTC")
	assert.Contains(t, out, "+10.0000")

	_, err = run(t, dir, "threshold", "remove", "alice", "delta")
	require.NoError(t, err)
	_, err = run(t, dir, "threshold", "remove", "alice", "delta")
	assert.Error(t, err, "already removed")

	out, err = run(t, dir, "threshold", "list", "--json")
	require.NoError(t, err)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "vega", got[0]["metric"])
}

func TestAccountStrategy(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "account", "strategy", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice: delta_neutral (default)\n", out)

	_, err = run(t, dir, "account", "strategy", "alice", "protective-put")
	require.NoError(t, err)
	_, err = run(t, dir, "account", "strategy", "alice", "straddle")
	assert.Error(t, err)

	out, err = run(t, dir, "account", "strategy", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice: protective_put (stored)\n", out)
}

// hedgeFixture writes a config directory with one breaching account.
func hedgeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[risk]
risk_free_rate = 0.0

[[risk.thresholds]]
account = "alice"
metric = "delta"
limit = 10.0

[[risk.thresholds]]
account = "bob"
metric = "delta"
limit = 10.0

[store]
path = "hedger.db"
`)
	writeFile(t, dir, "prices.toml", `
[prices]
BTC = 100.0
`)
	writeFile(t, dir, "positions.toml", `
[[positions]]
account = "alice"
symbol = "BTC"
quantity = 50.0
entry_price = 90.0

[[positions]]
account = "bob"
symbol = "BTC"
quantity = 5.0
entry_price = 90.0
`)
	return dir
}

func TestEvaluate_JSON(t *testing.T) {
	dir := hedgeFixture(t)

	out, err := run(t, dir, "evaluate", "--json")
	require.NoError(t, err)

	var reports []reportView
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)

	alice := reports[0]
	assert.Equal(t, "alice", alice.Account)
	assert.InDelta(t, 50, alice.Exposure.Delta, 1e-9)
	assert.InDelta(t, 500, alice.Exposure.UnrealizedPnL, 1e-9)
	require.Len(t, alice.Breaches, 1)
	require.NotNil(t, alice.Breaches[0].Recommendation)
	assert.Equal(t, "delta_neutral", alice.Breaches[0].Recommendation.Strategy)
	assert.InDelta(t, -50, alice.Breaches[0].Recommendation.Size, 1e-9)

	assert.Equal(t, "bob", reports[1].Account)
	assert.Empty(t, reports[1].Breaches)
}

func TestEvaluate_NotifyRecordsJournal(t *testing.T) {
	dir := hedgeFixture(t)

	out, err := run(t, dir, "evaluate", "--notify")
	require.NoError(t, err)
	assert.Contains(t, out, "Account alice")
	assert.Contains(t, out, "SELL 50 BTC")
	assert.Contains(t, out, "✓ Within limits")

	out, err = run(t, dir, "history", "--json")
	require.NoError(t, err)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0]["AccountID"])
	assert.Equal(t, "delta_neutral", entries[0]["Strategy"])
}

func TestEvaluate_MissingPricesFile(t *testing.T) {
	dir := hedgeFixture(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "prices.toml")))

	_, err := run(t, dir, "evaluate")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	dir := hedgeFixture(t)
	out, err := run(t, dir, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 accounts")

	writeFile(t, dir, "positions.toml", `
[[positions]]
symbol = "BTC"
quantity = 1.0
entry_price = 90.0
`)
	_, err = run(t, dir, "config", "validate")
	assert.Error(t, err, "position without account")

	writeFile(t, dir, "config.toml", `
[monitor]
interval = "0s"
`)
	_, err = run(t, dir, "config", "show")
	assert.Error(t, err, "invalid config fails before any command runs")
}

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf}
	table := NewTable(o, "A", "LONGER")
	table.AddRow("wide cell", "x")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A          LONGER", lines[0])
	assert.Equal(t, "wide cell  x", lines[2])
}

func TestTable_RightAlignsNumbers(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf}
	table := NewTable(o, "SCOPE", "VALUE")
	table.AddRow("portfolio", "$31,450.00")
	table.AddRow("BTC", "+$5.00")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "SCOPE           VALUE", lines[0])
	assert.Equal(t, "portfolio  $31,450.00", lines[2])
	assert.Equal(t, "BTC            +$5.00", lines[3])
}

func TestNumericCell(t *testing.T) {
	assert.True(t, numericCell("-$1,200.50"))
	assert.True(t, numericCell("\x1b[32m+12.5%\x1b[0m"))
	assert.True(t, numericCell("-0.0012"))
	assert.False(t, numericCell("BTC"))
	assert.False(t, numericCell("n/a"))
}

func TestVisibleLen(t *testing.T) {
	assert.Equal(t, 3, visibleLen("\x1b[31mabc\x1b[0m"))
	assert.Equal(t, 2, visibleLen("✓ "))
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	t.Setenv("HEDGER_TELEGRAM_BOT_TOKEN", "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
	t.Setenv("HEDGER_WEBHOOK_URL", "https://hooks.example.com/services/T000/B000/XXXX")

	out, err := run(t, t.TempDir(), "config", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")
	assert.NotContains(t, out, "B000")
	assert.Contains(t, out, "https://hooks.example.com/****")
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: symphony")

	code, _, stderr = runCLI(t, "", "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)
}

func TestParse(t *testing.T) {
	src := `(weight-equal [(asset "SPY") (asset "TLT")])`

	code, stdout, stderr := runCLI(t, src, "parse", "-")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `(asset "SPY")`)

	code, stdout, _ = runCLI(t, src, "parse", "-json", "-")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"symbols": [`)

	code, _, stderr = runCLI(t, `(weight-equal [(asset "SPY")`, "parse", "-")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "parse error")

	code, _, _ = runCLI(t, "", "parse")
	assert.Equal(t, 1, code)
}

func TestImportThenEvaluate(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "spy.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"date,open,high,low,close,volume\n2024-03-01,120,125,119,124,1000\n2024-03-04,124,126,123,125,900\n"), 0644))

	code, stdout, stderr := runCLI(t, "", "import", "-data", dir, "-symbol", "spy", csvPath)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "imported 2 bars for SPY\n", stdout)

	src := `(if (> (current-price "SPY") 124.5) [(asset "TLT")] [(asset "GLD")])`

	code, stdout, stderr = runCLI(t, src, "evaluate", "-data", dir, "-as-of", "2024-03-04", "-")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "TLT\t1\n", stdout)

	code, stdout, stderr = runCLI(t, src, "evaluate", "-data", dir, "-as-of", "2024-03-01", "-")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "GLD\t1\n", stdout)

	code, _, stderr = runCLI(t, src, "evaluate", "-data", dir, "-as-of", "2024-02-01", "-")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "insufficient_history")

	code, _, stderr = runCLI(t, src, "evaluate", "-data", dir, "-as-of", "March", "-")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid -as-of")
}

func TestImport_RequiresSymbol(t *testing.T) {
	code, _, stderr := runCLI(t, "", "import", "-data", t.TempDir(), "bars.csv")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "expected -symbol")
}

package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
)

func readEntries(t *testing.T, root string) []Entry {
	t.Helper()
	f, err := os.Open(filepath.Join(root, ".ckcore", "audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestRecordAppendsEntry(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, l.Record("cli", EventProjectRegistered, "demo", "slot 1"))

	entries := readEntries(t, root)
	require.Len(t, entries, 1)
	assert.Equal(t, "cli", entries[0].Actor)
	assert.Equal(t, EventProjectRegistered, entries[0].Action)
	assert.Equal(t, "demo", entries[0].Target)
}

func TestRecordMultipleEntriesAppendInOrder(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, l.Record("Validator", EventUnitStarted, "Validator", ""))
	require.NoError(t, l.Record("Validator", EventUnitStopped, "Validator", "exit 0"))

	entries := readEntries(t, root)
	require.Len(t, entries, 2)
	assert.Equal(t, EventUnitStarted, entries[0].Action)
	assert.Equal(t, EventUnitStopped, entries[1].Action)
}

package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	database, err := Open(t.TempDir())
	require.NoError(t, err)
	kv := NewKV(database)
	t.Cleanup(func() {
		kv.Close()
		database.Close()
	})
	return kv
}

// TestKV_SetGet verifies values round-trip and overwrite.
func TestKV_SetGet(t *testing.T) {
	kv := newTestKV(t)

	_, ok, err := kv.Get("symptomEntries")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("symptomEntries", `[{"id":"a"}]`))
	require.NoError(t, kv.Set("symptomEntries", `[]`))

	value, ok, err := kv.Get("symptomEntries")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, value)
}

// TestKV_Delete verifies deletes are idempotent.
func TestKV_Delete(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Set("heardProfile", `{}`))
	require.NoError(t, kv.Delete("heardProfile"))
	require.NoError(t, kv.Delete("heardProfile"))

	_, ok, err := kv.Get("heardProfile")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestKV_KeysAndSize verifies key listing and size accounting.
func TestKV_KeysAndSize(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Set("b", "12345"))
	require.NoError(t, kv.Set("a", "xy"))

	keys, err := kv.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	size, err := kv.TotalSize("")
	require.NoError(t, err)
	assert.EqualValues(t, 1+2+1+5, size)

	size, err = kv.TotalSize("b")
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)
}

// TestKV_emptyKeyRejected verifies the schema refuses empty keys.
func TestKV_emptyKeyRejected(t *testing.T) {
	kv := newTestKV(t)
	assert.Error(t, kv.Set("", "x"))
}

// TestKV_statementCache verifies statements survive Close and are re-prepared.
func TestKV_statementCache(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Set("k", "v"))
	require.NoError(t, kv.Close())

	value, ok, err := kv.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

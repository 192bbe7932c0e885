package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/process"
)

func TestSQLInstanceStore_SaveInsertsThenGetById(t *testing.T) {
	db := openTestDB(t)
	s := NewInstanceStore(db)

	inst := process.NewInstance("inst-1", "def-1", "my-process", process.Variables{"x": 1.0}, false)
	inst.ActiveTokens["start"] = struct{}{}

	require.NoError(t, s.Save(context.Background(), inst))
	assert.Equal(t, uint64(1), process.DecodeVersion(inst.ConcurrencyToken))

	loaded, err := s.GetById(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.HasToken("start"))
	assert.Equal(t, 1.0, loaded.Variables["x"])
	assert.False(t, loaded.IsCompleted)
}

func TestSQLInstanceStore_GetById_UnknownReturnsNilNoError(t *testing.T) {
	db := openTestDB(t)
	s := NewInstanceStore(db)

	loaded, err := s.GetById(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSQLInstanceStore_Save_UpdatesExistingRow(t *testing.T) {
	db := openTestDB(t)
	s := NewInstanceStore(db)

	inst := process.NewInstance("inst-1", "def-1", "my-process", nil, false)
	require.NoError(t, s.Save(context.Background(), inst))

	inst.ActiveTokens["task"] = struct{}{}
	inst.IsCompleted = true
	require.NoError(t, s.Save(context.Background(), inst))

	loaded, err := s.GetById(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.HasToken("task"))
	assert.True(t, loaded.IsCompleted)
}

func TestSQLInstanceStore_Save_RejectsStaleConcurrencyToken(t *testing.T) {
	db := openTestDB(t)
	s := NewInstanceStore(db)

	inst := process.NewInstance("inst-1", "def-1", "my-process", nil, false)
	require.NoError(t, s.Save(context.Background(), inst))

	stale := process.NewInstance("inst-1", "def-1", "my-process", nil, false)
	stale.ConcurrencyToken = process.EncodeVersion(0) // the pre-save token, now outdated

	err := s.Save(context.Background(), stale)
	assert.Error(t, err)
}

func TestSQLInstanceStore_GetByProcessKey(t *testing.T) {
	db := openTestDB(t)
	s := NewInstanceStore(db)

	a := process.NewInstance("inst-a", "def-1", "my-process", nil, false)
	b := process.NewInstance("inst-b", "def-1", "my-process", nil, false)
	c := process.NewInstance("inst-c", "def-2", "other-process", nil, false)
	require.NoError(t, s.Save(context.Background(), a))
	require.NoError(t, s.Save(context.Background(), b))
	require.NoError(t, s.Save(context.Background(), c))

	matches, err := s.GetByProcessKey(context.Background(), "my-process")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

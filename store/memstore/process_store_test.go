package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/graph"
)

func newTestDefinition(id, key string) *graph.Definition {
	elements := map[string]*graph.Element{
		"start": {Id: "start", Kind: graph.KindStartEvent},
	}
	return graph.NewDefinition(id, key, key, nil, elements, nil)
}

func TestProcessStore_SaveAndGetById(t *testing.T) {
	s := NewProcessStore()
	def := newTestDefinition("def-1", "my-process")
	require.NoError(t, s.Save(context.Background(), def))

	loaded, err := s.GetById(context.Background(), "def-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "my-process", loaded.Key)
}

func TestProcessStore_GetByKey_ResolvesLatestVersion(t *testing.T) {
	s := NewProcessStore()
	v1 := newTestDefinition("def-v1", "my-process")
	v2 := newTestDefinition("def-v2", "my-process")
	require.NoError(t, s.Save(context.Background(), v1))
	require.NoError(t, s.Save(context.Background(), v2))

	latest, err := s.GetByKey(context.Background(), "my-process")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "def-v2", latest.Id)
}

func TestProcessStore_GetByKey_UnknownKeyReturnsNilNoError(t *testing.T) {
	s := NewProcessStore()
	def, err := s.GetByKey(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestProcessStore_GetAll(t *testing.T) {
	s := NewProcessStore()
	require.NoError(t, s.Save(context.Background(), newTestDefinition("def-1", "p1")))
	require.NoError(t, s.Save(context.Background(), newTestDefinition("def-2", "p2")))

	all, err := s.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleIndex() *FlowIndex {
	flows := []SequenceFlow{
		{Id: "f1", Source: "gateway", Target: "a"},
		{Id: "f2", Source: "gateway", Target: "b"},
		{Id: "f3", Source: "a", Target: "join"},
		{Id: "f4", Source: "b", Target: "join"},
	}
	return buildFlowIndex(flows)
}

func TestFlowIndex_OutgoingPreservesDocumentOrder(t *testing.T) {
	idx := buildSampleIndex()
	outgoing := idx.Outgoing("gateway")
	require.Len(t, outgoing, 2)
	assert.Equal(t, "a", outgoing[0].Target)
	assert.Equal(t, "b", outgoing[1].Target)
}

func TestFlowIndex_OutgoingOfUnknownElementIsEmpty(t *testing.T) {
	idx := buildSampleIndex()
	assert.Empty(t, idx.Outgoing("nonexistent"))
}

func TestFlowIndex_IncomingCount(t *testing.T) {
	idx := buildSampleIndex()
	assert.Equal(t, 2, idx.IncomingCount("join"))
	assert.Equal(t, 1, idx.IncomingCount("a"))
	assert.Equal(t, 0, idx.IncomingCount("gateway"))
}

func TestFlowIndex_ById(t *testing.T) {
	idx := buildSampleIndex()
	f, ok := idx.ById("f3")
	require.True(t, ok)
	assert.Equal(t, "a", f.Source)
	assert.Equal(t, "join", f.Target)

	_, ok = idx.ById("nonexistent")
	assert.False(t, ok)
}

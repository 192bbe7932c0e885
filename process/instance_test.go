package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables_CloneIsIndependentCopy(t *testing.T) {
	original := Variables{"a": 1}
	clone := original.Clone()
	clone["a"] = 2
	clone["b"] = 3

	assert.Equal(t, 1, original["a"])
	_, present := original["b"]
	assert.False(t, present)
}

func TestVariables_CloneOfNilIsEmptyNotNil(t *testing.T) {
	var v Variables
	clone := v.Clone()
	require.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestNewInstance_InitializesShellState(t *testing.T) {
	vars := Variables{"x": 1}
	inst := NewInstance("inst-1", "def-1", "my-process", vars, false)

	assert.Equal(t, "inst-1", inst.Id)
	assert.Equal(t, "def-1", inst.ProcessDefinition)
	assert.Equal(t, "my-process", inst.ProcessKey)
	assert.Equal(t, 1, inst.Variables["x"])
	assert.Empty(t, inst.ActiveTokens)
	assert.Empty(t, inst.ParallelJoinWaits)
	assert.False(t, inst.IsCompleted)
	assert.False(t, inst.SimulationMode)
	assert.Equal(t, uint64(0), DecodeVersion(inst.ConcurrencyToken))

	// variables passed in are cloned, not aliased
	vars["x"] = 99
	assert.Equal(t, 1, inst.Variables["x"])
}

func TestInstance_HasToken(t *testing.T) {
	inst := NewInstance("inst-1", "def-1", "p", nil, false)
	assert.False(t, inst.HasToken("start"))

	inst.ActiveTokens["start"] = struct{}{}
	assert.True(t, inst.HasToken("start"))
	assert.False(t, inst.HasToken("other"))
}

func TestInstance_SortedTokensIsDeterministic(t *testing.T) {
	inst := NewInstance("inst-1", "def-1", "p", nil, false)
	inst.ActiveTokens["c"] = struct{}{}
	inst.ActiveTokens["a"] = struct{}{}
	inst.ActiveTokens["b"] = struct{}{}

	assert.Equal(t, []string{"a", "b", "c"}, inst.SortedTokens())
}

func TestInstance_SortedTokensEmpty(t *testing.T) {
	inst := NewInstance("inst-1", "def-1", "p", nil, false)
	assert.Empty(t, inst.SortedTokens())
}

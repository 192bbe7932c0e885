package process

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine/graph"
)

// fakeDefinitions serves a fixed set of definitions by id, standing in for
// a ProcessStore during executor tests.
type fakeDefinitions struct {
	byId map[string]*graph.Definition
}

func (f *fakeDefinitions) GetById(ctx context.Context, id string) (*graph.Definition, error) {
	return f.byId[id], nil
}

func newFakeDefinitions(defs ...*graph.Definition) *fakeDefinitions {
	f := &fakeDefinitions{byId: make(map[string]*graph.Definition)}
	for _, d := range defs {
		f.byId[d.Id] = d
	}
	return f
}

// linearDefinition builds start -> task -> end.
func linearDefinition() *graph.Definition {
	elements := map[string]*graph.Element{
		"start": {Id: "start", Kind: graph.KindStartEvent},
		"task":  {Id: "task", Kind: graph.KindServiceTask, Implementation: "noop"},
		"end":   {Id: "end", Kind: graph.KindEndEvent},
	}
	flows := []graph.SequenceFlow{
		{Id: "f1", Source: "start", Target: "task"},
		{Id: "f2", Source: "task", Target: "end"},
	}
	return graph.NewDefinition("def-linear", "linear", "Linear", nil, elements, flows)
}

// exclusiveDefinition builds start -> gateway -> {highPath, lowPath(default)} -> end.
func exclusiveDefinition() *graph.Definition {
	elements := map[string]*graph.Element{
		"start":    {Id: "start", Kind: graph.KindStartEvent},
		"gateway":  {Id: "gateway", Kind: graph.KindExclusiveGateway, Default: "toLow"},
		"highPath": {Id: "highPath", Kind: graph.KindServiceTask},
		"lowPath":  {Id: "lowPath", Kind: graph.KindServiceTask},
		"end":      {Id: "end", Kind: graph.KindEndEvent},
	}
	flows := []graph.SequenceFlow{
		{Id: "f1", Source: "start", Target: "gateway"},
		{Id: "toHigh", Source: "gateway", Target: "highPath", ConditionExpression: "${amount > 100}", HasCondition: true},
		{Id: "toLow", Source: "gateway", Target: "lowPath"},
		{Id: "f3", Source: "highPath", Target: "end"},
		{Id: "f4", Source: "lowPath", Target: "end"},
	}
	return graph.NewDefinition("def-exclusive", "exclusive", "Exclusive", nil, elements, flows)
}

// parallelDefinition builds start -> fork -> {a, b} -> join -> end.
func parallelDefinition() *graph.Definition {
	elements := map[string]*graph.Element{
		"start": {Id: "start", Kind: graph.KindStartEvent},
		"fork":  {Id: "fork", Kind: graph.KindParallelGateway},
		"a":     {Id: "a", Kind: graph.KindServiceTask},
		"b":     {Id: "b", Kind: graph.KindServiceTask},
		"join":  {Id: "join", Kind: graph.KindParallelGateway},
		"end":   {Id: "end", Kind: graph.KindEndEvent},
	}
	flows := []graph.SequenceFlow{
		{Id: "f1", Source: "start", Target: "fork"},
		{Id: "f2", Source: "fork", Target: "a"},
		{Id: "f3", Source: "fork", Target: "b"},
		{Id: "f4", Source: "a", Target: "join"},
		{Id: "f5", Source: "b", Target: "join"},
		{Id: "f6", Source: "join", Target: "end"},
	}
	return graph.NewDefinition("def-parallel", "parallel", "Parallel", nil, elements, flows)
}

func TestExecutor_StartPlacesTokenOnEveryStartEvent(t *testing.T) {
	def := linearDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)

	inst := exec.Start(def, Variables{"x": 1}, false)

	require.True(t, inst.HasToken("start"))
	assert.Equal(t, []string{"start"}, inst.SortedTokens())
	assert.False(t, inst.IsCompleted)
	assert.Equal(t, 1, inst.Variables["x"])
}

func TestExecutor_CanStep(t *testing.T) {
	def := linearDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)
	inst := exec.Start(def, nil, false)

	assert.True(t, exec.CanStep(inst))

	inst.IsCompleted = true
	assert.False(t, exec.CanStep(inst))

	inst.IsCompleted = false
	inst.ActiveTokens = map[string]struct{}{}
	assert.False(t, exec.CanStep(inst))
}

func TestExecutor_Step_LinearPathToCompletion(t *testing.T) {
	def := linearDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)
	inst := exec.Start(def, nil, false)

	require.NoError(t, exec.Step(context.Background(), inst))
	assert.True(t, inst.HasToken("task"))
	assert.False(t, inst.IsCompleted)

	require.NoError(t, exec.Step(context.Background(), inst))
	assert.True(t, inst.HasToken("end"))
	assert.True(t, inst.IsCompleted)
}

func TestExecutor_Step_ExclusiveGatewayTakesMatchingCondition(t *testing.T) {
	def := exclusiveDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)
	inst := exec.Start(def, Variables{"amount": 500.0}, false)

	require.NoError(t, exec.Step(context.Background(), inst)) // start -> gateway
	require.NoError(t, exec.Step(context.Background(), inst)) // gateway -> highPath

	assert.True(t, inst.HasToken("highPath"))
	assert.False(t, inst.HasToken("lowPath"))
}

func TestExecutor_Step_ExclusiveGatewayFallsBackToDefault(t *testing.T) {
	def := exclusiveDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)
	inst := exec.Start(def, Variables{"amount": 1.0}, false)

	require.NoError(t, exec.Step(context.Background(), inst)) // start -> gateway
	require.NoError(t, exec.Step(context.Background(), inst)) // gateway -> default (lowPath)

	assert.True(t, inst.HasToken("lowPath"))
	assert.False(t, inst.HasToken("highPath"))
}

func TestExecutor_Step_ParallelGatewayForkThenTwoStepJoin(t *testing.T) {
	def := parallelDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)
	inst := exec.Start(def, nil, false)

	require.NoError(t, exec.Step(context.Background(), inst)) // start -> fork
	require.NoError(t, exec.Step(context.Background(), inst)) // fork -> a, b (both join arrivals counted)

	require.True(t, inst.HasToken("a"))
	require.True(t, inst.HasToken("b"))
	assert.Equal(t, 2, len(inst.SortedTokens()))

	require.NoError(t, exec.Step(context.Background(), inst)) // a, b -> join (both arrive, join sits)
	require.True(t, inst.HasToken("join"))
	assert.False(t, inst.IsCompleted)

	require.NoError(t, exec.Step(context.Background(), inst)) // join fires -> end
	require.True(t, inst.HasToken("end"))
	assert.True(t, inst.IsCompleted)
}

func TestExecutor_Step_HandlerFailureAbortsBeforeCommit(t *testing.T) {
	def := linearDefinition()
	reg := NewHandlerRegistry()
	boom := errors.New("boom")
	reg.Register("noop", func(ctx context.Context, tc TaskContext) error { return boom })

	exec := NewExecutor(newFakeDefinitions(def), reg, nil)
	inst := exec.Start(def, nil, false)
	require.NoError(t, exec.Step(context.Background(), inst)) // start -> task

	err := exec.Step(context.Background(), inst)
	require.Error(t, err)

	// active tokens are unchanged: the failing step's partial progress was
	// never committed.
	assert.True(t, inst.HasToken("task"))
	assert.False(t, inst.IsCompleted)
}

func TestExecutor_Step_ObserverReceivesEventsInOrder(t *testing.T) {
	def := parallelDefinition()
	exec := NewExecutor(newFakeDefinitions(def), nil, nil)
	inst := exec.Start(def, nil, false)
	require.NoError(t, exec.Step(context.Background(), inst)) // start -> fork
	require.NoError(t, exec.Step(context.Background(), inst)) // fork -> a, b

	var seen []string
	err := exec.Step(context.Background(), inst, func(ev StepEvent) {
		seen = append(seen, ev.ElementId)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestExecutor_Step_ObserverSeesFailingTokenWithErr(t *testing.T) {
	def := linearDefinition()
	reg := NewHandlerRegistry()
	boom := errors.New("boom")
	reg.Register("noop", func(ctx context.Context, tc TaskContext) error { return boom })

	exec := NewExecutor(newFakeDefinitions(def), reg, nil)
	inst := exec.Start(def, nil, false)
	require.NoError(t, exec.Step(context.Background(), inst)) // start -> task

	var events []StepEvent
	err := exec.Step(context.Background(), inst, func(ev StepEvent) {
		events = append(events, ev)
	})
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "task", events[0].ElementId)
	assert.Error(t, events[0].Err)
}

func TestExecutor_Step_DefinitionNotFound(t *testing.T) {
	def := linearDefinition()
	exec := NewExecutor(newFakeDefinitions(), nil, nil) // empty provider
	inst := exec.Start(def, nil, false)

	err := exec.Step(context.Background(), inst)
	assert.Error(t, err)
}

func TestExecutor_Step_SimulationModeSkipsHandlers(t *testing.T) {
	def := linearDefinition()
	reg := NewHandlerRegistry()
	reg.Register("noop", func(ctx context.Context, tc TaskContext) error {
		return errors.New("should not be called in simulation mode")
	})

	exec := NewExecutor(newFakeDefinitions(def), reg, nil)
	inst := exec.Start(def, nil, true)

	require.NoError(t, exec.Step(context.Background(), inst))
	require.NoError(t, exec.Step(context.Background(), inst))
	assert.True(t, inst.HasToken("end"))
}

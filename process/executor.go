package process

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperr "flowengine/errors"
	"flowengine/graph"
	"flowengine/logging"
)

// StepEvent describes one token's outcome within a Step call, timed from
// just before its task behavior runs to just after its successors (if any)
// are computed. Callers use this to drive optional per-element history
// recording without the executor itself depending on a history store.
type StepEvent struct {
	ElementId   string
	ElementKind graph.ElementKind
	Start       time.Time
	End         time.Time
	Err         error
}

// StepObserver receives one StepEvent per token processed during a Step
// call, in the same order the tokens were processed. If Step aborts on a
// handler error, the observer still receives the event for the failing
// token (with Err set) before Step returns; tokens after it in the snapshot
// are never reached and produce no event.
type StepObserver func(StepEvent)

// DefinitionProvider is the subset of ProcessStore the executor needs to
// reload a definition by id at the start of every Step.
type DefinitionProvider interface {
	GetById(ctx context.Context, id string) (*graph.Definition, error)
}

// Executor implements the token-execution semantics: Start places tokens
// on every start event, CanStep reports whether progress is possible, and
// Step advances every active token by exactly one semantic move.
//
// Executor holds no per-instance state; all mutable state lives on the
// Instance passed into Step. A single Executor value is safe to share
// across goroutines stepping distinct instances concurrently, but a given
// Instance must never be stepped by two goroutines at once.
type Executor struct {
	definitions DefinitionProvider
	handlers    *HandlerRegistry
	logger      logging.Logger
}

func NewExecutor(definitions DefinitionProvider, handlers *HandlerRegistry, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Executor{definitions: definitions, handlers: handlers, logger: logger}
}

// Start creates a new instance with a shallow copy of the caller-supplied
// initial variables and a token on every start event. It never blocks and
// never touches a store.
func (e *Executor) Start(definition *graph.Definition, initialVariables Variables, simulationMode bool) *Instance {
	instance := NewInstance(uuid.NewString(), definition.Id, definition.Key, initialVariables, simulationMode)
	for _, id := range definition.StartEvents() {
		instance.ActiveTokens[id] = struct{}{}
	}
	return instance
}

// CanStep reports whether calling Step could make progress.
func (e *Executor) CanStep(instance *Instance) bool {
	return !instance.IsCompleted && len(instance.ActiveTokens) > 0
}

// Step advances every currently active token by exactly one semantic move
// and commits the resulting token set atomically. See graph.FlowIndex for
// the document-order guarantee that makes gateway evaluation deterministic.
// Any observers are notified once per token processed, in processing order.
func (e *Executor) Step(ctx context.Context, instance *Instance, observers ...StepObserver) error {
	definition, err := e.definitions.GetById(ctx, instance.ProcessDefinition)
	if err != nil {
		return err
	}
	if definition == nil {
		return apperr.NewDefinitionNotFound(instance.ProcessDefinition)
	}
	flowIdx := definition.FlowIndex()

	snapshot := instance.SortedTokens()
	newTokens := make(map[string]struct{}, len(snapshot))
	joinWaits := make(map[string]int, len(instance.ParallelJoinWaits))
	for k, v := range instance.ParallelJoinWaits {
		joinWaits[k] = v
	}

	for _, tokenId := range snapshot {
		if err := ctx.Err(); err != nil {
			return apperr.NewCancelled()
		}

		elem, ok := definition.Element(tokenId)
		if !ok {
			// token references an id no longer in the definition: silently disappears.
			continue
		}

		start := time.Now()
		tokenErr := e.processToken(ctx, instance, tokenId, elem, definition, flowIdx, newTokens, joinWaits)
		notify(observers, StepEvent{ElementId: tokenId, ElementKind: elem.Kind, Start: start, End: time.Now(), Err: tokenErr})
		if tokenErr != nil {
			return tokenErr
		}
	}

	instance.ActiveTokens = newTokens
	instance.ParallelJoinWaits = joinWaits
	instance.IsCompleted = allEndEventsOrEmpty(newTokens, definition)

	return nil
}

// processToken runs one snapshotted token through steps 2-8 of the step
// algorithm: end-event consumption, task behavior, then routing across
// outgoing flows into newTokens/joinWaits.
func (e *Executor) processToken(
	ctx context.Context,
	instance *Instance,
	tokenId string,
	elem *graph.Element,
	definition *graph.Definition,
	flowIdx *graph.FlowIndex,
	newTokens map[string]struct{},
	joinWaits map[string]int,
) error {
	if elem.Kind == graph.KindEndEvent {
		return nil
	}

	if !instance.SimulationMode {
		if err := e.runTaskBehavior(ctx, instance, tokenId, elem); err != nil {
			return err
		}
	}

	outgoing := flowIdx.Outgoing(tokenId)
	if len(outgoing) == 0 {
		return nil
	}

	switch elem.Kind {
	case graph.KindExclusiveGateway:
		if targetId, matched := pickExclusiveTarget(outgoing, instance.Variables, elem, flowIdx); matched {
			emit(targetId, newTokens, joinWaits, definition, flowIdx)
		}
	case graph.KindParallelGateway:
		e.stepParallelGateway(tokenId, outgoing, flowIdx, newTokens, joinWaits, definition)
	default:
		for _, f := range outgoing {
			emit(f.Target, newTokens, joinWaits, definition, flowIdx)
		}
	}
	return nil
}

func notify(observers []StepObserver, event StepEvent) {
	for _, obs := range observers {
		obs(event)
	}
}

func (e *Executor) runTaskBehavior(ctx context.Context, instance *Instance, tokenId string, elem *graph.Element) error {
	switch elem.Kind {
	case graph.KindServiceTask:
		if elem.Implementation == "" {
			return nil
		}
		handler, found := e.handlers.Lookup(elem.Implementation)
		if !found {
			return nil
		}
		if err := handler(ctx, TaskContext{Instance: instance, ElementId: tokenId}); err != nil {
			return apperr.NewHandlerFailure(tokenId, err)
		}
	case graph.KindScriptTask:
		// scriptTask is a no-op: the embedded script is descriptive only.
	}
	return nil
}

func (e *Executor) stepParallelGateway(
	tokenId string,
	outgoing []graph.SequenceFlow,
	flowIdx *graph.FlowIndex,
	newTokens map[string]struct{},
	joinWaits map[string]int,
	definition *graph.Definition,
) {
	inCount := flowIdx.IncomingCount(tokenId)
	outCount := len(outgoing)

	switch {
	case outCount > 1 && inCount <= 1:
		// fork
		for _, f := range outgoing {
			emit(f.Target, newTokens, joinWaits, definition, flowIdx)
		}
	case inCount > 1:
		arrived := joinWaits[tokenId]
		if arrived >= inCount {
			joinWaits[tokenId] = arrived - inCount
			for _, f := range outgoing {
				emit(f.Target, newTokens, joinWaits, definition, flowIdx)
			}
		} else {
			newTokens[tokenId] = struct{}{}
		}
	default:
		// degenerate in<=1, out<=1: straight pass-through
		for _, f := range outgoing {
			emit(f.Target, newTokens, joinWaits, definition, flowIdx)
		}
	}
}

// pickExclusiveTarget walks outgoing in document order and returns the
// target of the first flow whose condition evaluates true, falling back to
// the gateway's default flow.
func pickExclusiveTarget(outgoing []graph.SequenceFlow, vars Variables, elem *graph.Element, flowIdx *graph.FlowIndex) (string, bool) {
	for _, f := range outgoing {
		if EvaluateCondition(f.ConditionExpression, vars) {
			return f.Target, true
		}
	}
	if elem.Default != "" {
		if f, ok := flowIdx.ById(elem.Default); ok {
			return f.Target, true
		}
	}
	return "", false
}

// emit adds targetId to the new token set and, if targetId is a parallel
// gateway with more than one incoming flow, counts this arrival toward its
// join - at fork time, not at fire time.
func emit(targetId string, newTokens map[string]struct{}, joinWaits map[string]int, definition *graph.Definition, flowIdx *graph.FlowIndex) {
	newTokens[targetId] = struct{}{}
	if elem, ok := definition.Element(targetId); ok && elem.Kind == graph.KindParallelGateway {
		if flowIdx.IncomingCount(targetId) > 1 {
			joinWaits[targetId]++
		}
	}
}

func allEndEventsOrEmpty(tokens map[string]struct{}, definition *graph.Definition) bool {
	for id := range tokens {
		elem, ok := definition.Element(id)
		if !ok || elem.Kind != graph.KindEndEvent {
			return false
		}
	}
	return true
}

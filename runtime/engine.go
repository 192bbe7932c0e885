// Package runtime provides the Engine façade: the single entry point an
// embedding application uses to deploy definitions, start instances, drive
// them to completion, and query their state. It owns the handler registry
// and coordinates the executor with the three stores.
package runtime

import (
	"context"

	"flowengine/bpmnxml"
	apperr "flowengine/errors"
	"flowengine/graph"
	"flowengine/history"
	"flowengine/logging"
	"flowengine/process"
	"flowengine/store"
)

// Engine is safe for concurrent use across distinct instances; per the
// executor's own contract, a single instance must never be stepped by two
// goroutines concurrently (the JobStore is what callers use to enforce
// that across a worker pool).
type Engine struct {
	processes store.ProcessStore
	instances store.InstanceStore
	jobs      store.JobStore
	history   history.Store

	executor *process.Executor
	handlers *process.HandlerRegistry
	logger   logging.Logger
}

// JobType is the domain string this engine uses for every job it enqueues:
// "this instance has a pending Step."
const JobType = "continue-instance"

func NewEngine(processes store.ProcessStore, instances store.InstanceStore, jobs store.JobStore, hist history.Store, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if hist == nil {
		hist = history.NewMemStore()
	}
	handlers := process.NewHandlerRegistry()
	return &Engine{
		processes: processes,
		instances: instances,
		jobs:      jobs,
		history:   hist,
		executor:  process.NewExecutor(processes, handlers, logger),
		handlers:  handlers,
		logger:    logger,
	}
}

// RegisterHandler wires a serviceTask implementation type to a handler
// function, case-insensitively.
func (e *Engine) RegisterHandler(taskType string, h process.Handler) {
	e.handlers.Register(taskType, h)
}

// Deploy parses source and saves it as a new version under its own process
// key, id-keyed for later retrieval.
func (e *Engine) Deploy(ctx context.Context, id string, source []byte) (*graph.Definition, error) {
	def, err := bpmnxml.Load(id, source)
	if err != nil {
		return nil, err
	}
	if err := e.processes.Save(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// StartByKey starts a new instance of the latest deployed version of key,
// persists it, and - unless simulationMode suppresses side effects -
// enqueues the job that will drive its first Step.
func (e *Engine) StartByKey(ctx context.Context, key string, initialVariables process.Variables, simulationMode bool) (*process.Instance, error) {
	def, err := e.processes.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, apperr.NewDefinitionNotFound(key)
	}
	return e.start(ctx, def, initialVariables, simulationMode)
}

// StartById is StartByKey's counterpart for a specific definition version.
func (e *Engine) StartById(ctx context.Context, definitionId string, initialVariables process.Variables, simulationMode bool) (*process.Instance, error) {
	def, err := e.processes.GetById(ctx, definitionId)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, apperr.NewDefinitionNotFound(definitionId)
	}
	return e.start(ctx, def, initialVariables, simulationMode)
}

func (e *Engine) start(ctx context.Context, def *graph.Definition, initialVariables process.Variables, simulationMode bool) (*process.Instance, error) {
	instance := e.executor.Start(def, initialVariables, simulationMode)
	if err := e.instances.Save(ctx, instance); err != nil {
		return nil, err
	}
	if !simulationMode && e.jobs != nil && e.executor.CanStep(instance) {
		if err := e.enqueueContinuation(ctx, instance); err != nil {
			return nil, err
		}
	}
	return instance, nil
}

// Step loads instance, advances it exactly one Step, persists the result,
// appends step history, and - if the instance still has work left and is
// not in simulation mode - enqueues the next continuation job.
//
// Step does not call InstanceStore.Save when the underlying executor Step
// fails: a reload from the store discards whatever the in-memory instance
// picked up from a handler that wrote variables before erroring, matching
// the documented "uncommitted until step success" contract.
func (e *Engine) Step(ctx context.Context, instanceId string) error {
	instance, err := e.instances.GetById(ctx, instanceId)
	if err != nil {
		return err
	}
	if instance == nil {
		return apperr.NewInstanceNotFound(instanceId)
	}
	if !e.executor.CanStep(instance) {
		return nil
	}

	baseSequence := e.nextSequenceHint(ctx, instanceId)
	var recorded []history.Record
	observer := func(evt process.StepEvent) {
		status := history.StatusSucceeded
		errText := ""
		if evt.Err != nil {
			status = history.StatusFailed
			errText = evt.Err.Error()
		}
		recorded = append(recorded, history.Record{
			InstanceId:         instanceId,
			ProcessDefinition:  instance.ProcessDefinition,
			ProcessKey:         instance.ProcessKey,
			ElementId:          evt.ElementId,
			ElementType:        evt.ElementKind.String(),
			Sequence:           baseSequence + int64(len(recorded)),
			StartUtc:           evt.Start,
			EndUtc:             evt.End,
			Status:             status,
			Error:              errText,
		})
	}

	stepErr := e.executor.Step(ctx, instance, observer)

	for _, rec := range recorded {
		if appendErr := e.history.Append(ctx, rec); appendErr != nil {
			e.logger.Warn(ctx, "failed to append step history record", logging.Error(appendErr))
		}
	}

	if stepErr != nil {
		return stepErr
	}

	if err := e.instances.Save(ctx, instance); err != nil {
		return err
	}

	if !instance.IsCompleted && !instance.SimulationMode && e.jobs != nil {
		if err := e.enqueueContinuation(ctx, instance); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) enqueueContinuation(ctx context.Context, instance *process.Instance) error {
	return e.jobs.Enqueue(ctx, &store.Job{
		Type:              JobType,
		ProcessInstanceId: instance.Id,
	})
}

// nextSequenceHint returns the next per-instance history sequence number.
// It reads the current count rather than keeping server-side state, which
// is the right tradeoff for an optional, append-only analytics feed: one
// extra read per Step, never on the hot path of token advancement itself.
func (e *Engine) nextSequenceHint(ctx context.Context, instanceId string) int64 {
	existing, err := e.history.ListByInstance(ctx, instanceId)
	if err != nil {
		return 0
	}
	return int64(len(existing))
}

// GetInstance is a read-only passthrough to the InstanceStore, exposed so
// callers don't need to hold their own store reference for simple queries.
func (e *Engine) GetInstance(ctx context.Context, instanceId string) (*process.Instance, error) {
	return e.instances.GetById(ctx, instanceId)
}

// History returns the recorded step executions for instanceId, oldest first.
func (e *Engine) History(ctx context.Context, instanceId string) ([]history.Record, error) {
	return e.history.ListByInstance(ctx, instanceId)
}

package process

import (
	"sort"
	"time"
)

// Variables is the per-instance bag of polymorphic variable values:
// string, int64, float64, bool, nil, or any JSON-compatible value.
type Variables map[string]any

// Clone returns a shallow copy, used when seeding a new Instance from
// caller-supplied initial variables.
func (v Variables) Clone() Variables {
	if v == nil {
		return Variables{}
	}
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Instance is the mutable per-run state of a process. The executor is the
// only component that mutates it during a Step; everything else reaches it
// through a store.
type Instance struct {
	Id                string
	ProcessDefinition string // definition id
	ProcessKey        string // definition key, denormalized

	Variables         Variables
	ActiveTokens      map[string]struct{}
	ParallelJoinWaits map[string]int

	IsCompleted    bool
	SimulationMode bool

	CreatedAt time.Time

	// ConcurrencyToken is opaque to callers; stores bump it on every
	// persisted update and reject writes carrying a stale value.
	ConcurrencyToken []byte
}

// NewInstance constructs a fresh, not-yet-started instance shell. Start()
// in executor.go is what places tokens on start events.
func NewInstance(id, definitionId, processKey string, initialVariables Variables, simulationMode bool) *Instance {
	return &Instance{
		Id:                id,
		ProcessDefinition: definitionId,
		ProcessKey:        processKey,
		Variables:         initialVariables.Clone(),
		ActiveTokens:      make(map[string]struct{}),
		ParallelJoinWaits: make(map[string]int),
		SimulationMode:    simulationMode,
		CreatedAt:         time.Now(),
		ConcurrencyToken:  EncodeVersion(0),
	}
}

// HasToken reports whether a token currently sits on elementId.
func (i *Instance) HasToken(elementId string) bool {
	_, ok := i.ActiveTokens[elementId]
	return ok
}

// SortedTokens returns the active token ids in a deterministic (sorted)
// order. The contract stores tokens as a set; the executor snapshots this
// ordering at the start of every Step so that, given identical state, two
// runs always process tokens in the same order.
func (i *Instance) SortedTokens() []string {
	out := make([]string, 0, len(i.ActiveTokens))
	for id := range i.ActiveTokens {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

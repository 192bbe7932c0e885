package graph

// FlowIndex answers the two queries the executor needs at Step time:
// the outgoing flows of an element (in document order) and the number of
// flows incoming to an element (used for parallel-gateway join detection).
type FlowIndex struct {
	outgoing      map[string][]SequenceFlow
	incomingCount map[string]int
	byId          map[string]SequenceFlow
}

func buildFlowIndex(flows []SequenceFlow) *FlowIndex {
	idx := &FlowIndex{
		outgoing:      make(map[string][]SequenceFlow),
		incomingCount: make(map[string]int),
		byId:          make(map[string]SequenceFlow),
	}
	for _, f := range flows {
		idx.outgoing[f.Source] = append(idx.outgoing[f.Source], f)
		idx.incomingCount[f.Target]++
		idx.byId[f.Id] = f
	}
	return idx
}

// Outgoing returns the sequence flows leaving elementId, in document order.
func (idx *FlowIndex) Outgoing(elementId string) []SequenceFlow {
	return idx.outgoing[elementId]
}

// IncomingCount returns how many sequence flows target elementId.
func (idx *FlowIndex) IncomingCount(elementId string) int {
	return idx.incomingCount[elementId]
}

// ById looks up a sequence flow by its own id, used to resolve an
// exclusiveGateway's `default` attribute to a target element.
func (idx *FlowIndex) ById(flowId string) (SequenceFlow, bool) {
	f, ok := idx.byId[flowId]
	return f, ok
}

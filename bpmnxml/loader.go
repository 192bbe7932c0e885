// Package bpmnxml parses the restricted process notation this engine
// understands into a graph.Definition. It recognizes elements by local
// name only, independent of namespace prefix, matching the source format's
// namespace-agnostic-beyond-the-root contract.
package bpmnxml

import (
	"context"
	"encoding/xml"
	"strings"

	apperr "flowengine/errors"
	"flowengine/graph"
)

// rawElement mirrors one XML element generically; encoding/xml populates
// Attrs for every element regardless of local name, and we inspect
// XMLName.Local to decide what kind of node this is.
type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nested  []rawElement `xml:",any"`
	Content string       `xml:",chardata"`
}

func attr(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Load parses source, which must contain exactly one <process> element
// somewhere in the document, and returns a graph.Definition carrying id,
// key (the process's own `id` attribute), name, and every identified
// element and sequence flow found directly inside it.
//
// id is the definition's own storage identity (distinct from key, which is
// shared across versions of the same process); name defaults to the
// process's `name` attribute, falling back to key when absent.
func Load(id string, source []byte) (*graph.Definition, error) {
	var root rawElement
	if err := xml.Unmarshal(source, &root); err != nil {
		return nil, apperr.Wrap(context.Background(), err, apperr.ErrCodeValidation, "parse process definition xml")
	}

	processEl, ok := findByLocalName(&root, "process")
	if !ok {
		return nil, apperr.New(apperr.ErrCodeValidation, "no <process> element found in source")
	}

	key := attr(processEl.Attrs, "id")
	name := attr(processEl.Attrs, "name")
	if name == "" {
		name = key
	}

	elements := make(map[string]*graph.Element)
	var flows []graph.SequenceFlow

	for _, child := range processEl.Nested {
		elementId := attr(child.Attrs, "id")
		switch child.XMLName.Local {
		case "startEvent":
			if elementId == "" {
				continue
			}
			elements[elementId] = &graph.Element{Id: elementId, Kind: graph.KindStartEvent, Name: attr(child.Attrs, "name")}
		case "endEvent":
			if elementId == "" {
				continue
			}
			elements[elementId] = &graph.Element{Id: elementId, Kind: graph.KindEndEvent, Name: attr(child.Attrs, "name")}
		case "serviceTask":
			if elementId == "" {
				continue
			}
			impl := attr(child.Attrs, "implementation")
			if impl == "" {
				impl = attr(child.Attrs, "type")
			}
			elements[elementId] = &graph.Element{
				Id: elementId, Kind: graph.KindServiceTask, Name: attr(child.Attrs, "name"),
				Implementation: impl,
			}
		case "scriptTask":
			if elementId == "" {
				continue
			}
			elements[elementId] = &graph.Element{
				Id: elementId, Kind: graph.KindScriptTask, Name: attr(child.Attrs, "name"),
				Script: strings.TrimSpace(child.Content),
			}
		case "exclusiveGateway":
			if elementId == "" {
				continue
			}
			elements[elementId] = &graph.Element{
				Id: elementId, Kind: graph.KindExclusiveGateway, Name: attr(child.Attrs, "name"),
				Default: attr(child.Attrs, "default"),
			}
		case "parallelGateway":
			if elementId == "" {
				continue
			}
			elements[elementId] = &graph.Element{Id: elementId, Kind: graph.KindParallelGateway, Name: attr(child.Attrs, "name")}
		case "sequenceFlow":
			flow := graph.SequenceFlow{
				Id:     elementId,
				Source: attr(child.Attrs, "sourceRef"),
				Target: attr(child.Attrs, "targetRef"),
			}
			if condEl, ok := findByLocalName(&child, "conditionExpression"); ok {
				flow.HasCondition = true
				flow.ConditionExpression = strings.TrimSpace(condEl.Content)
			}
			flows = append(flows, flow)
		}
	}

	return graph.NewDefinition(id, key, name, source, elements, flows), nil
}

// findByLocalName performs a depth-first search for the first descendant
// (including root itself) whose XML local name matches local.
func findByLocalName(root *rawElement, local string) (*rawElement, bool) {
	if root.XMLName.Local == local {
		return root, true
	}
	for i := range root.Nested {
		if found, ok := findByLocalName(&root.Nested[i], local); ok {
			return found, true
		}
	}
	return nil, false
}

// Package coverage implements the activity-coverage recorder: a
// generalization of comalice-statechartx's per-machine
// production.Visualizer (DOT/JSON export of a single machine's config)
// into a runtime-wide tracker of which states were entered and which
// (state, event) handlers fired, across every machine type observed
// during a run or exploration.
package coverage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// handlerKey identifies one (state, event) dispatch observed at runtime.
type handlerKey struct {
	State primitives.StateName
	Kind  primitives.EventKind
}

// typeCoverage accumulates the states entered and handlers fired for one
// machine type.
type typeCoverage struct {
	statesEntered map[primitives.StateName]uint64
	handlersFired map[handlerKey]uint64
}

// Recorder implements core.CoverageSink, accumulating activity coverage
// across every machine and monitor type it observes. Safe for concurrent
// use by many machines' handler-run goroutines (production backend).
type Recorder struct {
	mu    sync.Mutex
	types map[string]*typeCoverage
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{types: make(map[string]*typeCoverage)}
}

func (r *Recorder) typeEntry(typeName string) *typeCoverage {
	t, ok := r.types[typeName]
	if !ok {
		t = &typeCoverage{
			statesEntered: make(map[primitives.StateName]uint64),
			handlersFired: make(map[handlerKey]uint64),
		}
		r.types[typeName] = t
	}
	return t
}

// RecordStateEntered implements core.CoverageSink.
func (r *Recorder) RecordStateEntered(typeName string, state primitives.StateName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeEntry(typeName).statesEntered[state]++
}

// RecordHandlerFired implements core.CoverageSink.
func (r *Recorder) RecordHandlerFired(typeName string, state primitives.StateName, kind primitives.EventKind, _ primitives.HandlerKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeEntry(typeName).handlersFired[handlerKey{State: state, Kind: kind}]++
}

// TypeSummary is the JSON-exportable coverage record for one machine type.
type TypeSummary struct {
	TypeName      string                          `json:"type_name"`
	StatesEntered map[primitives.StateName]uint64 `json:"states_entered"`
	HandlersFired []HandlerFiredSummary           `json:"handlers_fired"`
}

// HandlerFiredSummary reports how many times one (state, event) dispatch
// fired.
type HandlerFiredSummary struct {
	State primitives.StateName `json:"state"`
	Event primitives.EventKind `json:"event"`
	Count uint64               `json:"count"`
}

// Summary returns a deterministically ordered snapshot of all coverage
// recorded so far.
func (r *Recorder) Summary() []TypeSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]TypeSummary, 0, len(names))
	for _, name := range names {
		t := r.types[name]
		states := make(map[primitives.StateName]uint64, len(t.statesEntered))
		for s, n := range t.statesEntered {
			states[s] = n
		}
		handlers := make([]HandlerFiredSummary, 0, len(t.handlersFired))
		for k, n := range t.handlersFired {
			handlers = append(handlers, HandlerFiredSummary{State: k.State, Event: k.Kind, Count: n})
		}
		sort.Slice(handlers, func(i, j int) bool {
			if handlers[i].State != handlers[j].State {
				return handlers[i].State < handlers[j].State
			}
			return handlers[i].Event < handlers[j].Event
		})
		out = append(out, TypeSummary{TypeName: name, StatesEntered: states, HandlersFired: handlers})
	}
	return out
}

// ExportJSON serializes the current coverage summary as indented JSON.
func (r *Recorder) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r.Summary(), "", "  ")
}

// ExportDOT renders every covered machine type as a Graphviz subgraph,
// shading entered states, in the same vein as DefaultVisualizer.ExportDOT
// but driven by runtime observations instead of a single static config.
func (r *Recorder) ExportDOT() string {
	summary := r.Summary()
	var buf bytes.Buffer
	buf.WriteString("digraph ActivityCoverage {\n  rankdir=LR;\n  node [shape=box, fontsize=10, style=rounded];\n  edge [fontsize=9];\n\n")
	for _, t := range summary {
		cluster := fmt.Sprintf("cluster_%s", t.TypeName)
		fmt.Fprintf(&buf, "  subgraph %s {\n    label=%q;\n", cluster, t.TypeName)
		for state, count := range t.StatesEntered {
			fill := "white"
			if count > 0 {
				fill = "lightgreen"
			}
			fmt.Fprintf(&buf, "    %q [label=%q style=filled fillcolor=%s];\n", t.TypeName+"."+string(state), fmt.Sprintf("%s (%d)", state, count), fill)
		}
		buf.WriteString("  }\n")
		for _, h := range t.HandlersFired {
			fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", t.TypeName+"."+string(h.State), t.TypeName+"."+string(h.State), fmt.Sprintf("%s x%d", h.Event, h.Count))
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}

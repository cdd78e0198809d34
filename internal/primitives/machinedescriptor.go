// MachineDescriptor is the per-machine-type record produced by a builder and
// cached by the state descriptor registry (internal/core.Registry): the
// start state plus the flat map of all declared states.
package primitives

import "fmt"

// MachineDescriptor describes one machine (or monitor) type.
type MachineDescriptor struct {
	TypeName string
	Start    StateName
	States   map[StateName]*StateDescriptor

	// OnFailure, if set, is invoked by the production backend when an
	// uncaught action error halts this machine type.
	OnFailure Action
}

// NewMachineDescriptor creates a descriptor with an empty state table.
func NewMachineDescriptor(typeName string) *MachineDescriptor {
	return &MachineDescriptor{
		TypeName: typeName,
		States:   make(map[StateName]*StateDescriptor),
	}
}

// Validate checks that Start is set and present, every state validates on
// its own, and every goto/push target names a declared state.
func (m *MachineDescriptor) Validate() error {
	if m.TypeName == "" {
		return fmt.Errorf("machine descriptor: type name is required")
	}
	if m.Start == "" {
		return fmt.Errorf("machine %q: start state is required", m.TypeName)
	}
	start, ok := m.States[m.Start]
	if !ok {
		return fmt.Errorf("machine %q: start state %q not declared", m.TypeName, m.Start)
	}
	if !start.IsStart {
		return fmt.Errorf("machine %q: declared start state %q is missing IsStart", m.TypeName, m.Start)
	}

	for name, state := range m.States {
		if name != state.Name {
			return fmt.Errorf("machine %q: state registered under %q has Name %q", m.TypeName, name, state.Name)
		}
		if err := state.Validate(); err != nil {
			return fmt.Errorf("machine %q: %w", m.TypeName, err)
		}
		for kind, h := range state.Handlers {
			switch h.Kind {
			case HandlerGoto, HandlerGotoWithAction, HandlerPush:
				if _, ok := m.States[h.Target]; !ok {
					return fmt.Errorf("machine %q: state %q event %q targets undeclared state %q", m.TypeName, name, kind, h.Target)
				}
			}
		}
	}
	return nil
}

// Lookup returns the handler declared for (state, kind), walking no
// hierarchy: the flat state-stack model resolves handlers purely by exact
// state name, unlike the nested-ancestor search of a hierarchical
// statechart. The caller (Machine.dispatch in internal/core) instead walks
// the *stack* from top to bottom, calling Lookup once per frame. For the
// synthesized Default event, a state's DefaultHandler is returned when no
// ordinary handler is declared for it.
func (m *MachineDescriptor) Lookup(state StateName, kind EventKind) (Handler, bool) {
	s, ok := m.States[state]
	if !ok {
		return Handler{}, false
	}
	h, ok := s.Handlers[kind]
	if !ok && kind == Default && s.DefaultHandler != nil {
		return *s.DefaultHandler, true
	}
	return h, ok
}

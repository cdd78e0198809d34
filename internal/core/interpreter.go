// stackFilter adapts the top frame of a state stack to core.StateFilter, so
// the Inbox can ask "is this kind deferred/ignored by whatever the machine
// currently considers its top state" without the Inbox needing to know
// anything about stacks. Machine.dispatch implements the actual handler
// search, which — unlike this
// filter — has the side effect of popping unhandled frames as it walks
// down the stack, so it cannot be expressed as a pure StateFilter query.
package core

import (
	"github.com/asyncmach/asyncmach/internal/primitives"
)

type stackFilter struct {
	desc *primitives.MachineDescriptor
	top  primitives.StateName
}

func (f stackFilter) state() *primitives.StateDescriptor {
	return f.desc.States[f.top]
}

func (f stackFilter) IsDeferred(kind primitives.EventKind) bool {
	s := f.state()
	return s != nil && s.Deferred[kind]
}

func (f stackFilter) IsIgnored(kind primitives.EventKind) bool {
	s := f.state()
	return s != nil && s.Ignored[kind]
}

func (f stackFilter) HasDefaultHandler() bool {
	s := f.state()
	return s != nil && s.DefaultHandler != nil
}

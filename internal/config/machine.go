package config

import (
	"fmt"
	"log/slog"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// ActionName selects one of a small built-in action vocabulary a YAML
// machine definition can reference, since Action itself is a Go closure
// and cannot be expressed in data. This mirrors how comalice-statechartx's
// SCXML downloader reduces an external definition format down to what the
// core engine can actually execute, rather than attempting a general
// embedded-scripting action layer.
type ActionName string

const (
	// ActionNone runs no code.
	ActionNone ActionName = ""
	// ActionLog emits a structured log line naming the machine, state, and
	// event being handled.
	ActionLog ActionName = "log"
)

func resolveAction(name ActionName) (primitives.Action, error) {
	switch name {
	case ActionNone:
		return nil, nil
	case ActionLog:
		return func(ctx primitives.ActionContext) error {
			slog.Info("asyncmach: handler fired",
				"machine", ctx.Id().String(), "event", string(ctx.Event().Kind))
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", name)
	}
}

// HandlerDef is the YAML-facing mirror of primitives.Handler.
type HandlerDef struct {
	Kind   string     `yaml:"kind"`
	Target string     `yaml:"target,omitempty"`
	Action ActionName `yaml:"action,omitempty"`
}

func (h HandlerDef) build() (primitives.Handler, error) {
	action, err := resolveAction(h.Action)
	if err != nil {
		return primitives.Handler{}, err
	}
	switch h.Kind {
	case "do":
		if action == nil {
			return primitives.Handler{}, fmt.Errorf("do handler requires an action")
		}
		return primitives.Handler{Kind: primitives.HandlerDo, Action: action}, nil
	case "goto":
		if h.Target == "" {
			return primitives.Handler{}, fmt.Errorf("goto handler requires a target")
		}
		if action != nil {
			return primitives.Handler{Kind: primitives.HandlerGotoWithAction, Target: primitives.StateName(h.Target), Action: action}, nil
		}
		return primitives.Handler{Kind: primitives.HandlerGoto, Target: primitives.StateName(h.Target)}, nil
	case "push":
		if h.Target == "" {
			return primitives.Handler{}, fmt.Errorf("push handler requires a target")
		}
		return primitives.Handler{Kind: primitives.HandlerPush, Target: primitives.StateName(h.Target)}, nil
	case "pop":
		return primitives.Handler{Kind: primitives.HandlerPop}, nil
	default:
		return primitives.Handler{}, fmt.Errorf("unknown handler kind %q", h.Kind)
	}
}

// StateDef is the YAML-facing mirror of primitives.StateDescriptor.
type StateDef struct {
	Start    bool                  `yaml:"start,omitempty"`
	OnEntry  ActionName            `yaml:"on_entry,omitempty"`
	OnExit   ActionName            `yaml:"on_exit,omitempty"`
	Handlers map[string]HandlerDef `yaml:"handlers,omitempty"`
	Deferred []string              `yaml:"deferred,omitempty"`
	Ignored  []string              `yaml:"ignored,omitempty"`
	Default  *HandlerDef           `yaml:"default,omitempty"`
}

// MachineTypeDef is the YAML-facing mirror of primitives.MachineDescriptor:
// a machine type a config file can declare inline, without a compiled-in
// Go builder call. Driving a genuinely custom action still requires a Go
// binary that calls asyncmach.RegisterMachineType directly; this path
// exists for the CLI's "run/test a descriptor straight from YAML" use.
type MachineTypeDef struct {
	TypeName  string              `yaml:"type_name"`
	States    map[string]StateDef `yaml:"states"`
	OnFailure ActionName          `yaml:"on_failure,omitempty"`
}

// Build constructs and validates the primitives.MachineDescriptor named by
// this definition.
func (d MachineTypeDef) Build() (*primitives.MachineDescriptor, error) {
	if d.TypeName == "" {
		return nil, fmt.Errorf("machine type definition missing type_name")
	}
	desc := primitives.NewMachineDescriptor(d.TypeName)

	onFailure, err := resolveAction(d.OnFailure)
	if err != nil {
		return nil, fmt.Errorf("machine %q: on_failure: %w", d.TypeName, err)
	}
	desc.OnFailure = onFailure

	for name, sdef := range d.States {
		sd := primitives.NewStateDescriptor(primitives.StateName(name))
		sd.IsStart = sdef.Start
		if sdef.Start {
			desc.Start = primitives.StateName(name)
		}

		entry, err := resolveAction(sdef.OnEntry)
		if err != nil {
			return nil, fmt.Errorf("machine %q state %q: on_entry: %w", d.TypeName, name, err)
		}
		sd.OnEntry = entry

		exit, err := resolveAction(sdef.OnExit)
		if err != nil {
			return nil, fmt.Errorf("machine %q state %q: on_exit: %w", d.TypeName, name, err)
		}
		sd.OnExit = exit

		for kind, hdef := range sdef.Handlers {
			h, err := hdef.build()
			if err != nil {
				return nil, fmt.Errorf("machine %q state %q event %q: %w", d.TypeName, name, kind, err)
			}
			sd.Handlers[primitives.EventKind(kind)] = h
		}
		for _, kind := range sdef.Deferred {
			sd.Deferred[primitives.EventKind(kind)] = true
		}
		for _, kind := range sdef.Ignored {
			sd.Ignored[primitives.EventKind(kind)] = true
		}
		if sdef.Default != nil {
			h, err := sdef.Default.build()
			if err != nil {
				return nil, fmt.Errorf("machine %q state %q default handler: %w", d.TypeName, name, err)
			}
			sd.DefaultHandler = &h
		}

		desc.States[primitives.StateName(name)] = sd
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

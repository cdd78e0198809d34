// Package asyncmach is the public façade over the machine core and its two
// scheduler backends: a production Runtime for live deployments and a
// controlled Runtime for systematic interleaving exploration. It re-exports
// the primitive vocabulary (Event, MachineId, StateDescriptor, ...) so
// callers never need to import internal packages directly, and provides a
// fluent Builder mirroring comalice-statechartx's own MachineBuilder, but
// targeting the flat state-stack MachineDescriptor/StateDescriptor model
// this runtime uses instead of comalice-statechartx's hierarchical State
// tree.
package asyncmach

import (
	"fmt"

	"github.com/asyncmach/asyncmach/internal/controlled"
	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/coverage"
	"github.com/asyncmach/asyncmach/internal/primitives"
	"github.com/asyncmach/asyncmach/internal/production"
)

// Re-exported primitive vocabulary, so application code depends only on
// this package.
type (
	Event             = primitives.Event
	EventKind         = primitives.EventKind
	MachineId         = primitives.MachineId
	StateName         = primitives.StateName
	Action            = primitives.Action
	ActionContext     = primitives.ActionContext
	SendOptions       = primitives.SendOptions
	Handler           = primitives.Handler
	HandlerKind       = primitives.HandlerKind
	StateDescriptor   = primitives.StateDescriptor
	MachineDescriptor = primitives.MachineDescriptor
)

const (
	DefaultEvent = primitives.Default
	HaltEvent    = primitives.Halt
)

// NewEvent creates an Event of the given kind and payload.
func NewEvent(kind EventKind, payload any) Event { return primitives.NewEvent(kind, payload) }

// Registry caches built MachineDescriptors by type name, shared across
// however many Runtimes (production or controlled) are created against it.
type Registry = core.Registry

// NewRegistry creates an empty machine-type registry.
func NewRegistry() *Registry { return core.NewRegistry() }

// MonitorRegistry caches built monitor descriptors and their per-state
// temperature tables.
type MonitorRegistry = core.MonitorRegistry

// NewMonitorRegistry creates an empty monitor-type registry.
func NewMonitorRegistry() *MonitorRegistry { return core.NewMonitorRegistry() }

// Temperature classifies a monitor's current state for liveness checking.
type Temperature = core.Temperature

const (
	Neutral = core.Neutral
	Hot     = core.Hot
	Cold    = core.Cold
)

// RegisterMachineType binds build's MachineDescriptor to typeName in
// registry. build runs at most once per type, regardless of how many
// machines of that type are created; a build error is a startup-time
// configuration mistake, so it panics rather than surfacing through every
// later CreateMachine call.
func RegisterMachineType(registry *Registry, typeName string, build func() (*MachineDescriptor, error)) {
	registry.RegisterType(typeName, func() *MachineDescriptor {
		desc, err := build()
		if err != nil {
			panic(fmt.Sprintf("asyncmach: register machine type %q: %v", typeName, err))
		}
		return desc
	})
}

// RegisterMonitorType binds build's MachineDescriptor and per-state
// temperature map to typeName in registry.
func RegisterMonitorType(registry *MonitorRegistry, typeName string, build func() (*MachineDescriptor, map[StateName]Temperature, error)) {
	registry.RegisterType(typeName, func() (*MachineDescriptor, map[StateName]Temperature) {
		desc, temps, err := build()
		if err != nil {
			panic(fmt.Sprintf("asyncmach: register monitor type %q: %v", typeName, err))
		}
		return desc, temps
	})
}

// Recorder is the activity-coverage recorder, shared across a production
// Runtime's lifetime or across an Explore call's iterations.
type Recorder = coverage.Recorder

// NewRecorder creates an empty activity-coverage recorder.
func NewRecorder() *Recorder { return coverage.NewRecorder() }

// ActionRunner executes a single action, optionally decorating it (e.g.
// internal/extensibility.LoggingActionRunner). Passing nil uses a plain,
// undecorated runner.
type ActionRunner = core.ActionRunner

// Runtime is the programming surface common to both backends: the
// create/send/monitor/assert/choice calls action code and external callers
// use to drive the system, independent of whether a production or
// controlled Runtime is behind it.
type Runtime interface {
	primitives.RuntimeHandle

	CreateMachineID(typeName, friendly string) MachineId
	Bind(mid MachineId, typeName string, init *Event) error
	SendEvent(target MachineId, ev Event, opts SendOptions) error
	SendEventAndExecute(target MachineId, ev Event, opts SendOptions) (bool, error)
	RegisterMonitor(typeName string) error
	GetCurrentOperationGroupID(mid MachineId) (string, error)
}

// RuntimeOption configures a production Runtime at construction. Use the
// With* constructors in internal/production re-exported below.
type RuntimeOption = production.Option

var (
	WithActionRunner     = production.WithActionRunner
	WithCoverageRecorder = production.WithCoverageRecorder
	WithFailureHandler   = production.WithFailureHandler
	WithSeed             = production.WithSeed
)

// FailureHandler is invoked once when a production Runtime's machine
// records a fatal, uncaught action error.
type FailureHandler = production.FailureHandler

// NewProductionRuntime creates the live, parallel-dispatch backend.
func NewProductionRuntime(registry *Registry, monitorRegistry *MonitorRegistry, opts ...RuntimeOption) *production.Runtime {
	return production.NewRuntime(registry, monitorRegistry, opts...)
}

// Strategy selects the controlled backend's scheduling decisions.
type Strategy = controlled.Strategy

// Re-exported strategy constructors.
var (
	NewRandomStrategy        = controlled.NewRandomStrategy
	NewDFSStrategy           = controlled.NewDFSStrategy
	NewIDDFSStrategy         = controlled.NewIDDFSStrategy
	NewProbabilisticStrategy = controlled.NewProbabilisticStrategy
	NewPCTStrategy           = controlled.NewPCTStrategy
	NewFairPCTStrategy       = controlled.NewFairPCTStrategy
	NewPortfolioStrategy     = controlled.NewPortfolioStrategy
	NewReplayStrategy        = controlled.NewReplayStrategy
)

// ExploreConfig configures one Explore run of the controlled backend.
type ExploreConfig = controlled.Config

// Scenario sets up the machines and monitors explored by one Explore
// iteration.
type Scenario = controlled.Scenario

// Bug is a user-visible report produced by one explored schedule.
type Bug = controlled.Bug

// TraceEntry is one recorded scheduling decision, replayable via
// NewReplayStrategy.
type TraceEntry = controlled.TraceEntry

// ExploreReport summarizes an Explore call across every iteration run.
type ExploreReport = controlled.Report

// Explore runs cfg.Iterations independent controlled schedules of
// scenario against registry and monitorRegistry, stopping early on the
// first reported bug.
func Explore(registry *Registry, monitorRegistry *MonitorRegistry, actionRunner ActionRunner, cfg ExploreConfig, scenario Scenario) (*ExploreReport, error) {
	return controlled.Explore(registry, monitorRegistry, actionRunner, cfg, scenario)
}

// ControlledRuntime is the per-iteration execution context a Scenario
// receives; exported so scenario code can be written against this
// package alone.
type ControlledRuntime = controlled.Runtime

var (
	_ Runtime = (*production.Runtime)(nil)
	_ Runtime = (*controlled.Runtime)(nil)
)

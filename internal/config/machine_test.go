package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

func TestMachineTypeDef_BuildRoundTripsThroughYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
machine_types:
  - type_name: Pinger
    states:
      A:
        start: true
        on_entry: log
        handlers:
          ping:
            kind: goto
            target: B
      B:
        handlers:
          pong:
            kind: goto
            target: A
`), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.MachineTypes, 1)

	reg, err := f.BuildRegistry()
	require.NoError(t, err)

	desc, err := reg.Descriptor("Pinger")
	require.NoError(t, err)
	assert.Equal(t, primitives.StateName("A"), desc.Start)
	assert.True(t, desc.States["A"].IsStart)
	assert.NotNil(t, desc.States["A"].OnEntry)
	assert.Contains(t, desc.States["A"].Handlers, primitives.EventKind("ping"))
}

func TestMachineTypeDef_Build_MissingTypeName(t *testing.T) {
	d := MachineTypeDef{States: map[string]StateDef{"A": {Start: true}}}
	_, err := d.Build()
	require.Error(t, err)
}

func TestMachineTypeDef_Build_UnknownAction(t *testing.T) {
	d := MachineTypeDef{
		TypeName: "Bad",
		States: map[string]StateDef{
			"A": {Start: true, OnEntry: ActionName("nonsense")},
		},
	}
	_, err := d.Build()
	require.Error(t, err)
}

func TestHandlerDef_Build_EachKind(t *testing.T) {
	cases := []struct {
		name string
		def  HandlerDef
	}{
		{"do", HandlerDef{Kind: "do", Action: ActionLog}},
		{"goto", HandlerDef{Kind: "goto", Target: "B"}},
		{"goto_with_action", HandlerDef{Kind: "goto", Target: "B", Action: ActionLog}},
		{"push", HandlerDef{Kind: "push", Target: "B"}},
		{"pop", HandlerDef{Kind: "pop"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := tc.def.build()
			require.NoError(t, err)
			_ = h.Kind
		})
	}
}

func TestHandlerDef_Build_RejectsMissingTarget(t *testing.T) {
	_, err := HandlerDef{Kind: "goto"}.build()
	require.Error(t, err)

	_, err = HandlerDef{Kind: "push"}.build()
	require.Error(t, err)
}

func TestHandlerDef_Build_UnknownKind(t *testing.T) {
	_, err := HandlerDef{Kind: "teleport"}.build()
	require.Error(t, err)
}

func TestResolveAction_None(t *testing.T) {
	action, err := resolveAction(ActionNone)
	require.NoError(t, err)
	assert.Nil(t, action)
}

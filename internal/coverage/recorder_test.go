package coverage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

func TestRecorder_SummaryAccumulatesAcrossTypes(t *testing.T) {
	r := NewRecorder()
	r.RecordStateEntered("alpha", "A")
	r.RecordStateEntered("alpha", "A")
	r.RecordStateEntered("alpha", "B")
	r.RecordHandlerFired("alpha", "A", "ping", primitives.HandlerGoto)
	r.RecordHandlerFired("alpha", "A", "ping", primitives.HandlerGoto)
	r.RecordStateEntered("beta", "X")

	summary := r.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, "alpha", summary[0].TypeName)
	assert.Equal(t, "beta", summary[1].TypeName)

	assert.Equal(t, uint64(2), summary[0].StatesEntered["A"])
	assert.Equal(t, uint64(1), summary[0].StatesEntered["B"])
	require.Len(t, summary[0].HandlersFired, 1)
	assert.Equal(t, uint64(2), summary[0].HandlersFired[0].Count)
}

func TestRecorder_SummaryOrderingIsDeterministic(t *testing.T) {
	r := NewRecorder()
	r.RecordStateEntered("zeta", "Z")
	r.RecordStateEntered("alpha", "A")
	r.RecordStateEntered("mu", "M")

	for i := 0; i < 5; i++ {
		summary := r.Summary()
		require.Len(t, summary, 3)
		assert.Equal(t, []string{"alpha", "mu", "zeta"}, []string{summary[0].TypeName, summary[1].TypeName, summary[2].TypeName})
	}
}

func TestRecorder_ExportJSONRoundTrips(t *testing.T) {
	r := NewRecorder()
	r.RecordStateEntered("alpha", "A")
	r.RecordHandlerFired("alpha", "A", "ping", primitives.HandlerDo)

	data, err := r.ExportJSON()
	require.NoError(t, err)

	var decoded []TypeSummary
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "alpha", decoded[0].TypeName)
	assert.Equal(t, uint64(1), decoded[0].StatesEntered["A"])
}

func TestRecorder_ExportDOTIncludesTypeNames(t *testing.T) {
	r := NewRecorder()
	r.RecordStateEntered("alpha", "A")
	dot := r.ExportDOT()
	assert.Contains(t, dot, "digraph ActivityCoverage")
	assert.Contains(t, dot, "alpha")
}

func TestRecorder_EmptyRecorderProducesEmptySummary(t *testing.T) {
	r := NewRecorder()
	assert.Empty(t, r.Summary())
}

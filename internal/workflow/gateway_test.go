package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_OutcomeSelectsBranch(t *testing.T) {
	def := mustLoad(t, gatewayJSON)

	tr, err := Evaluate(def, "decision", "rejected", nil)
	require.NoError(t, err)
	assert.Equal(t, "end", tr.To)

	tr, err = Evaluate(def, "decision", "approved", nil)
	require.NoError(t, err)
	assert.Equal(t, "proposal_creation", tr.To)
}

func TestEvaluate_NoMatchWithoutDefault(t *testing.T) {
	def := mustLoad(t, gatewayJSON)

	_, err := Evaluate(def, "decision", "maybe", nil)
	assert.ErrorIs(t, err, ErrNoMatchingTransition)
}

func TestEvaluate_FirstMatchWinsThenDefault(t *testing.T) {
	def := mustLoad(t, `{"key":"k","lanes":[],"steps":[
		{"key":"s","type":"start_event"},{"key":"g","type":"gateway"},
		{"key":"big","type":"end_event"},{"key":"vip","type":"end_event"},{"key":"other","type":"end_event"}],
		"transitions":[
			{"from":"s","to":"g"},
			{"from":"g","to":"vip","condition":{"field":"tier","in":["gold","platinum"]}},
			{"from":"g","to":"big","condition":{"field":"budget","equals":"large"}},
			{"from":"g","to":"other"}]}`)
	_, err := Validate(def)
	require.NoError(t, err)

	data := map[string]any{"tier": "gold", "budget": "large"}
	for i := 0; i < 5; i++ {
		tr, err := Evaluate(def, "g", "", data)
		require.NoError(t, err)
		assert.Equal(t, "vip", tr.To)
	}

	tr, err := Evaluate(def, "g", "", map[string]any{"budget": "large"})
	require.NoError(t, err)
	assert.Equal(t, "big", tr.To)

	tr, err = Evaluate(def, "g", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "other", tr.To)
}

func TestEvaluate_LinearStepTakesOnlyEdge(t *testing.T) {
	def := mustLoad(t, linearJSON)

	tr, err := Evaluate(def, "review", "whatever", nil)
	require.NoError(t, err)
	assert.Equal(t, "end", tr.To)

	_, err = Evaluate(def, "nope", "", nil)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestCondition_Matches(t *testing.T) {
	notRejected := &Condition{Equals: ptr("rejected"), Not: true}
	assert.True(t, notRejected.Matches("approved", nil))
	assert.False(t, notRejected.Matches("rejected", nil))

	hours := &Condition{Field: "hours", In: []string{"8", "16"}}
	assert.True(t, hours.Matches("", map[string]any{"hours": 16}))
	assert.False(t, hours.Matches("", map[string]any{"hours": 4}))
	assert.False(t, hours.Matches("", nil))
}

func ptr(s string) *string { return &s }

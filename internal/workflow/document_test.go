package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_DetectsShape(t *testing.T) {
	doc, err := Decode([]byte(linearJSON))
	require.NoError(t, err)
	assert.IsType(t, &FullDefinition{}, doc)

	doc, err = Decode([]byte(`{"key":"old","steps":[{"key":"a","title":"A"}]}`))
	require.NoError(t, err)
	assert.IsType(t, &LegacyDefinition{}, doc)

	_, err = Decode([]byte("  "))
	assert.Error(t, err)
}

func TestLegacyDefinition_Normalize(t *testing.T) {
	def, err := Load([]byte(`{
		"key": "onboarding",
		"name": "Onboarding",
		"steps": [
			{"key": "start", "title": "Collides with the synthetic start", "lane": "Business Development"},
			{"key": "provision", "title": "Provision", "lane": "Automation", "automationAction": "create_project"},
			{"key": "kickoff", "title": "Kickoff", "estimatedDurationMinutes": 30}
		]
	}`))
	require.NoError(t, err)

	_, err = Validate(def)
	require.NoError(t, err)

	start, ok := def.Start()
	require.True(t, ok)
	assert.Equal(t, "_start", start.Key())

	s, ok := def.Step("provision")
	require.True(t, ok)
	action, ok := ActionOf(s)
	assert.True(t, ok)
	assert.Equal(t, "create_project", action)

	k, _ := def.Step("kickoff")
	assert.Equal(t, StepUserTask, k.Type())
	assert.Equal(t, defaultLane, k.Lane())
	assert.Equal(t, 30.0, k.SLA().Minutes())

	end, ok := def.Step("end")
	require.True(t, ok)
	assert.Equal(t, StepEndEvent, end.Type())
	assert.Len(t, def.Lanes, 3)
}

func TestFullDefinition_RejectsFieldsOfOtherVariants(t *testing.T) {
	_, err := Load([]byte(`{"key":"k","lanes":[],"transitions":[],"steps":[
		{"key":"a","type":"user_task","automationAction":"send_email"}]}`))
	assert.Error(t, err)

	_, err = Load([]byte(`{"key":"k","lanes":[],"transitions":[],"steps":[
		{"key":"a","type":"gateway","isOptional":true}]}`))
	assert.Error(t, err)

	_, err = Load([]byte(`{"key":"k","lanes":[],"transitions":[],"steps":[
		{"key":"a","type":"subprocess"}]}`))
	assert.Error(t, err)
}

func TestDefinition_DocumentRoundTrip(t *testing.T) {
	def := mustLoad(t, gatewayJSON).WithVersion(4)

	raw, err := json.Marshal(def)
	require.NoError(t, err)
	again, err := Load(raw)
	require.NoError(t, err)

	assert.Equal(t, 4, again.Version)
	assert.Equal(t, def.Document(), again.Document())

	tr, err := Evaluate(again, "decision", "rejected", nil)
	require.NoError(t, err)
	assert.Equal(t, "end", tr.To)
}

func TestParseYAML_ConditionShorthand(t *testing.T) {
	def, err := ParseYAML([]byte(`
key: yaml_flow
lanes: [{key: bd, name: BD}]
steps:
  - {key: s, lane: bd, type: start_event, title: Start}
  - {key: g, lane: bd, type: gateway, title: Gate}
  - {key: won, lane: bd, type: end_event, title: Won}
  - {key: lost, lane: bd, type: end_event, title: Lost}
transitions:
  - {from: s, to: g}
  - {from: g, to: won, condition: approved}
  - {from: g, to: lost}
`))
	require.NoError(t, err)

	tr, err := Evaluate(def, "g", "approved", nil)
	require.NoError(t, err)
	assert.Equal(t, "won", tr.To)
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsWellFormedDefinitions(t *testing.T) {
	for name, raw := range map[string]string{"linear": linearJSON, "gateway": gatewayJSON} {
		t.Run(name, func(t *testing.T) {
			v, err := Validate(mustLoad(t, raw))
			require.NoError(t, err)
			assert.NotNil(t, v.Definition)
		})
	}
}

func TestValidate_DeliveryPipelineCatalog(t *testing.T) {
	files, err := LoadCatalogDir("../../workflows")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		_, err := Validate(f.Definition)
		assert.NoError(t, err, f.Path)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{
			name: "dangling transition",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"s","to":"e"},{"from":"s","to":"ghost","condition":"x"}]}`,
			code: CodeDanglingTransition,
		},
		{
			name: "no start event",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"a","type":"user_task"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"a","to":"e"}]}`,
			code: CodeStartEventCount,
		},
		{
			name: "two start events",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s1","type":"start_event"},{"key":"s2","type":"start_event"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"s1","to":"e"},{"from":"s2","to":"e"}]}`,
			code: CodeStartEventCount,
		},
		{
			name: "unreachable step",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"orphan","type":"user_task"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"s","to":"e"},{"from":"orphan","to":"e"}]}`,
			code: CodeUnreachableStep,
		},
		{
			name: "step without outgoing edge",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"stuck","type":"user_task"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"s","to":"stuck","condition":"a"},{"from":"s","to":"e"}]}`,
			code: CodeNoOutgoing,
		},
		{
			name: "gateway with two unconditional edges",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"g","type":"gateway"},
				{"key":"a","type":"end_event"},{"key":"b","type":"end_event"}],
				"transitions":[{"from":"s","to":"g"},{"from":"g","to":"a"},{"from":"g","to":"b"}]}`,
			code: CodeDefaultEdge,
		},
		{
			name: "default edge declared first",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"g","type":"gateway"},
				{"key":"a","type":"end_event"},{"key":"b","type":"end_event"}],
				"transitions":[{"from":"s","to":"g"},{"from":"g","to":"a"},{"from":"g","to":"b","condition":"x"}]}`,
			code: CodeDefaultEdge,
		},
		{
			name: "shadowed edge",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"g","type":"gateway"},
				{"key":"a","type":"end_event"},{"key":"b","type":"end_event"}],
				"transitions":[{"from":"s","to":"g"},{"from":"g","to":"a","condition":"x"},{"from":"g","to":"b","condition":"x"}]}`,
			code: CodeShadowedEdge,
		},
		{
			name: "condition on a lone edge",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"review","type":"user_task"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"s","to":"review"},{"from":"review","to":"e","condition":"approved"}]}`,
			code: CodeIgnoredCondition,
		},
		{
			name: "end event with outgoing edge",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"e","type":"end_event"},{"key":"e2","type":"end_event"}],
				"transitions":[{"from":"s","to":"e"},{"from":"e","to":"e2"}]}`,
			code: CodeEndHasOutgoing,
		},
		{
			name: "undeclared lane",
			raw: `{"key":"k","lanes":[{"key":"bd","name":"BD"}],"steps":[
				{"key":"s","lane":"bd","type":"start_event"},{"key":"e","lane":"qa","type":"end_event"}],
				"transitions":[{"from":"s","to":"e"}]}`,
			code: CodeUnknownLane,
		},
		{
			name: "service task without action",
			raw: `{"key":"k","lanes":[],"steps":[
				{"key":"s","type":"start_event"},{"key":"auto","type":"service_task"},{"key":"e","type":"end_event"}],
				"transitions":[{"from":"s","to":"auto"},{"from":"auto","to":"e"}]}`,
			code: CodeMissingAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verrs := validationErrors(t, mustLoad(t, tt.raw))
			assert.True(t, verrs.Has(tt.code), "expected %s in %v", tt.code, verrs)
		})
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	raw := `{"key":"k","lanes":[],"steps":[
		{"key":"s1","type":"start_event"},{"key":"s2","type":"start_event"},{"key":"e","type":"end_event"}],
		"transitions":[{"from":"s1","to":"e"},{"from":"s2","to":"missing"}]}`

	verrs := validationErrors(t, mustLoad(t, raw))
	assert.True(t, verrs.Has(CodeStartEventCount))
	assert.True(t, verrs.Has(CodeDanglingTransition))
	assert.Contains(t, verrs.Error(), "workflow: invalid definition")
}

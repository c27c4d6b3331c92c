package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const linearJSON = `{
	"key": "linear",
	"name": "Linear",
	"lanes": [{"key": "bd", "name": "Business Development"}],
	"steps": [
		{"key": "start", "lane": "bd", "type": "start_event", "title": "Start"},
		{"key": "review", "lane": "bd", "type": "user_task", "title": "Review", "estimatedDurationMinutes": 60},
		{"key": "end", "lane": "bd", "type": "end_event", "title": "End"}
	],
	"transitions": [
		{"from": "start", "to": "review"},
		{"from": "review", "to": "end"}
	]
}`

const gatewayJSON = `{
	"key": "qualify",
	"name": "Qualify",
	"lanes": [{"key": "bd", "name": "Business Development"}, {"key": "client", "name": "Client"}],
	"steps": [
		{"key": "start", "lane": "client", "type": "start_event", "title": "Start"},
		{"key": "decision", "lane": "bd", "type": "gateway", "title": "Decision"},
		{"key": "proposal_creation", "lane": "bd", "type": "user_task", "title": "Proposal"},
		{"key": "end", "lane": "bd", "type": "end_event", "title": "End"}
	],
	"transitions": [
		{"from": "start", "to": "decision"},
		{"from": "decision", "to": "proposal_creation", "condition": "approved"},
		{"from": "decision", "to": "end", "condition": "rejected"},
		{"from": "proposal_creation", "to": "end"}
	]
}`

func mustLoad(t *testing.T, raw string) *Definition {
	t.Helper()
	def, err := Load([]byte(raw))
	require.NoError(t, err)
	return def
}

func validationErrors(t *testing.T, def *Definition) ValidationErrors {
	t.Helper()
	_, err := Validate(def)
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.NotEmpty(t, verrs)
	return verrs
}

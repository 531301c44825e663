package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExport_Valid(t *testing.T) {
	doc, err := ParseExport([]byte(`{
		"type": "DJPromptsExport",
		"version": "2.2.0",
		"prompts": [{"id": "p1", "title": "One", "promptText": "text"}],
		"categories": [{"id": "c1", "name": "Mine"}],
		"responses": [{"id": "r1", "promptId": "p1", "responseText": "reply"}]
	}`))
	require.NoError(t, err)
	require.Len(t, doc.Prompts, 1)
	assert.Equal(t, "One", doc.Prompts[0].Title)
	require.Len(t, doc.Responses, 1)
	assert.Equal(t, "p1", doc.Responses[0].PromptID)
}

func TestParseExport_Structural(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"wrong type marker", `{"type": "SomethingElse", "prompts": []}`},
		{"missing type marker", `{"prompts": []}`},
		{"prompts not a list", `{"type": "DJPromptsExport", "prompts": {"id": "p1"}}`},
		{"prompts absent", `{"type": "DJPromptsExport"}`},
		{"prompt missing title", `{"type": "DJPromptsExport", "prompts": [{"id": "p1", "promptText": "t"}]}`},
		{"prompt missing text", `{"type": "DJPromptsExport", "prompts": [{"id": "p1", "title": "One"}]}`},
		{"category missing name", `{"type": "DJPromptsExport", "prompts": [], "categories": [{"id": "c1"}]}`},
		{"response missing promptId", `{"type": "DJPromptsExport", "prompts": [], "responses": [{"id": "r1", "responseText": "x"}]}`},
		{"response missing text", `{"type": "DJPromptsExport", "prompts": [], "responses": [{"id": "r1", "promptId": "p1"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseExport([]byte(tc.data))
			assert.ErrorIs(t, err, ErrStructural)
		})
	}
}

package testrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioarce01/prompt-version-hub/internal/models"
)

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"[1]":                    "[1]",
		"```json\n[1]\n```":      "[1]",
		"```\n[1]\n```":          "[1]",
		"  ```json\n[1, 2]```  ": "[1, 2]",
		"```json[1]```":          "[1]",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripFences(in), "input %q", in)
	}
}

func TestDecodeArray(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"strict", `[{"name": "a"}, {"name": "b"}]`, 2},
		{"fenced", "```json\n[{\"name\": \"a\"}]\n```", 1},
		{"trailing comma", `[{"name": "a",}, {"name": "b"},]`, 2},
		{"single quotes", `[{'name': 'a'}]`, 1},
		{"wrapped", `{"test_cases": [{"name": "a"}]}`, 1},
		{"hjson", "[\n  {\n    # a comment\n    name: a\n  }\n]", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodeArray(tt.raw)
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestDecodeArrayRejectsObjects(t *testing.T) {
	_, err := decodeArray(`{"a": 1, "b": 2}`)
	assert.ErrorIs(t, err, errNoArray)
}

func TestParseCases(t *testing.T) {
	raw := `[
	  {"name": "greets", "category": "happy_path", "input": {"name": "Ada"}, "expected_output": "Hello Ada"},
	  {"category": "edge_case", "inputs": {"name": ""}, "expected_behavior": "Hello"},
	  {"name": "bad category", "category": "smoke", "input": {}},
	  "not an object",
	  {"name": "plain", "input": "raw text"}
	]`

	drafts, err := parseCases(raw)
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.Equal(t, "greets", drafts[0].Name)
	assert.Equal(t, `{"name":"Ada"}`, drafts[0].InputText)
	require.NotNil(t, drafts[0].ExpectedOutput)
	assert.Equal(t, "Hello Ada", *drafts[0].ExpectedOutput)

	assert.Equal(t, defaultCaseName, drafts[1].Name)
	assert.Equal(t, models.CategoryEdgeCase, drafts[1].Category)
	assert.Equal(t, `{"name":""}`, drafts[1].InputText)
	require.NotNil(t, drafts[1].ExpectedOutput)
	assert.Equal(t, "Hello", *drafts[1].ExpectedOutput)

	assert.Equal(t, models.CategoryHappyPath, drafts[2].Category)
	assert.Equal(t, "raw text", drafts[2].InputText)
	assert.Nil(t, drafts[2].ExpectedOutput)
}

func TestInputVariables(t *testing.T) {
	assert.Equal(t, map[string]string{"name": "Ada", "n": "3", "tags": `["x"]`, "none": ""},
		inputVariables(`{"name": "Ada", "n": 3, "tags": ["x"], "none": null}`))
	assert.Equal(t, map[string]string{"input": "just text"}, inputVariables("just text"))
	assert.Equal(t, map[string]string{"input": "[1,2]"}, inputVariables("[1,2]"))
}

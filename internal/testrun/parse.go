package testrun

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lioarce01/prompt-version-hub/internal/models"
)

const defaultCaseName = "AI generated case"

var errNoArray = errors.New("response does not contain a JSON array")

// caseSchema describes one generated item. Either input key is accepted, as
// is either expectation key.
const caseSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": ["string", "null"]},
    "category": {"enum": ["happy_path", "edge_case", "boundary", "negative", null]},
    "input": {"type": ["object", "array", "string", "number", "boolean", "null"]},
    "inputs": {"type": ["object", "array", "string", "number", "boolean", "null"]},
    "expected_output": {"type": ["string", "null"]},
    "expected_behavior": {"type": ["string", "null"]}
  }
}`

var itemSchema = mustCompile(caseSchema)

func mustCompile(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("case.json", bytes.NewReader([]byte(src))); err != nil {
		panic(fmt.Sprintf("load case schema: %v", err))
	}
	schema, err := compiler.Compile("case.json")
	if err != nil {
		panic(fmt.Sprintf("compile case schema: %v", err))
	}
	return schema
}

// stripFences drops a surrounding ``` or ```json fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeArray tries strict JSON, then repaired JSON, then Hjson.
func decodeArray(raw string) ([]any, error) {
	text := stripFences(raw)

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		if items, ok := asArray(v); ok {
			return items, nil
		}
	}

	if repaired, err := jsonrepair.RepairJSON(text); err == nil {
		if err := json.Unmarshal([]byte(repaired), &v); err == nil {
			if items, ok := asArray(v); ok {
				return items, nil
			}
		}
	}

	var loose any
	if err := hjson.Unmarshal([]byte(text), &loose); err == nil {
		if items, ok := asArray(loose); ok {
			return items, nil
		}
	}
	return nil, errNoArray
}

// asArray accepts a bare array or an object wrapping exactly one array.
func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case map[string]any:
		if len(t) != 1 {
			return nil, false
		}
		for _, inner := range t {
			arr, ok := inner.([]any)
			return arr, ok
		}
	}
	return nil, false
}

type draftCase struct {
	Name           string
	InputText      string
	ExpectedOutput *string
	Category       models.TestCategory
}

// parseCases decodes a generator response into draft cases. Items that fail
// schema validation are skipped.
func parseCases(raw string) ([]draftCase, error) {
	items, err := decodeArray(raw)
	if err != nil {
		return nil, err
	}

	drafts := make([]draftCase, 0, len(items))
	for i, item := range items {
		d, err := toDraft(item)
		if err != nil {
			slog.Warn("skipping malformed generated test case", "index", i, "error", err)
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func toDraft(item any) (draftCase, error) {
	// round-trip so Hjson values validate the same as JSON ones
	b, err := json.Marshal(item)
	if err != nil {
		return draftCase{}, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return draftCase{}, err
	}
	if err := itemSchema.Validate(doc); err != nil {
		return draftCase{}, err
	}
	obj := doc.(map[string]any)

	d := draftCase{Name: defaultCaseName, Category: models.CategoryHappyPath}
	if name, _ := obj["name"].(string); strings.TrimSpace(name) != "" {
		d.Name = strings.TrimSpace(name)
	}
	if cat, _ := obj["category"].(string); cat != "" {
		d.Category = models.TestCategory(cat)
	}

	input := firstPresent(obj, "input", "inputs")
	switch v := input.(type) {
	case nil:
		d.InputText = "{}"
	case string:
		d.InputText = v
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return draftCase{}, err
		}
		d.InputText = string(enc)
	}

	if exp, _ := firstPresent(obj, "expected_output", "expected_behavior").(string); exp != "" {
		d.ExpectedOutput = &exp
	}
	return d, nil
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// inputVariables parses a stored input as a variable map; anything that is
// not a JSON object becomes {"input": text}.
func inputVariables(inputText string) map[string]string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(inputText), &obj); err != nil || obj == nil {
		return map[string]string{"input": inputText}
	}
	vars := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			vars[k] = t
		case nil:
			vars[k] = ""
		default:
			enc, _ := json.Marshal(t)
			vars[k] = string(enc)
		}
	}
	return vars
}

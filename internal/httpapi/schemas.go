package httpapi

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies are validated against compiled JSON Schemas before any
// handler logic runs, so malformed tool calls fail with a 422 that names
// the offending field instead of a half-applied write.

const createRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind", "title"],
  "properties": {
    "kind": {"type": "string", "enum": ["email_send", "linkedin_post"]},
    "title": {"type": "string", "minLength": 1},
    "to": {"type": "string"},
    "cc": {"type": "string"},
    "body": {"type": "string"},
    "source": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "email_send"}}},
      "then": {
        "required": ["to", "body"],
        "properties": {
          "to": {"minLength": 1},
          "body": {"minLength": 1}
        }
      }
    }
  ],
  "additionalProperties": false
}`

const createDraftSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["to", "subject"],
  "properties": {
    "to": {"type": "string", "minLength": 1},
    "subject": {"type": "string", "minLength": 1},
    "body": {"type": "string"}
  },
  "additionalProperties": false
}`

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

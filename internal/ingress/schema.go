package ingress

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// webhookSchema constrains the normalized webhook body. Vendor-specific
// envelopes are the adapters' concern; ingress only sees this shape.
var webhookSchema = map[string]interface{}{
	"type":                 "object",
	"required":             []string{"ticket_id", "description", "priority", "created_at"},
	"additionalProperties": true,
	"properties": map[string]interface{}{
		"ticket_id": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
			"maxLength": 128,
		},
		"description": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
			"maxLength": 10000,
		},
		"priority": map[string]interface{}{
			"type": "string",
			"enum": []string{"low", "medium", "high", "urgent"},
		},
		"created_at": map[string]interface{}{
			"type":   "string",
			"format": "date-time",
		},
	},
}

var schemaLoader = gojsonschema.NewGoLoader(webhookSchema)

// validatePayload runs the body through the JSON schema and returns a
// field-keyed error map on failure.
func validatePayload(body []byte) (map[string]interface{}, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	fields := make(map[string]interface{}, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" {
			if prop, ok := desc.Details()["property"].(string); ok {
				field = prop
			}
		}
		fields[field] = desc.Description()
	}
	return fields, nil
}

// fieldList renders validation failures for logs.
func fieldList(fields map[string]interface{}) string {
	parts := make([]string, 0, len(fields))
	for k := range fields {
		parts = append(parts, k)
	}
	return strings.Join(parts, ",")
}

package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

// paramSchemas validates every method's params before its handler runs.
// Methods absent from the map take no params.
var paramSchemas = map[string]*jsonschema.Schema{
	"sessions.create": mustSchema(`{
		"type": "object",
		"properties": {"agentId": {"type": "string"}},
		"additionalProperties": false
	}`),
	"sessions.get": mustSchema(`{
		"type": "object",
		"properties": {"sessionKey": {"type": "string", "pattern": "` + uuidPattern + `"}},
		"required": ["sessionKey"],
		"additionalProperties": false
	}`),
	"chat.send": mustSchema(`{
		"type": "object",
		"properties": {
			"sessionKey": {"type": "string", "pattern": "` + uuidPattern + `"},
			"message": {"type": "string", "minLength": 1, "maxLength": 32000}
		},
		"required": ["sessionKey", "message"],
		"additionalProperties": false
	}`),
	"chat.history": mustSchema(`{
		"type": "object",
		"properties": {
			"sessionKey": {"type": "string", "pattern": "` + uuidPattern + `"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 500}
		},
		"required": ["sessionKey"],
		"additionalProperties": false
	}`),
	"chat.abort": mustSchema(`{
		"type": "object",
		"properties": {"runId": {"type": "string", "pattern": "` + uuidPattern + `"}},
		"required": ["runId"],
		"additionalProperties": false
	}`),
	"exec.approve": mustSchema(`{
		"type": "object",
		"properties": {"approvalId": {"type": "string", "pattern": "` + uuidPattern + `"}},
		"required": ["approvalId"],
		"additionalProperties": false
	}`),
	"exec.deny": mustSchema(`{
		"type": "object",
		"properties": {
			"approvalId": {"type": "string", "pattern": "` + uuidPattern + `"},
			"reason": {"type": "string"}
		},
		"required": ["approvalId"],
		"additionalProperties": false
	}`),
	"memory.search": mustSchema(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"k": {"type": "integer", "minimum": 1, "maximum": 50}
		},
		"required": ["query"],
		"additionalProperties": false
	}`),
	"scheduler.list": mustSchema(`{
		"type": "object",
		"properties": {"enabledOnly": {"type": "boolean"}},
		"additionalProperties": false
	}`),
	"scheduler.get": mustSchema(`{
		"type": "object",
		"properties": {"id": {"type": "string", "pattern": "` + uuidPattern + `"}},
		"required": ["id"],
		"additionalProperties": false
	}`),
	"scheduler.runs": mustSchema(`{
		"type": "object",
		"properties": {
			"jobId": {"type": "string", "pattern": "` + uuidPattern + `"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["jobId"],
		"additionalProperties": false
	}`),
}

func mustSchema(schema string) *jsonschema.Schema {
	return jsonschema.MustCompileString("params.schema.json", schema)
}

// validateParams rejects params that do not fit the method's declared
// schema; the error names the offending field.
func validateParams(method string, params json.RawMessage) error {
	schema, ok := paramSchemas[method]
	if !ok {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid params: %v", err)
	}
	return nil
}

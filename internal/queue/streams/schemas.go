package streams

import (
	"encoding/json"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

const deliverySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["message_id", "destination", "body", "retries"],
  "properties": {
    "message_id": {"type": "string", "minLength": 1},
    "destination": {"type": "string", "pattern": "^https?://"},
    "body": {"type": "string"},
    "retries": {"type": "integer", "minimum": 0},
    "schedule_id": {"type": "string"}
  },
  "additionalProperties": false
}`

type schemaKey struct {
	event   string
	version string
}

// PayloadSchemas checks envelope data against the schema of its event type
// and payload version. It is immutable once compiled.
type PayloadSchemas struct {
	compiled map[schemaKey]*jsonschema.Schema
}

// CompileSchemas compiles the schemas of every event the relay carries.
func CompileSchemas() (*PayloadSchemas, error) {
	return compileSchemas(map[schemaKey]string{
		{EventDeliveryRequested, PayloadV1}: deliverySchema,
	})
}

func compileSchemas(sources map[schemaKey]string) (*PayloadSchemas, error) {
	compiler := jsonschema.NewCompiler()
	s := &PayloadSchemas{compiled: make(map[schemaKey]*jsonschema.Schema, len(sources))}
	for key, src := range sources {
		name := key.event + "." + key.version + ".json"
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, errors.Wrapf(err, "add schema %s", name)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "compile schema %s", name)
		}
		s.compiled[key] = schema
	}
	return s, nil
}

// Check validates env.Data. Every failure is an invalid request.
func (s *PayloadSchemas) Check(env Envelope) error {
	schema, ok := s.compiled[schemaKey{env.EventType, env.PayloadVersion}]
	if !ok {
		return errors.Invalid("no schema for event %q version %q", env.EventType, env.PayloadVersion)
	}
	var doc interface{}
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return errors.Mark(errors.Wrap(err, "decode payload"), errors.ErrInvalidRequest)
	}
	if err := schema.Validate(doc); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s payload", env.EventType), errors.ErrInvalidRequest)
	}
	return nil
}

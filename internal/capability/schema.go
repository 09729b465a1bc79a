package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// openObjectSchema is declared for entries without an explicit schema.
var openObjectSchema = json.RawMessage(`{"type":"object"}`)

// ValidationError reports arguments that violate the declared input schema.
type ValidationError struct {
	Action   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Action, strings.Join(e.Problems, "; "))
}

// ReflectSchema builds an inline JSON schema for the argument struct T.
// Field tags follow invopop/jsonschema conventions:
// `jsonschema:"enum=a,enum=b,default=x"` and `jsonschema_description:"..."`.
// Fields without `omitempty` are required.
func ReflectSchema(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	if s.Type == "" {
		s.Type = "object"
	}
	return s
}

// compile renders the declaration and prepares the validator for an entry.
func compile(e Entry) (*compiled, error) {
	c := &compiled{
		entry: e,
		decl: Declaration{
			Name:        e.Name,
			Description: e.Description,
			InputSchema: openObjectSchema,
		},
	}
	if e.InputSchema == nil {
		return c, nil
	}

	raw, err := marshalSchema(e.InputSchema)
	if err != nil {
		return nil, err
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	c.decl.InputSchema = raw
	c.validator = validator
	return c, nil
}

// marshalSchema encodes the schema without the meta keywords the oracle
// and the validator do not need.
func marshalSchema(s *jsonschema.Schema) (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return json.Marshal(m)
}

// validate checks args against the compiled schema, if any.
func (c *compiled) validate(args json.RawMessage) error {
	if c.validator == nil {
		return nil
	}
	res, err := c.validator.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &ValidationError{Action: c.entry.Name, Problems: []string{err.Error()}}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		problems = append(problems, re.String())
	}
	return &ValidationError{Action: c.entry.Name, Problems: problems}
}

package orders

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://schemas.ordersync.dev/order.json"

//go:embed order.schema.json
var defaultSchema []byte

var ErrInvalidOrder = errors.New("invalid order")

// Validator checks order nodes against a JSON schema. The schema can be
// swapped at runtime; Validate always sees a complete schema.
type Validator struct {
	schema atomic.Pointer[jsonschema.Schema]
}

func NewValidator() (*Validator, error) {
	schema, err := compileSchema(defaultSchema)
	if err != nil {
		return nil, fmt.Errorf("compile embedded order schema: %w", err)
	}
	v := &Validator{}
	v.schema.Store(schema)
	return v, nil
}

// NewValidatorFromFile loads the schema at path, or the embedded schema when
// path is empty.
func NewValidatorFromFile(path string) (*Validator, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return v, nil
	}
	if err := v.Reload(path); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload replaces the schema with the one at path. On error the current
// schema stays in place.
func (v *Validator) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	schema, err := compileSchema(data)
	if err != nil {
		return fmt.Errorf("compile order schema %s: %w", path, err)
	}
	v.schema.Store(schema)
	return nil
}

// Validate reports ErrInvalidOrder when o does not decode into an order or
// fails the schema.
func (v *Validator) Validate(o UpstreamOrder) error {
	raw := o.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		raw = encoded
	} else {
		var decoded UpstreamOrder
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if err := v.schema.Load().Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOrder, describeOrder(o), err)
	}
	return nil
}

func describeOrder(o UpstreamOrder) string {
	if o.ID == "" {
		return "order without id"
	}
	return "order " + o.ID
}

func compileSchema(data []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
}

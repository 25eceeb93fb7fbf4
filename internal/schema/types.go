// Package schema recovers and validates the JSON document the extraction
// model is asked to produce.
package schema

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Result is the fixed extraction schema. Field order here is the key order
// of the canonical output.
type Result struct {
	Product       Product       `json:"product"`
	Delivery      Delivery      `json:"delivery"`
	PaymentTerms  *string       `json:"payment_terms,omitempty"`
	Restrictions  Restrictions  `json:"restrictions"`
	Evidence      []Evidence    `json:"evidence"`
	Uncertainties []Uncertainty `json:"uncertainties"`
}

type Product struct {
	Name      *string `json:"name,omitempty"`
	Qty       *int64  `json:"qty,omitempty"`
	Condition *string `json:"condition,omitempty" jsonschema:"enum=new,enum=used"`
}

type Delivery struct {
	Address  *string `json:"address,omitempty"`
	Deadline *string `json:"deadline,omitempty" jsonschema:"description=Date as YYYY-MM-DD or a free-form interval"`
}

type Restrictions struct {
	Flag *bool `json:"flag,omitempty"`
}

type Evidence struct {
	Field *string `json:"field,omitempty"`
	Quote *string `json:"quote,omitempty"`
	Where *string `json:"where,omitempty"`
}

type Uncertainty struct {
	Field  *string `json:"field,omitempty"`
	Reason *string `json:"reason,omitempty"`
	Hint   *string `json:"hint,omitempty"`
}

// Conditions lists the allowed values of product.condition.
var Conditions = []string{"new", "used"}

// Issue is one field-level validation failure. Path uses dotted keys and
// bracketed indexes ("evidence[1].quote"); "$" denotes the whole document.
type Issue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	return i.Path + ": " + i.Reason
}

// ValidationError reports why a model answer could not be turned into a
// Result.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// JSONSchema returns the JSON Schema of Result, suitable for a structured
// output request.
func JSONSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&Result{})
}

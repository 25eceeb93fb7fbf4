package schema

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strings"
)

// validator accumulates issues while walking a decoded document.
type validator struct {
	issues []Issue
}

func (v *validator) fail(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Reason: fmt.Sprintf(format, args...)})
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// object returns the nested object at key. Absent or null values are an
// issue only when required.
func (v *validator) object(m map[string]any, key, parent string, required bool) (map[string]any, bool) {
	path := join(parent, key)
	raw, ok := m[key]
	if !ok || raw == nil {
		if required {
			v.fail(path, "required")
		}
		return nil, false
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		v.fail(path, "expected object, got %s", kind(raw))
		return nil, false
	}
	return obj, true
}

func (v *validator) str(m map[string]any, key, parent string) *string {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(join(parent, key), "expected string, got %s", kind(raw))
		return nil
	}
	return &s
}

func (v *validator) enum(m map[string]any, key, parent string, allowed []string) *string {
	s := v.str(m, key, parent)
	if s == nil {
		return nil
	}
	if !slices.Contains(allowed, *s) {
		v.fail(join(parent, key), "must be one of %s, got %q", strings.Join(allowed, ", "), *s)
		return nil
	}
	return s
}

func (v *validator) boolean(m map[string]any, key, parent string) *bool {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil
	}
	b, ok := raw.(bool)
	if !ok {
		v.fail(join(parent, key), "expected boolean, got %s", kind(raw))
		return nil
	}
	return &b
}

// integer accepts JSON numbers with an integral value that fits in int64,
// so 3 and 3.0 are valid while 3.5 and "3" are not.
func (v *validator) integer(m map[string]any, key, parent string) *int64 {
	path := join(parent, key)
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil
	}
	n, ok := raw.(json.Number)
	if !ok {
		v.fail(path, "expected integer, got %s", kind(raw))
		return nil
	}
	if i, err := n.Int64(); err == nil {
		return &i
	}
	r, ok := new(big.Rat).SetString(n.String())
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		v.fail(path, "expected integer, got %s", n.String())
		return nil
	}
	i := r.Num().Int64()
	return &i
}

// list walks a required array of objects, calling each for every element.
func (v *validator) list(m map[string]any, key string, each func(obj map[string]any, path string)) {
	raw, ok := m[key]
	if !ok || raw == nil {
		v.fail(key, "required")
		return
	}
	arr, ok := raw.([]any)
	if !ok {
		v.fail(key, "expected array, got %s", kind(raw))
		return
	}
	for i, el := range arr {
		path := fmt.Sprintf("%s[%d]", key, i)
		obj, ok := el.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got %s", kind(el))
			continue
		}
		each(obj, path)
	}
}

// decodeResult validates a decoded document against Result. Unknown keys are
// ignored at every level.
func decodeResult(root map[string]any) (Result, []Issue) {
	v := &validator{}
	res := Result{
		Evidence:      []Evidence{},
		Uncertainties: []Uncertainty{},
	}

	if p, ok := v.object(root, "product", "", true); ok {
		res.Product = Product{
			Name:      v.str(p, "name", "product"),
			Qty:       v.integer(p, "qty", "product"),
			Condition: v.enum(p, "condition", "product", Conditions),
		}
	}
	if d, ok := v.object(root, "delivery", "", true); ok {
		res.Delivery = Delivery{
			Address:  v.str(d, "address", "delivery"),
			Deadline: v.str(d, "deadline", "delivery"),
		}
	}
	res.PaymentTerms = v.str(root, "payment_terms", "")
	if r, ok := v.object(root, "restrictions", "", true); ok {
		res.Restrictions = Restrictions{Flag: v.boolean(r, "flag", "restrictions")}
	}

	v.list(root, "evidence", func(obj map[string]any, path string) {
		res.Evidence = append(res.Evidence, Evidence{
			Field: v.str(obj, "field", path),
			Quote: v.str(obj, "quote", path),
			Where: v.str(obj, "where", path),
		})
	})
	v.list(root, "uncertainties", func(obj map[string]any, path string) {
		res.Uncertainties = append(res.Uncertainties, Uncertainty{
			Field:  v.str(obj, "field", path),
			Reason: v.str(obj, "reason", path),
			Hint:   v.str(obj, "hint", path),
		})
	})

	return res, v.issues
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const minimal = `{"product":{},"delivery":{},"restrictions":{},"evidence":[],"uncertainties":[]}`

const full = `{
  "uncertainties": [{"field": "delivery.deadline", "reason": "two dates", "hint": "check annex"}],
  "extra": "ignored",
  "evidence": [{"field": "product.qty", "quote": "3 units <boxed>", "where": "p.2"}],
  "restrictions": {"flag": true},
  "payment_terms": "net 30",
  "delivery": {"address": "Main St 1", "deadline": "2025-01-31"},
  "product": {"name": "Pump", "qty": 3, "condition": "new", "color": "red"}
}`

func TestRecover_Minimal(t *testing.T) {
	got, err := Recover(minimal)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got != minimal {
		t.Errorf("got %s, want %s", got, minimal)
	}
}

func TestRecover_CanonicalOrder(t *testing.T) {
	got, err := Recover(full)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	want := `{"product":{"name":"Pump","qty":3,"condition":"new"},` +
		`"delivery":{"address":"Main St 1","deadline":"2025-01-31"},` +
		`"payment_terms":"net 30","restrictions":{"flag":true},` +
		`"evidence":[{"field":"product.qty","quote":"3 units <boxed>","where":"p.2"}],` +
		`"uncertainties":[{"field":"delivery.deadline","reason":"two dates","hint":"check annex"}]}`
	if got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestRecover_Idempotent(t *testing.T) {
	first, err := Recover(full)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	second, err := Recover(first)
	if err != nil {
		t.Fatalf("Recover(canonical): %v", err)
	}
	if first != second {
		t.Errorf("canonical output changed:\n%s\n%s", first, second)
	}
	if strings.Contains(first, "null") {
		t.Errorf("canonical output contains null: %s", first)
	}
}

func TestRecover_Fenced(t *testing.T) {
	direct, err := Recover(full)
	if err != nil {
		t.Fatal(err)
	}
	for _, raw := range []string{
		"```json\n" + full + "\n```",
		"```\n" + full + "\n```",
		"  ```JSON\r\n" + full + "```  \n",
	} {
		got, err := Recover(raw)
		if err != nil {
			t.Errorf("Recover(fenced): %v", err)
			continue
		}
		if got != direct {
			t.Errorf("fenced result differs:\n%s\n%s", got, direct)
		}
	}
}

func TestRecover_SurroundingProse(t *testing.T) {
	raw := `noise before {"product":{},"delivery":{},"restrictions":{},"evidence":[],"uncertainties":[]} noise after`
	got, err := Recover(raw)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(m) != 5 {
		t.Errorf("keys = %v, want exactly 5", m)
	}
	for _, k := range []string{"product", "delivery", "restrictions", "evidence", "uncertainties"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q", k)
		}
	}
}

func TestRecover_NullOptionalsOmitted(t *testing.T) {
	raw := `{"product":{"name":null,"qty":null},"delivery":{"address":null},"payment_terms":null,` +
		`"restrictions":{"flag":null},"evidence":[{"quote":null}],"uncertainties":[]}`
	got, err := Recover(raw)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	want := `{"product":{},"delivery":{},"restrictions":{},"evidence":[{}],"uncertainties":[]}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRecover_Condition(t *testing.T) {
	tests := []struct {
		condition string
		wantErr   bool
	}{
		{`"new"`, false},
		{`"used"`, false},
		{`"broken"`, true},
		{`"New"`, true},
		{`1`, true},
	}
	for _, tt := range tests {
		raw := `{"product":{"condition":` + tt.condition + `},"delivery":{},"restrictions":{},"evidence":[],"uncertainties":[]}`
		_, err := Recover(raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("condition %s: err = %v, wantErr %v", tt.condition, err, tt.wantErr)
		}
		if err != nil {
			assertIssue(t, err, "product.condition")
		}
	}
}

func TestRecover_Qty(t *testing.T) {
	tests := []struct {
		qty     string
		want    string
		wantErr bool
	}{
		{`3`, `"qty":3`, false},
		{`3.0`, `"qty":3`, false},
		{`1e2`, `"qty":100`, false},
		{`3.5`, "", true},
		{`"3"`, "", true},
		{`true`, "", true},
	}
	for _, tt := range tests {
		raw := `{"product":{"qty":` + tt.qty + `},"delivery":{},"restrictions":{},"evidence":[],"uncertainties":[]}`
		got, err := Recover(raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("qty %s: err = %v, wantErr %v", tt.qty, err, tt.wantErr)
			continue
		}
		if err != nil {
			assertIssue(t, err, "product.qty")
			continue
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("qty %s: got %s, want it to contain %s", tt.qty, got, tt.want)
		}
	}
}

func TestRecover_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		path string
	}{
		{"no object", "I could not find anything.", "$"},
		{"unterminated", `here: {"product": {"name": "x"`, "$"},
		{"not an object", `[1, 2, 3]`, "$"},
		{"broken balanced", `text {"product": } more`, "$"},
		{"missing product", `{"delivery":{},"restrictions":{},"evidence":[],"uncertainties":[]}`, "product"},
		{"evidence not array", `{"product":{},"delivery":{},"restrictions":{},"evidence":{},"uncertainties":[]}`, "evidence"},
		{"evidence element", `{"product":{},"delivery":{},"restrictions":{},"evidence":["x"],"uncertainties":[]}`, "evidence[0]"},
		{"nested leaf", `{"product":{},"delivery":{},"restrictions":{},"evidence":[{"quote":5}],"uncertainties":[]}`, "evidence[0].quote"},
		{"flag type", `{"product":{},"delivery":{},"restrictions":{"flag":"yes"},"evidence":[],"uncertainties":[]}`, "restrictions.flag"},
		{"payment type", `{"product":{},"delivery":{},"payment_terms":30,"restrictions":{},"evidence":[],"uncertainties":[]}`, "payment_terms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Recover(tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			assertIssue(t, err, tt.path)
		})
	}
}

func TestRecover_CollectsAllIssues(t *testing.T) {
	_, err := Recover(`{"product":{"condition":"broken","qty":"x"},"restrictions":{}}`)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(ve.Issues) != 5 {
		t.Errorf("issues = %v, want 5", ve.Issues)
	}
}

func TestRecover_Deterministic(t *testing.T) {
	for range 20 {
		got, err := Recover(full)
		if err != nil {
			t.Fatal(err)
		}
		again, _ := Recover(full)
		if got != again {
			t.Fatal("output is not deterministic")
		}
	}
}

func TestFirstObject(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`a {"x":{"y":1}} b {"z":2}`, `{"x":{"y":1}}`, false},
		{`{"s":"has } brace"}`, `{"s":"has } brace"}`, false},
		{`{"s":"quote \" and { brace"} tail`, `{"s":"quote \" and { brace"}`, false},
		{`{"s":"backslash \\"} tail`, `{"s":"backslash \\"}`, false},
		{`no braces`, "", true},
		{`{"open": {`, "", true},
		{`{"s": "unterminated string }`, "", true},
	}
	for _, tt := range tests {
		got, err := FirstObject(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("FirstObject(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("FirstObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripFence(t *testing.T) {
	tests := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n{}\n```":     "{}",
		"  {}  ":           "{}",
		"text ```{}```":    "text ```{}```",
	}
	for in, want := range tests {
		if got := StripFence(in); got != want {
			t.Errorf("StripFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJSONSchema(t *testing.T) {
	s := JSONSchema()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{`"product"`, `"uncertainties"`, `"new"`, `"used"`} {
		if !strings.Contains(out, want) {
			t.Errorf("schema missing %s: %s", want, out)
		}
	}
}

func assertIssue(t *testing.T, err error, path string) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	for _, is := range ve.Issues {
		if is.Path == path {
			return
		}
	}
	t.Errorf("issues %v do not include path %q", ve.Issues, path)
}

package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)^\\s*```[A-Za-z0-9_+.-]*[ \\t]*\\r?\\n?(.*?)\\s*```\\s*$")

var errNoObject = errors.New("no JSON object found")

// Recover turns a raw model answer into canonical JSON conforming to Result.
// It strips a surrounding code fence, parses the text as an object, falls
// back to the first balanced {...} substring, validates every known field
// and re-serializes. Any failure is a *ValidationError.
func Recover(raw string) (string, error) {
	res, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Canonical(res)
}

// Parse is Recover without the final serialization.
func Parse(raw string) (Result, error) {
	text := StripFence(raw)

	obj, err := decodeObject(text)
	if err != nil {
		sub, scanErr := FirstObject(text)
		if scanErr != nil {
			return Result{}, &ValidationError{Issues: []Issue{{Path: "$", Reason: scanErr.Error()}}}
		}
		obj, err = decodeObject(sub)
		if err != nil {
			return Result{}, &ValidationError{Issues: []Issue{{Path: "$", Reason: "invalid JSON: " + err.Error()}}}
		}
	}

	res, issues := decodeResult(obj)
	if len(issues) > 0 {
		return Result{}, &ValidationError{Issues: issues}
	}
	return res, nil
}

// StripFence returns the interior of a fenced code block, optionally tagged
// with a language, or the trimmed input when it is not fenced.
func StripFence(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// FirstObject returns the first balanced top-level {...} substring of s.
// Braces inside string literals, including escaped quotes, are ignored.
func FirstObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated JSON object")
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", kind(v))
	}
	return obj, nil
}

// Canonical serializes r in schema field order with absent fields omitted
// and without HTML escaping.
func Canonical(r Result) (string, error) {
	if r.Evidence == nil {
		r.Evidence = []Evidence{}
	}
	if r.Uncertainties == nil {
		r.Uncertainties = []Uncertainty{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

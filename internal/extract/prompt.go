package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	DefaultModel       = "gpt-4.1-mini"
	DefaultInstruction = "Extract the data strictly following the instructions. Respond with JSON only."
)

// DefaultSystemPrompt describes the result schema to the model. It is used
// when no prompt file is configured.
const DefaultSystemPrompt = `You are an extractor. Read the attached documents with file_search and return strictly one JSON object with this shape:

{
  "product": {"name": string, "qty": integer, "condition": "new" | "used"},
  "delivery": {"address": string, "deadline": "YYYY-MM-DD or an interval as text"},
  "payment_terms": string,
  "restrictions": {"flag": boolean},
  "evidence": [{"field": string, "quote": string, "where": string}],
  "uncertainties": [{"field": string, "reason": string, "hint": string}]
}

Omit any leaf you cannot find instead of guessing. product, delivery, restrictions, evidence and uncertainties must always be present.
For every value you fill in, add an evidence item quoting the source. Record ambiguities in uncertainties.
No text outside the JSON object.`

const probeInstructions = `You are a JSON-only extractor. Use file_search over the attached vector store. ` +
	`Return JSON: {"files":[{"name":"<file or source if available>","snippet":"<<=120 chars snippet>"}...]}. ` +
	`If names are unavailable, set name to "unknown". NO extra text outside JSON.`

const probeInput = "List files you can see with a short snippet."

// LoadSystemPrompt reads the prompt file at path. An empty path or a missing
// file yields DefaultSystemPrompt.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSystemPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading system prompt %s: %w", path, err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return DefaultSystemPrompt, nil
	}
	return prompt, nil
}

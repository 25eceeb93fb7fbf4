package extract

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/vsextract/internal/openai"
)

// fakeResponder records the payload and returns a canned envelope.
type fakeResponder struct {
	reply   string
	err     error
	payload []byte
}

func (f *fakeResponder) CreateResponse(ctx context.Context, payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	f.payload = b
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.reply), nil
}

func TestExtract_RequestShape(t *testing.T) {
	f := &fakeResponder{reply: `{"id":"resp_1","model":"gpt-4.1-mini","output_text":"{}","usage":{"input_tokens":10,"output_tokens":2,"total_tokens":12}}`}
	c := NewClient(f)

	ans, err := c.Extract(context.Background(), "vs_1", "find the pump", "gpt-4.1-mini", "be strict")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ans.Text != "{}" || ans.ResponseID != "resp_1" || ans.Usage.TotalTokens != 12 {
		t.Errorf("Answer = %+v", ans)
	}

	var body map[string]any
	if err := json.Unmarshal(f.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["model"] != "gpt-4.1-mini" || body["instructions"] != "be strict" {
		t.Errorf("body = %v", body)
	}
	tools := body["tools"].([]any)
	tool := tools[0].(map[string]any)
	if tool["type"] != "file_search" {
		t.Errorf("tool = %v", tool)
	}
	ids := tool["vector_store_ids"].([]any)
	if len(ids) != 1 || ids[0] != "vs_1" {
		t.Errorf("vector_store_ids = %v", ids)
	}
	input := body["input"].([]any)[0].(map[string]any)
	content := input["content"].([]any)[0].(map[string]any)
	if input["role"] != "user" || content["type"] != "input_text" || content["text"] != "find the pump" {
		t.Errorf("input = %v", input)
	}
	if _, ok := body["text"]; ok {
		t.Error("text format must be absent without structured output")
	}
}

func TestExtract_Defaults(t *testing.T) {
	f := &fakeResponder{reply: `{"output_text":"ok"}`}
	if _, err := NewClient(f).Extract(context.Background(), "vs_1", "", "", ""); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	payload := string(f.payload)
	if !strings.Contains(payload, DefaultModel) {
		t.Errorf("payload missing default model: %s", payload)
	}
	if !strings.Contains(payload, "Respond with JSON only") {
		t.Errorf("payload missing default instruction: %s", payload)
	}
}

func TestExtract_StructuredOutput(t *testing.T) {
	f := &fakeResponder{reply: `{"output_text":"{}"}`}
	c := NewClient(f)
	c.StructuredOutput = true
	if _, err := c.Extract(context.Background(), "vs_1", "x", "m", "p"); err != nil {
		t.Fatal(err)
	}

	var body struct {
		Text struct {
			Format struct {
				Type   string          `json:"type"`
				Name   string          `json:"name"`
				Schema json.RawMessage `json:"schema"`
			} `json:"format"`
		} `json:"text"`
	}
	if err := json.Unmarshal(f.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.Text.Format.Type != "json_schema" || !strings.Contains(string(body.Text.Format.Schema), "uncertainties") {
		t.Errorf("text format = %+v", body.Text.Format)
	}
}

func TestExtract_TextLookupOrder(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"output_text", `{"output_text":" top ","output":[{"content":[{"type":"output_text","text":"nested"}]}]}`, "top"},
		{"empty output_text falls through", `{"output_text":"","output":[{"content":[{"type":"output_text","text":"nested"}]}]}`, "nested"},
		{"nested joined", `{"output":[{"type":"file_search_call"},{"type":"message","content":[{"type":"output_text","text":"a"},{"type":"refusal","text":"no"},{"type":"output_text","text":"b"}]}]}`, "a\nb"},
		{"legacy message", `{"output":[],"message":"legacy"}`, "legacy"},
		{"non-string output_text", `{"output_text":{"x":1},"message":"legacy"}`, "legacy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, err := NewClient(&fakeResponder{reply: tt.reply}).Extract(context.Background(), "vs", "i", "m", "p")
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if ans.Text != tt.want {
				t.Errorf("Text = %q, want %q", ans.Text, tt.want)
			}
		})
	}
}

func TestExtract_EmptyResponse(t *testing.T) {
	for _, reply := range []string{`{}`, `{"output_text":"   ","output":[{"content":[]}],"message":""}`} {
		_, err := NewClient(&fakeResponder{reply: reply}).Extract(context.Background(), "vs", "i", "m", "p")
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("reply %s: error = %v, want ErrEmptyResponse", reply, err)
		}
	}
}

func TestExtract_RemoteErrorPassesThrough(t *testing.T) {
	remote := &openai.RemoteError{Op: "create response", StatusCode: 500, Message: "boom"}
	_, err := NewClient(&fakeResponder{err: remote}).Extract(context.Background(), "vs", "i", "m", "p")
	var re *openai.RemoteError
	if !errors.As(err, &re) || re.StatusCode != 500 {
		t.Errorf("error = %v, want *openai.RemoteError", err)
	}
}

func TestExtract_RequiresStoreID(t *testing.T) {
	f := &fakeResponder{reply: `{"output_text":"x"}`}
	if _, err := NewClient(f).Extract(context.Background(), " ", "i", "m", "p"); err == nil {
		t.Fatal("expected error for blank store id")
	}
	if f.payload != nil {
		t.Error("request was sent for blank store id")
	}
}

func TestProbeFiles(t *testing.T) {
	f := &fakeResponder{reply: `{"output_text":"` + "```json\\n" + `{\"files\":[{\"name\":\"a.pdf\",\"snippet\":\"Pump x3\"}]}` + "\\n```" + `"}`}
	p, err := NewClient(f).ProbeFiles(context.Background(), "vs_1", "")
	if err != nil {
		t.Fatalf("ProbeFiles: %v", err)
	}
	if len(p.Files) != 1 || p.Files[0].Name != "a.pdf" {
		t.Errorf("Probe = %+v", p)
	}
	if !strings.Contains(string(f.payload), "List files you can see") {
		t.Errorf("payload = %s", f.payload)
	}
}

func TestProbeFiles_NotJSON(t *testing.T) {
	f := &fakeResponder{reply: `{"output_text":"I see two files"}`}
	p, err := NewClient(f).ProbeFiles(context.Background(), "vs_1", "m")
	if err == nil {
		t.Fatal("expected error for non-JSON probe answer")
	}
	if p.Raw != "I see two files" {
		t.Errorf("Raw = %q", p.Raw)
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadSystemPrompt("")
	if err != nil || got != DefaultSystemPrompt {
		t.Errorf("empty path: %q, %v", got, err)
	}
	got, err = LoadSystemPrompt(filepath.Join(dir, "missing.prompt"))
	if err != nil || got != DefaultSystemPrompt {
		t.Errorf("missing file: %q, %v", got, err)
	}

	path := filepath.Join(dir, "system.prompt")
	if err := os.WriteFile(path, []byte("\ncustom prompt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadSystemPrompt(path)
	if err != nil || got != "custom prompt" {
		t.Errorf("file: %q, %v", got, err)
	}

	if _, err := LoadSystemPrompt(dir); err == nil {
		t.Error("expected error reading a directory")
	}
}

// Package extract runs a retrieval-augmented Responses API call against a
// single vector store and returns the model's raw answer.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/vsextract/internal/schema"
)

// ErrEmptyResponse is returned when the response envelope carries no text.
var ErrEmptyResponse = errors.New("extract: response contained no text")

// Responder posts a Responses API payload. *openai.Client satisfies it.
type Responder interface {
	CreateResponse(ctx context.Context, payload any) (json.RawMessage, error)
}

// Usage is the token accounting reported by the API.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Answer is the raw model output plus response metadata.
type Answer struct {
	Text       string
	ResponseID string
	Model      string
	Usage      Usage
}

// Client issues extraction requests.
type Client struct {
	api Responder

	// StructuredOutput requests a json_schema text format derived from
	// schema.Result instead of relying on the prompt alone.
	StructuredOutput bool
}

// NewClient creates an extraction client over api.
func NewClient(api Responder) *Client {
	return &Client{api: api}
}

type inputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputMessage struct {
	Role    string      `json:"role"`
	Content []inputText `json:"content"`
}

type fileSearchTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids"`
}

type textFormat struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Schema any    `json:"schema"`
	Strict bool   `json:"strict"`
}

type responsesRequest struct {
	Model        string           `json:"model"`
	Instructions string           `json:"instructions"`
	Input        []inputMessage   `json:"input"`
	Tools        []fileSearchTool `json:"tools"`
	Text         *textOptions     `json:"text,omitempty"`
}

type textOptions struct {
	Format textFormat `json:"format"`
}

func buildRequest(storeID, instruction, model, systemPrompt string) responsesRequest {
	return responsesRequest{
		Model:        model,
		Instructions: systemPrompt,
		Input: []inputMessage{{
			Role:    "user",
			Content: []inputText{{Type: "input_text", Text: instruction}},
		}},
		Tools: []fileSearchTool{{Type: "file_search", VectorStoreIDs: []string{storeID}}},
	}
}

// Extract asks model to answer instruction under systemPrompt using
// file_search over storeID. Empty instruction, model and systemPrompt fall
// back to the package defaults.
func (c *Client) Extract(ctx context.Context, storeID, instruction, model, systemPrompt string) (Answer, error) {
	if strings.TrimSpace(storeID) == "" {
		return Answer{}, fmt.Errorf("extract: store id is required")
	}
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}
	if model == "" {
		model = DefaultModel
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}

	req := buildRequest(storeID, instruction, model, systemPrompt)
	if c.StructuredOutput {
		req.Text = &textOptions{Format: textFormat{
			Type:   "json_schema",
			Name:   "extraction_result",
			Schema: schema.JSONSchema(),
		}}
	}

	return c.send(ctx, req)
}

// ProbeFile is one entry of a probe answer.
type ProbeFile struct {
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Probe is the answer of ProbeFiles.
type Probe struct {
	Files []ProbeFile `json:"files"`
	Raw   string      `json:"-"`
}

// ProbeFiles is a file_search smoke test: the model lists the files it can
// see in storeID with a short snippet each.
func (c *Client) ProbeFiles(ctx context.Context, storeID, model string) (Probe, error) {
	if strings.TrimSpace(storeID) == "" {
		return Probe{}, fmt.Errorf("extract: store id is required")
	}
	if model == "" {
		model = DefaultModel
	}

	ans, err := c.send(ctx, buildRequest(storeID, probeInput, model, probeInstructions))
	if err != nil {
		return Probe{}, err
	}

	p := Probe{Raw: ans.Text}
	text := schema.StripFence(ans.Text)
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return p, fmt.Errorf("extract: probe answer is not JSON: %w", err)
	}
	return p, nil
}

func (c *Client) send(ctx context.Context, req responsesRequest) (Answer, error) {
	raw, err := c.api.CreateResponse(ctx, req)
	if err != nil {
		return Answer{}, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Answer{}, fmt.Errorf("extract: decoding response: %w", err)
	}
	text := env.text()
	if text == "" {
		return Answer{}, ErrEmptyResponse
	}
	return Answer{
		Text:       text,
		ResponseID: env.ID,
		Model:      env.Model,
		Usage:      env.Usage,
	}, nil
}

type envelope struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	OutputText json.RawMessage `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Message json.RawMessage `json:"message"`
	Usage   Usage           `json:"usage"`
}

// text returns the first non-empty answer: the consolidated output_text,
// else the output_text fragments of output items joined by newlines, else
// the legacy message field.
func (e envelope) text() string {
	if s := rawString(e.OutputText); s != "" {
		return s
	}

	var chunks []string
	for _, item := range e.Output {
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				chunks = append(chunks, c.Text)
			}
		}
	}
	if s := strings.TrimSpace(strings.Join(chunks, "\n")); s != "" {
		return s
	}

	return rawString(e.Message)
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Package llm generates strictly grounded answers over retrieved context.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
)

// Result is a completed generation with its token accounting.
type Result struct {
	Answer       string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Client answers questions with a Vertex generative model at temperature
// zero, capped at maxOutputTokens.
type Client struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
}

// NewClient dials Vertex for the given project and location.
func NewClient(ctx context.Context, project, location, model string, maxOutputTokens int) (*Client, error) {
	gc, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("llm.NewClient: %w", err)
	}
	return &Client{
		client:          gc,
		model:           model,
		maxOutputTokens: int32(maxOutputTokens),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.client.Close() }

func (c *Client) generativeModel(question string, chunks []retrieval.RetrievedChunk) (*genai.GenerativeModel, genai.Text) {
	m := c.client.GenerativeModel(c.model)
	m.SetTemperature(0)
	m.SetMaxOutputTokens(c.maxOutputTokens)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(GroundedSystemPrompt())},
	}
	return m, genai.Text(GroundedUserPrompt(question, chunks))
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func applyUsage(res *Result, usage *genai.UsageMetadata) {
	if usage == nil {
		return
	}
	res.InputTokens = int(usage.PromptTokenCount)
	res.OutputTokens = int(usage.CandidatesTokenCount)
	res.TotalTokens = int(usage.TotalTokenCount)
}

// Answer runs a single grounded generation.
func (c *Client) Answer(ctx context.Context, question string, chunks []retrieval.RetrievedChunk) (Result, error) {
	m, prompt := c.generativeModel(question, chunks)
	resp, err := m.GenerateContent(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("llm.Answer: %w", err)
	}
	res := Result{Answer: strings.TrimSpace(candidateText(resp))}
	applyUsage(&res, resp.UsageMetadata)
	if res.TotalTokens <= 0 {
		res.TotalTokens = res.InputTokens + res.OutputTokens
	}
	return res, nil
}

// StreamAnswer runs a grounded generation, invoking onDelta for each text
// fragment as it arrives. A non-nil onDelta error aborts the stream. The
// returned Result carries the full answer and final usage.
func (c *Client) StreamAnswer(ctx context.Context, question string, chunks []retrieval.RetrievedChunk, onDelta func(text string) error) (Result, error) {
	m, prompt := c.generativeModel(question, chunks)
	iter := m.GenerateContentStream(ctx, prompt)

	var res Result
	var answer strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("llm.StreamAnswer: %w", err)
		}
		applyUsage(&res, resp.UsageMetadata)
		if text := candidateText(resp); text != "" {
			answer.WriteString(text)
			if onDelta != nil {
				if err := onDelta(text); err != nil {
					return Result{}, fmt.Errorf("llm.StreamAnswer: %w", err)
				}
			}
		}
	}
	res.Answer = strings.TrimSpace(answer.String())
	if res.TotalTokens <= 0 {
		res.TotalTokens = res.InputTokens + res.OutputTokens
	}
	return res, nil
}

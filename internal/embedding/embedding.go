// Package embedding produces text embeddings through the Vertex
// prediction API.
package embedding

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// Result is an embedding with the token count the model reported for the
// input. Tokens is zero when the backend omits statistics.
type Result struct {
	Vector []float32
	Tokens int
}

// Embedder turns text into fixed-dimension vectors.
type Embedder struct {
	client   *aiplatform.PredictionClient
	endpoint string
	model    string
	dim      int
}

// NewEmbedder dials the regional prediction endpoint for the publisher
// embedding model.
func NewEmbedder(ctx context.Context, project, location, model string, dim int) (*Embedder, error) {
	client, err := aiplatform.NewPredictionClient(ctx,
		option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)))
	if err != nil {
		return nil, fmt.Errorf("embedding.NewEmbedder: %w", err)
	}
	return &Embedder{
		client:   client,
		endpoint: fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", project, location, model),
		model:    model,
		dim:      dim,
	}, nil
}

// Model is the embedding model identifier recorded with stored vectors.
func (e *Embedder) Model() string { return e.model }

// Close releases the underlying connection.
func (e *Embedder) Close() error { return e.client.Close() }

// Embed returns the embedding for one text. The response dimension must
// match the configured one; retrieval depends on it.
func (e *Embedder) Embed(ctx context.Context, text string) (Result, error) {
	instance, err := structpb.NewStruct(map[string]any{
		"content": text,
	})
	if err != nil {
		return Result{}, fmt.Errorf("embedding.Embed: %w", err)
	}
	params, err := structpb.NewStruct(map[string]any{
		"outputDimensionality": e.dim,
	})
	if err != nil {
		return Result{}, fmt.Errorf("embedding.Embed: %w", err)
	}
	resp, err := e.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   e.endpoint,
		Instances:  []*structpb.Value{structpb.NewStructValue(instance)},
		Parameters: structpb.NewStructValue(params),
	})
	if err != nil {
		return Result{}, fmt.Errorf("embedding.Embed: %w", err)
	}
	if len(resp.Predictions) == 0 {
		return Result{}, fmt.Errorf("embedding.Embed: empty prediction response")
	}
	pred := resp.Predictions[0].GetStructValue().GetFields()["embeddings"].GetStructValue()
	values := pred.GetFields()["values"].GetListValue().GetValues()
	if len(values) != e.dim {
		return Result{}, fmt.Errorf("embedding.Embed: got %d dimensions, want %d", len(values), e.dim)
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	tokens := int(pred.GetFields()["statistics"].GetStructValue().GetFields()["token_count"].GetNumberValue())
	return Result{Vector: vec, Tokens: tokens}, nil
}

// Package genai wires the pipeline's embedding and generation contracts
// to Firebase Genkit. The rest of the codebase depends only on
// index.EmbedFunc and the retriever's Generator interface; this package
// is the single place that knows about Genkit and the Google AI plugin.
package genai

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"

	"github.com/quarry0/quarry/internal/index"
)

// EmbeddingDimension is the vector width requested from the embedder.
// gemini-embedding-001 outputs 3072 dimensions by default and supports
// truncation via OutputDimensionality (Matryoshka Representation
// Learning); the chunks table declares vector(768), so the two must
// stay in lockstep.
const EmbeddingDimension int32 = 768

// Init initializes Genkit with the Google AI plugin. The plugin reads
// GEMINI_API_KEY from the environment.
func Init(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("genkit initialization failed")
	}
	return g, nil
}

// NewEmbedFunc bridges a Genkit embedder to the index's embedding
// contract. Every request asks for EmbeddingDimension-wide vectors so
// the output fits the chunks table. The returned function is
// deterministic for identical input as long as the underlying model is.
func NewEmbedFunc(embedder ai.Embedder) index.EmbedFunc {
	dim := EmbeddingDimension
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
			Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
			Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
		})
		if err != nil {
			return nil, fmt.Errorf("embed failed: %w", err)
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
			return nil, errors.New("embedder returned no embedding")
		}
		vec := resp.Embeddings[0].Embedding
		if len(vec) != int(dim) {
			return nil, fmt.Errorf("embedder returned %d dimensions, requested %d", len(vec), dim)
		}
		return vec, nil
	}
}

// Embedder resolves the configured embedding model through the Google AI
// plugin.
func Embedder(g *genkit.Genkit, model string) (ai.Embedder, error) {
	embedder := googlegenai.GoogleAIEmbedder(g, model)
	if embedder == nil {
		return nil, fmt.Errorf("unknown embedder model %q", model)
	}
	return embedder, nil
}

// ModelGenerator calls a Genkit model with a one-shot text prompt. It
// satisfies the retriever's Generator contract.
type ModelGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewModelGenerator creates a generator for the provider-qualified model
// name (e.g. "googleai/gemini-2.5-flash").
func NewModelGenerator(g *genkit.Genkit, modelName string) *ModelGenerator {
	return &ModelGenerator{g: g, modelName: modelName}
}

// Generate produces text for the prompt. The sub-call carries no
// conversational state of its own; callers encode any needed context in
// the prompt itself.
func (m *ModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, m.g,
		ai.WithModelName(m.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generate failed: %w", err)
	}
	return resp.Text(), nil
}

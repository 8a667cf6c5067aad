// Package retriever answers questions against a built index. It embeds
// the query, searches for the closest chunks, and asks a language model
// for a grounded answer. Conversation history is owned by the caller;
// the retriever only reads it to reformulate follow-up questions.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/log"
)

var (
	// ErrRetrievalUnavailable indicates the retrieval stage failed:
	// the query could not be embedded or the index could not be searched.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationUnavailable indicates retrieval succeeded but the
	// answer could not be generated.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

const (
	defaultTopK          = 5
	defaultHistoryWindow = 6
)

// Generator produces text for a one-shot prompt. *genai.ModelGenerator
// satisfies this in production; tests script their own.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Searcher is the slice of the index the retriever needs.
type Searcher interface {
	Search(vector []float32, k int) ([]document.Result, error)
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithHistoryWindow bounds how many recent turns feed query
// reformulation.
func WithHistoryWindow(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.historyWindow = n
		}
	}
}

// WithGenerationTimeout bounds the answer generation call. Zero means
// no timeout beyond the caller's context.
func WithGenerationTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.genTimeout = d }
}

// WithSourcesOnFailure makes generation failures non-fatal: Ask returns
// the retrieved chunks with NoAnswer set instead of an error.
func WithSourcesOnFailure() Option {
	return func(r *Retriever) { r.sourcesOnFailure = true }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// Retriever runs the question answering loop over a built index.
type Retriever struct {
	searcher Searcher
	embed    index.EmbedFunc
	gen      Generator

	topK             int
	historyWindow    int
	genTimeout       time.Duration
	sourcesOnFailure bool
	logger           log.Logger
}

// New creates a Retriever. A nil generator puts the retriever in
// retrieval-only mode: Ask returns the matched chunks with NoAnswer set
// and never calls a model.
func New(searcher Searcher, embed index.EmbedFunc, gen Generator, opts ...Option) *Retriever {
	r := &Retriever{
		searcher:      searcher,
		embed:         embed,
		gen:           gen,
		topK:          defaultTopK,
		historyWindow: defaultHistoryWindow,
		logger:        log.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AskOption adjusts a single Ask call.
type AskOption func(*askConfig)

type askConfig struct {
	topK int
}

// AskTopK overrides the configured top-k for one call. Values below 1
// keep the default.
func AskTopK(k int) AskOption {
	return func(c *askConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// Ask answers a question using the index. History may be nil for the
// first turn. The returned Answer always carries the retrieved chunks
// as Sources, even when NoAnswer is set.
func (r *Retriever) Ask(ctx context.Context, query string, history []document.Turn, opts ...AskOption) (document.Answer, error) {
	call := askConfig{topK: r.topK}
	for _, opt := range opts {
		opt(&call)
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return document.Answer{}, fmt.Errorf("%w: empty query", ErrRetrievalUnavailable)
	}

	searchQuery := r.reformulate(ctx, query, history)

	vector, err := r.embed(ctx, searchQuery)
	if err != nil {
		return document.Answer{}, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}

	hits, err := r.searcher.Search(vector, call.topK)
	if err != nil {
		return document.Answer{}, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}
	r.logger.Debug("retrieved chunks", "query", searchQuery, "hits", len(hits))

	if r.gen == nil {
		return document.Answer{NoAnswer: true, Sources: hits}, nil
	}

	text, err := r.generate(ctx, query, hits)
	if err != nil {
		if r.sourcesOnFailure {
			r.logger.Warn("generation failed, returning sources only", "error", err)
			return document.Answer{NoAnswer: true, Sources: hits}, nil
		}
		return document.Answer{}, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	return document.Answer{Text: text, Sources: hits}, nil
}

// reformulate rewrites a follow-up question into a standalone one using
// recent history. Any failure falls back to the raw query; retrieval
// must not break because rewriting did.
func (r *Retriever) reformulate(ctx context.Context, query string, history []document.Turn) string {
	if r.gen == nil || len(history) == 0 {
		return query
	}
	if len(history) > r.historyWindow {
		history = history[len(history)-r.historyWindow:]
	}

	var b strings.Builder
	b.WriteString("Rewrite the final question as a single standalone question that can be understood without the conversation. Preserve the user's intent and resolve references like \"it\" or \"that\". Reply with the rewritten question only.\n\nConversation:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "User: %s\n", turn.Query)
		if turn.Answer != "" {
			fmt.Fprintf(&b, "Assistant: %s\n", turn.Answer)
		}
	}
	fmt.Fprintf(&b, "\nFinal question: %s\n", query)

	rewritten, err := r.gen.Generate(ctx, b.String())
	if err != nil {
		r.logger.Debug("query reformulation failed, using raw query", "error", err)
		return query
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	return rewritten
}

// generate asks the model for an answer grounded in the retrieved
// chunks. The prompt carries the original query, not the reformulated
// one, so the answer addresses what the user actually typed.
func (r *Retriever) generate(ctx context.Context, query string, hits []document.Result) (string, error) {
	if r.genTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.genTimeout)
		defer cancel()
	}

	var b strings.Builder
	b.WriteString("Answer the question using only the context below. If the context does not contain the answer, say so plainly instead of guessing.\n\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "Context %d (from %s):\n%s\n\n", i+1, hit.Chunk.Source, hit.Chunk.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n", query)

	text, err := r.gen.Generate(ctx, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

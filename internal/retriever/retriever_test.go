package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/testutil"
)

func chunk(source string, seq int, text string) document.Chunk {
	return document.Chunk{
		ID:         fmt.Sprintf("%s#%d", source, seq),
		DocumentID: source,
		Source:     source,
		Text:       text,
		Seq:        seq,
	}
}

// modelNotes is a small corpus with distinct vocabulary per chunk so the
// bag-of-words embedder produces meaningful rankings.
var modelNotes = []document.Chunk{
	chunk("specs.md", 0, "The context length of the llama 8b model is 128K tokens."),
	chunk("specs.md", 1, "What about downloading the 8b model? It is roughly a 5 GB download."),
	chunk("recipes.md", 0, "Slow roasted vegetables need an oven at two hundred degrees for forty minutes."),
	chunk("gardening.md", 0, "Tomato seedlings prefer warm soil and steady watering through spring."),
}

func buildIndex(t *testing.T, chunks []document.Chunk) (*index.Index, index.EmbedFunc) {
	t.Helper()
	embed := testutil.BagOfWords(testutil.DefaultDim)
	ix, err := index.Build(context.Background(), chunks, embed, index.WithWorkers(1))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ix, embed
}

func TestAskTopHit(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	gen := testutil.NewScriptedGenerator("The context length is 128K tokens.")
	r := New(ix, embed, gen, WithTopK(3))

	answer, err := r.Ask(context.Background(), "What is the context length of the llama 8b model?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.NoAnswer {
		t.Error("unexpected NoAnswer")
	}
	if len(answer.Sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(answer.Sources))
	}
	if got := answer.Sources[0].Chunk.Text; !strings.Contains(got, "128K") {
		t.Errorf("top hit %q does not mention 128K", got)
	}
	if answer.Text != "The context length is 128K tokens." {
		t.Errorf("got answer %q", answer.Text)
	}
}

func TestAskGroundedPromptCarriesSources(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	gen := testutil.NewScriptedGenerator("ok")
	r := New(ix, embed, gen, WithTopK(2))

	if _, err := r.Ask(context.Background(), "llama 8b context length", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	prompts := gen.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts, want 1 (no history, so no reformulation)", len(prompts))
	}
	if !strings.Contains(prompts[0], "128K") {
		t.Error("grounded prompt is missing retrieved chunk text")
	}
	if !strings.Contains(prompts[0], "llama 8b context length") {
		t.Error("grounded prompt is missing the original question")
	}
}

// A follow-up like "what about the 8b model?" retrieves different chunks
// depending on whether history feeds reformulation.
func TestAskHistoryChangesRetrieval(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)

	followUp := "what about the 8b model?"
	history := []document.Turn{
		{Query: "What is the context length of the 70b model?", Answer: "The 70b model supports 128K tokens of context."},
	}

	gen := testutil.NewScriptedGenerator("answer")
	gen.Respond("rewrite the final question", "What is the context length of the llama 8b model?")

	r := New(ix, embed, gen, WithTopK(1))

	noHistory, err := r.Ask(context.Background(), followUp, nil)
	if err != nil {
		t.Fatalf("Ask without history: %v", err)
	}
	withHistory, err := r.Ask(context.Background(), followUp, history)
	if err != nil {
		t.Fatalf("Ask with history: %v", err)
	}

	bare := noHistory.Sources[0].Chunk.ID
	contextual := withHistory.Sources[0].Chunk.ID
	if bare == contextual {
		t.Fatalf("retrieval ignored history: both asks hit %s", bare)
	}
	if got := withHistory.Sources[0].Chunk.Text; !strings.Contains(got, "context length") {
		t.Errorf("reformulated retrieval hit %q, want the context length chunk", got)
	}

	// The grounded prompt still carries the user's literal question.
	prompts := gen.Prompts()
	last := prompts[len(prompts)-1]
	if !strings.Contains(last, followUp) {
		t.Error("grounded prompt should carry the original follow-up, not the rewrite")
	}
}

type rewriteFailingGen struct {
	inner *testutil.ScriptedGenerator
}

func (g *rewriteFailingGen) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Rewrite the final question") {
		return "", errors.New("model overloaded")
	}
	return g.inner.Generate(ctx, prompt)
}

func TestAskReformulationFailureFallsBack(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	gen := &rewriteFailingGen{inner: testutil.NewScriptedGenerator("answer")}
	r := New(ix, embed, gen, WithTopK(1))

	history := []document.Turn{{Query: "earlier question", Answer: "earlier answer"}}
	answer, err := r.Ask(context.Background(), "tomato seedlings watering", history)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got := answer.Sources[0].Chunk.Source; got != "gardening.md" {
		t.Errorf("raw-query fallback retrieved %s, want gardening.md", got)
	}
}

func TestAskHistoryWindow(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	gen := testutil.NewScriptedGenerator("answer")
	r := New(ix, embed, gen, WithTopK(1), WithHistoryWindow(2))

	history := []document.Turn{
		{Query: "ancient question", Answer: "ancient answer"},
		{Query: "recent question one", Answer: "recent answer one"},
		{Query: "recent question two", Answer: "recent answer two"},
	}
	if _, err := r.Ask(context.Background(), "llama context length", history); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	rewrite := gen.Prompts()[0]
	if strings.Contains(rewrite, "ancient question") {
		t.Error("reformulation prompt includes turns beyond the window")
	}
	if !strings.Contains(rewrite, "recent question one") || !strings.Contains(rewrite, "recent question two") {
		t.Error("reformulation prompt is missing recent turns")
	}
}

func TestAskEmptyIndex(t *testing.T) {
	embed := testutil.BagOfWords(testutil.DefaultDim)
	ix, err := index.Build(context.Background(), nil, embed)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r := New(ix, embed, testutil.NewScriptedGenerator("answer"))

	_, err = r.Ask(context.Background(), "anything", nil)
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("got %v, want ErrRetrievalUnavailable", err)
	}
	if !errors.Is(err, index.ErrEmptyIndex) {
		t.Errorf("got %v, want wrapped ErrEmptyIndex", err)
	}
}

func TestAskEmbedFailure(t *testing.T) {
	ix, _ := buildIndex(t, modelNotes)
	embedErr := errors.New("quota exhausted")
	r := New(ix, testutil.FailingEmbedder(embedErr), testutil.NewScriptedGenerator("answer"))

	_, err := r.Ask(context.Background(), "anything", nil)
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("got %v, want ErrRetrievalUnavailable", err)
	}
	if !errors.Is(err, embedErr) {
		t.Errorf("got %v, want wrapped embed error", err)
	}
}

func TestAskEmptyQuery(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	r := New(ix, embed, testutil.NewScriptedGenerator("answer"))

	if _, err := r.Ask(context.Background(), "   ", nil); !errors.Is(err, ErrRetrievalUnavailable) {
		t.Errorf("got %v, want ErrRetrievalUnavailable", err)
	}
}

func TestAskGenerationFailure(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	genErr := errors.New("backend down")

	t.Run("fatal by default", func(t *testing.T) {
		gen := testutil.NewScriptedGenerator("answer")
		gen.Fail(genErr)
		r := New(ix, embed, gen)

		_, err := r.Ask(context.Background(), "llama context length", nil)
		if !errors.Is(err, ErrGenerationUnavailable) {
			t.Errorf("got %v, want ErrGenerationUnavailable", err)
		}
	})

	t.Run("sources on failure", func(t *testing.T) {
		gen := testutil.NewScriptedGenerator("answer")
		gen.Fail(genErr)
		r := New(ix, embed, gen, WithTopK(2), WithSourcesOnFailure())

		answer, err := r.Ask(context.Background(), "llama context length", nil)
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if !answer.NoAnswer {
			t.Error("want NoAnswer when generation fails")
		}
		if len(answer.Sources) != 2 {
			t.Errorf("got %d sources, want 2", len(answer.Sources))
		}
	})
}

func TestAskTopKOverride(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	r := New(ix, embed, testutil.NewScriptedGenerator("answer"), WithTopK(1))

	answer, err := r.Ask(context.Background(), "llama context length", nil, AskTopK(3))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(answer.Sources) != 3 {
		t.Errorf("got %d sources, want 3 from per-call override", len(answer.Sources))
	}

	answer, err = r.Ask(context.Background(), "llama context length", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(answer.Sources) != 1 {
		t.Errorf("got %d sources, want the configured 1", len(answer.Sources))
	}
}

func TestAskRetrievalOnly(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	r := New(ix, embed, nil, WithTopK(2))

	answer, err := r.Ask(context.Background(), "llama context length", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !answer.NoAnswer {
		t.Error("retrieval-only mode must set NoAnswer")
	}
	if answer.Text != "" {
		t.Errorf("retrieval-only mode produced text %q", answer.Text)
	}
	if len(answer.Sources) != 2 {
		t.Errorf("got %d sources, want 2", len(answer.Sources))
	}
}

type slowGen struct{}

func (slowGen) Generate(ctx context.Context, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Second):
		return "too late", nil
	}
}

func TestAskGenerationTimeout(t *testing.T) {
	ix, embed := buildIndex(t, modelNotes)
	r := New(ix, embed, slowGen{}, WithGenerationTimeout(10*time.Millisecond))

	_, err := r.Ask(context.Background(), "llama context length", nil)
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Errorf("got %v, want ErrGenerationUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want wrapped DeadlineExceeded", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/log"
	"github.com/quarry0/quarry/internal/retriever"
)

// maxQueryBodyBytes caps request bodies; questions and histories are
// small.
const maxQueryBodyBytes = 1 << 20

// Asker answers questions against the index. *retriever.Retriever
// satisfies this.
type Asker interface {
	Ask(ctx context.Context, query string, history []document.Turn, opts ...retriever.AskOption) (document.Answer, error)
}

type queryTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type queryRequest struct {
	Question string      `json:"question"`
	History  []queryTurn `json:"history,omitempty"`
	TopK     int         `json:"top_k,omitempty"`
}

type querySource struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

type queryResponse struct {
	Answer   string        `json:"answer"`
	NoAnswer bool          `json:"no_answer"`
	Sources  []querySource `json:"sources"`
}

type queryHandler struct {
	asker  Asker
	logger log.Logger
}

func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	body := http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", h.logger)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required", h.logger)
		return
	}

	history := make([]document.Turn, 0, len(req.History))
	for _, t := range req.History {
		history = append(history, document.Turn{Query: t.Query, Answer: t.Answer})
	}

	var opts []retriever.AskOption
	if req.TopK > 0 {
		opts = append(opts, retriever.AskTopK(req.TopK))
	}

	answer, err := h.asker.Ask(r.Context(), req.Question, history, opts...)
	if err != nil {
		h.writeAskError(w, err)
		return
	}

	resp := queryResponse{
		Answer:   answer.Text,
		NoAnswer: answer.NoAnswer,
		Sources:  make([]querySource, 0, len(answer.Sources)),
	}
	for _, s := range answer.Sources {
		resp.Sources = append(resp.Sources, querySource{
			ID:     s.Chunk.ID,
			Source: s.Chunk.Source,
			Text:   s.Chunk.Text,
			Score:  s.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// writeAskError maps pipeline errors onto HTTP statuses. Internals are
// logged, not leaked.
func (h *queryHandler) writeAskError(w http.ResponseWriter, err error) {
	h.logger.Error("query failed", "error", err)

	switch {
	case errors.Is(err, index.ErrEmptyIndex):
		writeError(w, http.StatusServiceUnavailable, "index_empty", "no documents have been indexed", h.logger)
	case errors.Is(err, retriever.ErrRetrievalUnavailable):
		writeError(w, http.StatusServiceUnavailable, "retrieval_unavailable", "retrieval is currently unavailable", h.logger)
	case errors.Is(err, retriever.ErrGenerationUnavailable):
		writeError(w, http.StatusBadGateway, "generation_unavailable", "answer generation is currently unavailable", h.logger)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}

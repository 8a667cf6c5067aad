// Package testutil provides deterministic test doubles for the embedding
// and generation backends, so pipeline tests run without network access
// or API keys.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/quarry0/quarry/internal/index"
)

// DefaultDim is the embedding dimensionality used by test embedders.
const DefaultDim = 64

// BagOfWords returns a deterministic embedding function: each lowercased
// token is hashed into one of dim buckets and counted, and the vector is
// L2-normalized. Texts sharing vocabulary get high cosine similarity,
// which is enough to exercise retrieval ranking without a real model.
func BagOfWords(dim int) index.EmbedFunc {
	if dim <= 0 {
		dim = DefaultDim
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[int(h.Sum32())%dim]++
		}

		var sum float64
		for _, x := range vec {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			n := float32(math.Sqrt(sum))
			for i := range vec {
				vec[i] /= n
			}
		}
		return vec, nil
	}
}

// FailingEmbedder returns an embedding function that always fails with
// the given error.
func FailingEmbedder(err error) index.EmbedFunc {
	return func(context.Context, string) ([]float32, error) {
		return nil, err
	}
}

// tokenize lowercases and splits on any non-letter, non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

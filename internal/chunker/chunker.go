// Package chunker splits documents into overlapping, offset-tracked chunks
// sized for embedding.
//
// Splitting prefers the largest structural unit that fits the size budget:
// paragraph boundaries first, then sentence boundaries, then word
// boundaries, and finally a raw rune-aligned cut when a single unit is
// itself larger than the budget. Consecutive chunks from the same document
// overlap by a configured number of bytes, and the overlap region is a
// verbatim suffix/prefix match because chunks are raw slices of the
// original text.
package chunker

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/quarry0/quarry/internal/document"
)

// ErrInvalidConfig indicates a bad chunk-size/overlap combination.
// It is never recovered silently; callers see it immediately.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Options controls how documents are split.
type Options struct {
	// ChunkSize is the maximum chunk length in bytes. Must be > 0.
	ChunkSize int

	// Overlap is the number of bytes repeated from the end of one chunk
	// at the start of the next. Must satisfy 0 <= Overlap < ChunkSize.
	Overlap int
}

// Validate checks the size/overlap constraints.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, o.ChunkSize)
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, chunk size), got %d with chunk size %d",
			ErrInvalidConfig, o.Overlap, o.ChunkSize)
	}
	return nil
}

// Split cuts a document into overlapping chunks. Chunks carry byte offsets
// into the original text, so doc.Text[c.Start:c.End] == c.Text for every
// chunk, and they cover the full text: each byte appears in exactly one
// non-overlap region, and overlap regions appear in exactly two
// consecutive chunks.
//
// An empty document yields no chunks and no error.
func Split(doc document.Document, opts Options) ([]document.Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	text := doc.Text
	if text == "" {
		return nil, nil
	}

	// Candidate cut offsets per structural level, largest unit first.
	levels := [][]int{
		paragraphEnds(text),
		sentenceEnds(text),
		wordEnds(text),
	}

	var chunks []document.Chunk
	start := 0
	seq := 0
	for start < len(text) {
		end := cutPoint(text, start, start+opts.ChunkSize, levels)

		chunks = append(chunks, document.Chunk{
			ID:         fmt.Sprintf("%s#%d", doc.ID, seq),
			DocumentID: doc.ID,
			Source:     doc.Source,
			Text:       text[start:end],
			Start:      start,
			End:        end,
			Seq:        seq,
		})
		seq++

		if end == len(text) {
			break
		}

		next := end - opts.Overlap
		// Keep the overlap a valid UTF-8 boundary.
		for next > 0 && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			// Window shorter than the overlap cannot seed the next one.
			next = end
		}
		start = next
	}

	return chunks, nil
}

// cutPoint returns the end offset for a chunk starting at start with byte
// budget limit. It takes the farthest paragraph end within budget, then
// the farthest sentence end, then the farthest word end, and falls back
// to a raw rune-aligned cut when no structural boundary fits.
func cutPoint(text string, start, limit int, levels [][]int) int {
	if limit >= len(text) {
		return len(text)
	}

	for _, cuts := range levels {
		// Farthest cut c with start < c <= limit.
		i := sort.SearchInts(cuts, limit+1) - 1
		if i >= 0 && cuts[i] > start {
			return cuts[i]
		}
	}

	// Raw character run: cut at the budget, stepping back to a rune start.
	end := limit
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		// A single rune wider than the budget; emit it whole.
		_, n := utf8.DecodeRuneInString(text[start:])
		end = start + n
	}
	return end
}

// paragraphEnds returns offsets just past each blank-line separator, so a
// cut there keeps the separator with the preceding paragraph.
func paragraphEnds(text string) []int {
	var ends []int
	i := 0
	for i < len(text)-1 {
		if text[i] == '\n' && text[i+1] == '\n' {
			j := i
			for j < len(text) && text[j] == '\n' {
				j++
			}
			ends = append(ends, j)
			i = j
			continue
		}
		i++
	}
	return ends
}

// sentenceEnds returns offsets just past a sentence terminator and its
// trailing whitespace run.
func sentenceEnds(text string) []int {
	var ends []int
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j > i+1 {
			ends = append(ends, j)
			i = j - 1
		}
	}
	return ends
}

// wordEnds returns offsets at the end of each whitespace run, i.e. the
// positions where a new word starts.
func wordEnds(text string) []int {
	var ends []int
	inSpace := false
	for i := 0; i < len(text); i++ {
		if isSpace(text[i]) {
			inSpace = true
			continue
		}
		if inSpace {
			ends = append(ends, i)
			inSpace = false
		}
	}
	return ends
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

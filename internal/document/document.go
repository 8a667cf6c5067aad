// Package document defines the value types that flow through the quarry
// pipeline: ingested documents, chunks, retrieval results and conversation
// turns. The types are plain data with no behavior; every stage that
// produces them treats them as immutable afterwards.
package document

import "time"

// Source type values recorded in Document.Metadata["source_type"].
const (
	// SourceTypeFile marks documents ingested from the local filesystem.
	SourceTypeFile = "file"

	// SourceTypeWeb marks documents fetched from a URL.
	SourceTypeWeb = "web"
)

// Document is a raw text document produced by an ingestor.
type Document struct {
	ID        string            // Unique identifier (stable per source)
	Source    string            // Origin: file path or URL
	Text      string            // Full raw text
	Metadata  map[string]string // title, language, file_ext, ...
	FetchedAt time.Time
}

// Chunk is a bounded, offset-tracked substring of a Document sized for
// embedding. Start and End are byte offsets into the document text, so
// doc.Text[Start:End] == Text always holds. Seq orders chunks within
// their document; consecutive chunks overlap by the configured amount.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string // copied from the document for citation and tie-breaks
	Text       string
	Start      int
	End        int
	Seq        int
}

// Turn is a single completed exchange. The pipeline never stores turns;
// callers own their history and pass it into each retrieval.
type Turn struct {
	Query  string
	Answer string
}

// Result is one retrieval hit. Score is similarity in the index's
// configured metric, higher is closer.
type Result struct {
	Chunk Chunk
	Score float64
}

// Answer is the retriever's output. NoAnswer is set when generation was
// unavailable and the caller opted into retrieval-only degradation;
// Sources always carries the retrieved chunks so the caller can cite or
// display them even without generated text.
type Answer struct {
	Text     string
	NoAnswer bool
	Sources  []Result
}

// Package ingest turns external sources into documents ready for
// chunking. Two fetchers are provided: one for local directories and
// one for web pages. Both normalize content to plain text and assign
// stable document IDs so re-ingesting a source is idempotent.
package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/quarry0/quarry/internal/document"
)

// ErrFetch indicates a source could not be retrieved or parsed. The
// pipeline skips unfetchable sources rather than aborting a whole run.
var ErrFetch = errors.New("fetch failed")

// Fetcher retrieves documents from one source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]document.Document, error)
}

// webDocumentID derives a stable document ID from a URL. The same page
// always hashes to the same ID, so re-crawling replaces rather than
// duplicates.
func webDocumentID(pageURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL)).String()
}

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/log"
)

// defaultMaxFileBytes skips files unlikely to be prose.
const defaultMaxFileBytes = 4 << 20

var defaultExtensions = []string{".md", ".markdown", ".txt", ".rst"}

// DirOption configures a DirFetcher.
type DirOption func(*DirFetcher)

// WithExtensions replaces the file extension allowlist.
func WithExtensions(exts []string) DirOption {
	return func(f *DirFetcher) {
		f.exts = make(map[string]bool, len(exts))
		for _, ext := range exts {
			f.exts[strings.ToLower(ext)] = true
		}
	}
}

// WithMaxFileSize sets the per-file size cutoff in bytes.
func WithMaxFileSize(n int64) DirOption {
	return func(f *DirFetcher) {
		if n > 0 {
			f.maxFileBytes = n
		}
	}
}

// WithDirLogger sets the logger. Defaults to a no-op logger.
func WithDirLogger(logger log.Logger) DirOption {
	return func(f *DirFetcher) { f.logger = logger }
}

// DirFetcher reads text files under a directory tree. Hidden
// directories are skipped and a .gitignore at the root is honored, so
// pointing it at a repository checkout does the expected thing. The
// root may also be a single file.
//
// All reads go through os.Root, so a symlink under the tree cannot
// pull in content from outside it.
type DirFetcher struct {
	root         string
	exts         map[string]bool
	maxFileBytes int64
	logger       log.Logger
}

// NewDirFetcher creates a fetcher rooted at path.
func NewDirFetcher(root string, opts ...DirOption) *DirFetcher {
	f := &DirFetcher{
		root:         root,
		maxFileBytes: defaultMaxFileBytes,
		logger:       log.NewNop(),
	}
	WithExtensions(defaultExtensions)(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch walks the tree and returns one document per accepted file.
// Document IDs and sources are root-relative paths, so chunk IDs stay
// stable across runs from any working directory.
func (f *DirFetcher) Fetch(ctx context.Context) ([]document.Document, error) {
	info, err := os.Stat(f.root)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrFetch, f.root, err)
	}

	if !info.IsDir() {
		// Single-file mode: restrict reads to the file's parent
		// directory (os.Root, Go 1.24+).
		root, err := os.OpenRoot(filepath.Dir(f.root))
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %w", ErrFetch, filepath.Dir(f.root), err)
		}
		defer func() { _ = root.Close() }()

		name := filepath.Base(f.root)
		doc, err := f.readFile(root, name, name, info.Size())
		if err != nil {
			return nil, err
		}
		return []document.Document{doc}, nil
	}

	root, err := os.OpenRoot(f.root)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrFetch, f.root, err)
	}
	defer func() { _ = root.Close() }()

	var ignore *gitignore.GitIgnore
	if matcher, err := gitignore.CompileIgnoreFile(filepath.Join(f.root, ".gitignore")); err == nil {
		ignore = matcher
	}

	var docs []document.Document
	walkErr := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if ignore != nil && ignore.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if ignore != nil && ignore.MatchesPath(rel) {
			return nil
		}
		if !f.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		// Stat through the root: a symlink pointing outside the tree
		// fails here and the entry is skipped.
		fi, infoErr := root.Stat(rel)
		if infoErr != nil {
			f.logger.Warn("skipping unreadable entry", "path", rel, "error", infoErr)
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if fi.Size() > f.maxFileBytes {
			f.logger.Debug("skipping oversized file", "path", rel, "size", fi.Size())
			return nil
		}

		doc, readErr := f.readFile(root, rel, filepath.ToSlash(rel), fi.Size())
		if readErr != nil {
			f.logger.Warn("skipping unreadable file", "path", rel, "error", readErr)
			return nil
		}
		if strings.TrimSpace(doc.Text) == "" {
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: walking %s: %w", ErrFetch, f.root, walkErr)
	}

	f.logger.Debug("fetched directory", "root", f.root, "documents", len(docs))
	return docs, nil
}

// readFile reads name through the restricted root, which refuses
// symlink escapes.
func (f *DirFetcher) readFile(root *os.Root, name, source string, size int64) (document.Document, error) {
	if size > f.maxFileBytes {
		return document.Document{}, fmt.Errorf("%w: %s exceeds size limit (%d bytes)", ErrFetch, source, size)
	}
	data, err := root.ReadFile(name)
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: reading %s: %w", ErrFetch, source, err)
	}
	return document.Document{
		ID:        source,
		Source:    source,
		Text:      string(data),
		Metadata:  map[string]string{"source_type": document.SourceTypeFile},
		FetchedAt: time.Now(),
	}, nil
}

package extraction

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"docchat/src/core/vectorindex"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

// Extractor turns raw document bytes into page or section texts.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) ([]string, error)
}

// LoaderExtractor extracts text with the langchaingo document loaders.
// Files ending in .pdf go through the PDF loader, everything else is read as plain text.
type LoaderExtractor struct{}

func NewLoaderExtractor() *LoaderExtractor {
	return &LoaderExtractor{}
}

func (e *LoaderExtractor) Extract(ctx context.Context, name string, data []byte) ([]string, error) {
	var (
		docs []schema.Document
		err  error
	)
	if strings.EqualFold(path.Ext(name), ".pdf") {
		docs, err = documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	} else {
		docs, err = documentloaders.NewText(bytes.NewReader(data)).Load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}

	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		pages = append(pages, doc.PageContent)
	}
	return pages, nil
}

// Chunker splits extracted pages into retrieval chunks.
type Chunker struct {
	splitter textsplitter.TextSplitter
}

func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// Split numbers chunks from zero across all pages in page order.
// Blank pages and whitespace-only pieces are dropped.
func (c *Chunker) Split(documentID string, pages []string) ([]vectorindex.Chunk, error) {
	var chunks []vectorindex.Chunk
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		pieces, err := c.splitter.SplitText(page)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", i, err)
		}
		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, vectorindex.Chunk{
				Text:       piece,
				DocumentID: documentID,
				Sequence:   len(chunks),
			})
		}
	}
	return chunks, nil
}

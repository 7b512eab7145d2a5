// Package failure holds the error kinds shared by the ingestion and answering
// flows. Callers wrap causes with a kind so both stay visible to errors.Is:
//
//	fmt.Errorf("%w: failed to get object %s: %w", failure.ErrFetch, key, err)
package failure

import "errors"

var (
	ErrFetch         = errors.New("fetch error")
	ErrExtraction    = errors.New("extraction error")
	ErrEmptyDocument = errors.New("empty document")
	ErrEmbedding     = errors.New("embedding error")
	ErrIndexNotFound = errors.New("index not found")
	ErrIndexCorrupt  = errors.New("index corrupt")
	ErrModelMismatch = errors.New("embedding model mismatch")
	ErrLLM           = errors.New("llm error")
	ErrIO            = errors.New("io error")
)

// Kind codes reported in ingestion results and HTTP error bodies.
const (
	KindFetch         = "FETCH_ERROR"
	KindExtraction    = "EXTRACTION_ERROR"
	KindEmptyDocument = "EMPTY_DOCUMENT"
	KindEmbedding     = "MODEL_ERROR"
	KindIndexNotFound = "INDEX_NOT_FOUND"
	KindIndexCorrupt  = "INDEX_CORRUPT"
	KindModelMismatch = "MODEL_MISMATCH"
	KindLLM           = "MODEL_ERROR"
	KindIO            = "IO_ERROR"
	KindInternal      = "INTERNAL_ERROR"
)

// Kind classifies err into one of the kind codes. Unknown errors are internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return KindFetch
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrEmptyDocument):
		return KindEmptyDocument
	case errors.Is(err, ErrIndexNotFound):
		return KindIndexNotFound
	case errors.Is(err, ErrIndexCorrupt):
		return KindIndexCorrupt
	case errors.Is(err, ErrModelMismatch):
		return KindModelMismatch
	case errors.Is(err, ErrEmbedding):
		return KindEmbedding
	case errors.Is(err, ErrLLM):
		return KindLLM
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

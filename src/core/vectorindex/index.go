package vectorindex

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"docchat/src/core/failure"
)

// DefaultTopK is the retrieval window used when the caller does not configure one.
const DefaultTopK = 4

// MetricCosine is the only similarity metric snapshots are written with.
const MetricCosine = "cosine"

var ErrInvalidIndex = errors.New("invalid index input")

// Chunk is a contiguous slice of a document's text, the unit of embedding and retrieval
type Chunk struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	Sequence   int    `json:"sequence"`
}

// Index is an in-memory nearest-neighbour structure over chunk vectors.
// It is never mutated after Build or Load.
type Index struct {
	model     string
	dimension int
	chunks    []Chunk
	vectors   [][]float32
	norms     []float64
}

// Build constructs an index from chunks and their vectors, index-aligned.
func Build(chunks []Chunk, vectors [][]float32, model string) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrInvalidIndex)
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", ErrInvalidIndex, len(chunks), len(vectors))
	}

	dimension := len(vectors[0])
	if dimension == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrInvalidIndex)
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d", failure.ErrModelMismatch, i, len(v), dimension)
		}
	}

	idx := &Index{
		model:     model,
		dimension: dimension,
		chunks:    slices.Clone(chunks),
		vectors:   make([][]float32, len(vectors)),
		norms:     make([]float64, len(vectors)),
	}
	for i, v := range vectors {
		idx.vectors[i] = slices.Clone(v)
		idx.norms[i] = norm(v)
	}
	return idx, nil
}

// Model returns the embedding model that produced the vectors.
func (idx *Index) Model() string { return idx.model }

// Dimension returns the vector dimension.
func (idx *Index) Dimension() int { return idx.dimension }

// Len returns the number of (chunk, vector) pairs.
func (idx *Index) Len() int { return len(idx.chunks) }

// Chunks returns a copy of the indexed chunks in build order.
func (idx *Index) Chunks() []Chunk { return slices.Clone(idx.chunks) }

// Query returns the k chunks closest to vector by cosine similarity.
// Equal scores keep ascending sequence order. k <= 0 means DefaultTopK.
func (idx *Index) Query(vector []float32, k int) ([]Chunk, error) {
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", failure.ErrModelMismatch, len(vector), idx.dimension)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	type scored struct {
		pos   int
		score float64
	}

	qNorm := norm(vector)
	scores := make([]scored, len(idx.vectors))
	for i, v := range idx.vectors {
		scores[i] = scored{pos: i, score: cosine(vector, v, qNorm, idx.norms[i])}
	}

	slices.SortStableFunc(scores, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(idx.chunks[a.pos].Sequence, idx.chunks[b.pos].Sequence)
	})

	k = min(k, len(scores))
	out := make([]Chunk, k)
	for i := 0; i < k; i++ {
		out[i] = idx.chunks[scores[i].pos]
	}
	return out, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"time"

	"docchat/src/core/failure"
	"docchat/src/storage/blob"
)

const (
	VectorsObject  = "index.vectors"
	ManifestObject = "index.json"

	formatVersion = 1
)

// Location derives the snapshot prefix for a user's document. Only the base
// name of the source key is used, so the upload key "u/123/report.pdf" and the
// query file name "report.pdf" resolve to the same snapshot. Re-uploading a
// file name overwrites that user's snapshot for it.
func Location(userID, sourceKey string) string {
	return fmt.Sprintf("%s/%s/", userID, path.Base(sourceKey))
}

type manifest struct {
	FormatVersion  int       `json:"format_version"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	Metric         string    `json:"metric"`
	ChunkCount     int       `json:"chunk_count"`
	VectorsSHA256  string    `json:"vectors_sha256"`
	CreatedAt      time.Time `json:"created_at"`
	Chunks         []Chunk   `json:"chunks"`
}

// Store persists and reloads index snapshots in object storage.
//
// A snapshot is two objects: the vector rows and a JSON manifest holding chunk
// texts and the checksum of the rows. The manifest is written last. Two
// concurrent Persist calls on one location are not coordinated; the last
// writer wins, and an interleaved pair fails the checksum on Load.
type Store struct {
	blobs  blob.Store
	bucket string
	now    func() time.Time
}

func NewStore(blobs blob.Store, bucket string) *Store {
	return &Store{
		blobs:  blobs,
		bucket: bucket,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Persist(ctx context.Context, idx *Index, location string) error {
	rows := encodeVectors(idx.vectors)
	sum := sha256.Sum256(rows)

	meta, err := json.Marshal(manifest{
		FormatVersion:  formatVersion,
		EmbeddingModel: idx.model,
		Dimension:      idx.dimension,
		Metric:         MetricCosine,
		ChunkCount:     len(idx.chunks),
		VectorsSHA256:  hex.EncodeToString(sum[:]),
		CreatedAt:      s.now(),
		Chunks:         idx.chunks,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal index manifest: %w", err)
	}

	if err := s.blobs.PutObject(ctx, s.bucket, location+VectorsObject, rows); err != nil {
		return fmt.Errorf("%w: failed to write index vectors: %w", failure.ErrIO, err)
	}
	if err := s.blobs.PutObject(ctx, s.bucket, location+ManifestObject, meta); err != nil {
		return fmt.Errorf("%w: failed to write index manifest: %w", failure.ErrIO, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, location string) (*Index, error) {
	meta, metaErr := s.blobs.GetObject(ctx, s.bucket, location+ManifestObject)
	rows, rowsErr := s.blobs.GetObject(ctx, s.bucket, location+VectorsObject)

	metaMissing := errors.Is(metaErr, blob.ErrNotFound)
	rowsMissing := errors.Is(rowsErr, blob.ErrNotFound)
	switch {
	case metaMissing && rowsMissing:
		return nil, fmt.Errorf("%w: %s", failure.ErrIndexNotFound, location)
	case metaErr != nil && !metaMissing:
		return nil, fmt.Errorf("%w: failed to read index manifest: %w", failure.ErrIO, metaErr)
	case rowsErr != nil && !rowsMissing:
		return nil, fmt.Errorf("%w: failed to read index vectors: %w", failure.ErrIO, rowsErr)
	case metaMissing:
		return nil, fmt.Errorf("%w: %s has vectors but no manifest", failure.ErrIndexCorrupt, location)
	case rowsMissing:
		return nil, fmt.Errorf("%w: %s has a manifest but no vectors", failure.ErrIndexCorrupt, location)
	}

	var m manifest
	if err := json.Unmarshal(meta, &m); err != nil {
		return nil, fmt.Errorf("%w: unreadable manifest: %w", failure.ErrIndexCorrupt, err)
	}
	if err := m.check(rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", failure.ErrIndexCorrupt, location, err)
	}

	vectors := decodeVectors(rows, m.Dimension)
	idx, err := Build(m.Chunks, vectors, m.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrIndexCorrupt, err)
	}
	return idx, nil
}

func (m *manifest) check(rows []byte) error {
	if m.FormatVersion != formatVersion {
		return fmt.Errorf("unsupported format version %d", m.FormatVersion)
	}
	if m.Metric != MetricCosine {
		return fmt.Errorf("unsupported metric %q", m.Metric)
	}
	if m.Dimension <= 0 || m.ChunkCount <= 0 {
		return fmt.Errorf("invalid shape %d x %d", m.ChunkCount, m.Dimension)
	}
	if len(m.Chunks) != m.ChunkCount {
		return fmt.Errorf("manifest lists %d chunks, expected %d", len(m.Chunks), m.ChunkCount)
	}
	if m.Dimension > len(rows)/4 {
		return fmt.Errorf("dimension %d exceeds %d bytes of vectors", m.Dimension, len(rows))
	}
	rowSize := m.Dimension * 4
	if len(rows)%rowSize != 0 || len(rows)/rowSize != m.ChunkCount {
		return fmt.Errorf("vectors are %d bytes, expected %d rows of %d", len(rows), m.ChunkCount, rowSize)
	}
	sum := sha256.Sum256(rows)
	if hex.EncodeToString(sum[:]) != m.VectorsSHA256 {
		return errors.New("vectors checksum mismatch")
	}
	return nil
}

func encodeVectors(vectors [][]float32) []byte {
	if len(vectors) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(vectors)*len(vectors[0])*4)
	for _, v := range vectors {
		for _, x := range v {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
		}
	}
	return buf
}

func decodeVectors(rows []byte, dimension int) [][]float32 {
	count := len(rows) / (dimension * 4)
	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dimension)
		for j := range v {
			off := (i*dimension + j) * 4
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(rows[off:]))
		}
		vectors[i] = v
	}
	return vectors
}

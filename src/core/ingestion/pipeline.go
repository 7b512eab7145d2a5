package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"docchat/src/core/document"
	"docchat/src/core/extraction"
	"docchat/src/core/failure"
	"docchat/src/core/vectorindex"
	"docchat/src/log"
	"docchat/src/storage/blob"
)

// ProbeText is embedded before each run to check the model is reachable.
const ProbeText = "Test embedding model"

var ErrInvalidTrigger = errors.New("invalid ingestion trigger")

// Trigger is the message that starts one ingestion run.
type Trigger struct {
	DocumentID string `json:"documentid"`
	UserID     string `json:"user"`
	Key        string `json:"key"`
}

func (t Trigger) Validate() error {
	switch {
	case t.DocumentID == "":
		return fmt.Errorf("%w: missing documentid", ErrInvalidTrigger)
	case t.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidTrigger)
	case t.Key == "":
		return fmt.Errorf("%w: missing key", ErrInvalidTrigger)
	}
	return nil
}

// Stage names a step of an ingestion run
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageFetching   Stage = "FETCHING"
	StageExtracting Stage = "EXTRACTING"
	StageEmbedding  Stage = "EMBEDDING"
	StageIndexing   Stage = "INDEXING"
	StagePersisting Stage = "PERSISTING"
	StageDone       Stage = "DONE"
)

const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
)

// Result is the structured outcome of a run. Stage is the last stage reached;
// for a failed run it is the stage that failed.
type Result struct {
	DocumentID string `json:"documentid"`
	UserID     string `json:"user"`
	Key        string `json:"key"`
	Status     string `json:"status"`
	Stage      Stage  `json:"stage"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r Result) Failed() bool {
	return r.Status == ResultFailed
}

type StatusWriter interface {
	SetStatus(ctx context.Context, userID, documentID string, status document.Status) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type IndexWriter interface {
	Persist(ctx context.Context, idx *vectorindex.Index, location string) error
}

type Splitter interface {
	Split(documentID string, pages []string) ([]vectorindex.Chunk, error)
}

// Pipeline turns an uploaded document into a persisted vector index.
// It holds no per-run state, so one Pipeline serves concurrent runs.
type Pipeline struct {
	blobs     blob.Store
	bucket    string
	extractor extraction.Extractor
	splitter  Splitter
	embedder  Embedder
	indexes   IndexWriter
	status    StatusWriter
}

func NewPipeline(
	blobs blob.Store,
	bucket string,
	extractor extraction.Extractor,
	splitter Splitter,
	embedder Embedder,
	indexes IndexWriter,
	status StatusWriter,
) *Pipeline {
	return &Pipeline{
		blobs:     blobs,
		bucket:    bucket,
		extractor: extractor,
		splitter:  splitter,
		embedder:  embedder,
		indexes:   indexes,
		status:    status,
	}
}

// run carries the intermediate artifacts of one invocation between stages
type run struct {
	trigger Trigger
	data    []byte
	chunks  []vectorindex.Chunk
	vectors [][]float32
	index   *vectorindex.Index
}

type step struct {
	stage Stage
	exec  func(ctx context.Context, r *run) error
}

func (p *Pipeline) steps() []step {
	return []step{
		{StageReceived, p.markProcessing},
		{StageFetching, p.fetch},
		{StageExtracting, p.extract},
		{StageEmbedding, p.embed},
		{StageIndexing, p.build},
		{StagePersisting, p.persist},
	}
}

// Run executes one ingestion. It never panics and never retries; every
// failure ends with a best-effort ERROR status write and a failed Result.
func (p *Pipeline) Run(ctx context.Context, trigger Trigger) Result {
	result := Result{
		DocumentID: trigger.DocumentID,
		UserID:     trigger.UserID,
		Key:        trigger.Key,
		Stage:      StageReceived,
	}
	logger := log.WithValues("user_id", trigger.UserID, "document_id", trigger.DocumentID, "key", trigger.Key)

	if err := trigger.Validate(); err != nil {
		logger.Error(err, "Rejected ingestion trigger")
		return result.fail(err)
	}

	r := &run{trigger: trigger}
	for _, s := range p.steps() {
		result.Stage = s.stage
		logger.V(1).Info("Running ingestion stage", "stage", s.stage)
		if err := execute(ctx, s, r); err != nil {
			logger.Error(err, "Ingestion failed", "stage", s.stage, "kind", failure.Kind(err))
			p.markError(ctx, trigger)
			return result.fail(err)
		}
	}

	result.Stage = StageDone
	result.Status = ResultSucceeded
	result.ChunkCount = len(r.chunks)
	logger.Info("Ingestion finished", "chunks", len(r.chunks), "model", p.embedder.Model())
	return result
}

func (r Result) fail(err error) Result {
	r.Status = ResultFailed
	r.ErrorKind = failure.Kind(err)
	r.Error = err.Error()
	return r
}

func execute(ctx context.Context, s step, r *run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in stage %s: %v", s.stage, rec)
			log.Error(err, "Recovered ingestion panic", "stack", string(debug.Stack()))
		}
	}()
	return s.exec(ctx, r)
}

// markError writes ERROR even when ctx is already done, so a timed-out run
// does not stay PROCESSING. A failure of this write is logged and swallowed.
func (p *Pipeline) markError(ctx context.Context, t Trigger) {
	if err := p.status.SetStatus(context.WithoutCancel(ctx), t.UserID, t.DocumentID, document.StatusError); err != nil {
		log.Error(err, "Failed to record ERROR status", "user_id", t.UserID, "document_id", t.DocumentID)
	}
}

func (p *Pipeline) markProcessing(ctx context.Context, r *run) error {
	return p.status.SetStatus(ctx, r.trigger.UserID, r.trigger.DocumentID, document.StatusProcessing)
}

func (p *Pipeline) fetch(ctx context.Context, r *run) error {
	data, err := p.blobs.GetObject(ctx, p.bucket, r.trigger.Key)
	if err != nil {
		return fmt.Errorf("%w: failed to get object %s/%s: %w", failure.ErrFetch, p.bucket, r.trigger.Key, err)
	}
	r.data = data
	return nil
}

func (p *Pipeline) extract(ctx context.Context, r *run) error {
	pages, err := p.extractor.Extract(ctx, r.trigger.Key, r.data)
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrExtraction, err)
	}
	chunks, err := p.splitter.Split(r.trigger.DocumentID, pages)
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrExtraction, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %s produced no chunks", failure.ErrEmptyDocument, r.trigger.Key)
	}
	r.chunks = chunks
	r.data = nil
	return nil
}

func (p *Pipeline) embed(ctx context.Context, r *run) error {
	probe, err := p.embedder.Embed(ctx, ProbeText)
	if err != nil {
		return fmt.Errorf("embedding model probe failed: %w", err)
	}
	if len(probe) == 0 {
		return fmt.Errorf("%w: model %s returned an empty probe vector", failure.ErrEmbedding, p.embedder.Model())
	}

	texts := make([]string, len(r.chunks))
	for i, c := range r.chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	r.vectors = vectors
	return nil
}

func (p *Pipeline) build(ctx context.Context, r *run) error {
	idx, err := vectorindex.Build(r.chunks, r.vectors, p.embedder.Model())
	if err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	r.index = idx
	return nil
}

// persist flips the status to READY only after both snapshot objects are written.
func (p *Pipeline) persist(ctx context.Context, r *run) error {
	location := vectorindex.Location(r.trigger.UserID, r.trigger.Key)
	if err := p.indexes.Persist(ctx, r.index, location); err != nil {
		return err
	}
	return p.status.SetStatus(ctx, r.trigger.UserID, r.trigger.DocumentID, document.StatusReady)
}

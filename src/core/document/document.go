package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docchat/src/core/failure"
	"docchat/src/log"
)

// Status defines the processing status of a document
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusError      Status = "ERROR"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidStatus    = errors.New("invalid document status")
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// Record is the status row kept for every uploaded document
type Record struct {
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId"`
	SourceKey  string    `json:"sourceKey"`
	Status     Status    `json:"status"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store defines the persistence operations for document records
type Store interface {
	// WriteStatus overwrites the status of a single record, creating the row if needed
	WriteStatus(ctx context.Context, userID, documentID string, status Status) error
	Create(ctx context.Context, record *Record) error
	// Get returns ErrDocumentNotFound when no record exists
	Get(ctx context.Context, userID, documentID string) (*Record, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
}

// Tracker records and transitions document processing status.
// Writes are unconditional overwrites and are never retried here.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) SetStatus(ctx context.Context, userID, documentID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	log.Info("Setting document status", "status", status, "user_id", userID, "document_id", documentID)
	if err := t.store.WriteStatus(ctx, userID, documentID, status); err != nil {
		return fmt.Errorf("%w: failed to set status %s for document %s: %w", failure.ErrIO, status, documentID, err)
	}
	return nil
}

// Register creates a new record in PROCESSING state before its ingestion trigger is sent.
func (t *Tracker) Register(ctx context.Context, userID, documentID, sourceKey string) (*Record, error) {
	record := &Record{
		UserID:     userID,
		DocumentID: documentID,
		SourceKey:  sourceKey,
		Status:     StatusProcessing,
	}
	if err := t.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: failed to create document record: %w", failure.ErrIO, err)
	}
	return record, nil
}

func (t *Tracker) Get(ctx context.Context, userID, documentID string) (*Record, error) {
	record, err := t.store.Get(ctx, userID, documentID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to get document record: %w", failure.ErrIO, err)
	}
	return record, nil
}

func (t *Tracker) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	records, err := t.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list documents: %w", failure.ErrIO, err)
	}
	return records, nil
}

package documentctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/src/core/document"
)

type Document struct {
	UserID     string    `gorm:"primaryKey;column:user_id" json:"user_id"`
	DocumentID string    `gorm:"primaryKey;column:document_id" json:"document_id"`
	SourceKey  string    `gorm:"not null;column:source_key" json:"source_key"` // object name in the document bucket
	Status     string    `gorm:"not null;size:16" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

type DocumentService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

var _ document.Store = (*DocumentService)(nil)

// NewDocumentService creates the store. nodeID must be unique per running replica.
func NewDocumentService(db *gorm.DB, nodeID int64) (*DocumentService, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	return &DocumentService{
		db:        db,
		snowflake: node,
	}, nil
}

// NewDocumentID returns a fresh, time-ordered document id
func (s *DocumentService) NewDocumentID() string {
	return s.snowflake.Generate().String()
}

// WriteStatus upserts the status; the source key of an existing row is kept.
func (s *DocumentService) WriteStatus(ctx context.Context, userID, documentID string, status document.Status) error {
	row := &Document{
		UserID:     userID,
		DocumentID: documentID,
		Status:     string(status),
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("failed to write document status: %w", result.Error)
	}
	return nil
}

func (s *DocumentService) Create(ctx context.Context, record *document.Record) error {
	row := &Document{
		UserID:     record.UserID,
		DocumentID: record.DocumentID,
		SourceKey:  record.SourceKey,
		Status:     string(record.Status),
	}

	result := s.db.WithContext(ctx).Create(row)
	if result.Error != nil {
		return fmt.Errorf("failed to create document: %w", result.Error)
	}
	record.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *DocumentService) Get(ctx context.Context, userID, documentID string) (*document.Record, error) {
	var row Document
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userID, documentID).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, document.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", result.Error)
	}

	record := row.toRecord()
	return &record, nil
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]document.Record, error) {
	var rows []Document
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("document_id").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list documents: %w", result.Error)
	}

	records := make([]document.Record, len(rows))
	for i, row := range rows {
		records[i] = row.toRecord()
	}
	return records, nil
}

func (d Document) toRecord() document.Record {
	return document.Record{
		UserID:     d.UserID,
		DocumentID: d.DocumentID,
		SourceKey:  d.SourceKey,
		Status:     document.Status(d.Status),
		UpdatedAt:  d.UpdatedAt,
	}
}

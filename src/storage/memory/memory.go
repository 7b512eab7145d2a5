// Package memory provides in-process implementations of the external stores.
// They back the package tests and single-process development runs; each
// exposes hook functions to inject failures.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"docchat/src/core/conversation"
	"docchat/src/core/document"
	"docchat/src/storage/blob"
)

// BlobStore is an in-memory blob.Store.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string

	// OnGet and OnPut run before the operation; a non-nil error aborts it.
	OnGet func(bucketName, objectName string) error
	OnPut func(bucketName, objectName string) error
}

var _ blob.Store = (*BlobStore)(nil)

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (s *BlobStore) GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	if s.OnGet != nil {
		if err := s.OnGet(bucketName, objectName); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucketName+"/"+objectName]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucketName, objectName, blob.ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (s *BlobStore) PutObject(ctx context.Context, bucketName, objectName string, data []byte) error {
	if s.OnPut != nil {
		if err := s.OnPut(bucketName, objectName); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucketName+"/"+objectName] = slices.Clone(data)
	s.puts = append(s.puts, bucketName+"/"+objectName)
	return nil
}

// Delete removes an object, mainly to simulate partial snapshots.
func (s *BlobStore) Delete(bucketName, objectName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucketName+"/"+objectName)
}

// Keys lists stored "bucket/object" keys in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts lists every successful put in call order.
func (s *BlobStore) Puts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.puts)
}

// DocumentStore is an in-memory document.Store that also records every status write.
type DocumentStore struct {
	mu      sync.Mutex
	records map[string]document.Record
	writes  map[string][]document.Status

	OnWriteStatus func(userID, documentID string, status document.Status) error
}

var _ document.Store = (*DocumentStore)(nil)

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		records: make(map[string]document.Record),
		writes:  make(map[string][]document.Status),
	}
}

func documentKey(userID, documentID string) string {
	return userID + "/" + documentID
}

func (s *DocumentStore) WriteStatus(ctx context.Context, userID, documentID string, status document.Status) error {
	if s.OnWriteStatus != nil {
		if err := s.OnWriteStatus(userID, documentID, status); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := documentKey(userID, documentID)
	record := s.records[key]
	record.UserID = userID
	record.DocumentID = documentID
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	s.records[key] = record
	s.writes[key] = append(s.writes[key], status)
	return nil
}

func (s *DocumentStore) Create(ctx context.Context, record *document.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.UpdatedAt = time.Now().UTC()
	s.records[documentKey(record.UserID, record.DocumentID)] = *record
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, userID, documentID string) (*document.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[documentKey(userID, documentID)]
	if !ok {
		return nil, document.ErrDocumentNotFound
	}
	return &record, nil
}

func (s *DocumentStore) ListByUser(ctx context.Context, userID string) ([]document.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []document.Record
	for _, r := range s.records {
		if r.UserID == userID {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DocumentID < records[j].DocumentID })
	return records, nil
}

// Transitions returns every status written for the document, oldest first.
func (s *DocumentStore) Transitions(userID, documentID string) []document.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.writes[documentKey(userID, documentID)])
}

// TurnStore is an in-memory conversation.Store.
type TurnStore struct {
	mu    sync.Mutex
	turns map[string][]conversation.Turn

	OnAppend func(turn *conversation.Turn) error
}

var _ conversation.Store = (*TurnStore)(nil)

func NewTurnStore() *TurnStore {
	return &TurnStore{turns: make(map[string][]conversation.Turn)}
}

func (s *TurnStore) AppendTurn(ctx context.Context, turn *conversation.Turn) error {
	if s.OnAppend != nil {
		if err := s.OnAppend(turn); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.ConversationID] = append(s.turns[turn.ConversationID], *turn)
	return nil
}

func (s *TurnStore) ListTurns(ctx context.Context, conversationID string) ([]conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns[conversationID]), nil
}

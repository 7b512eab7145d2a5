package document_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/src/core/document"
	"docchat/src/core/failure"
	"docchat/src/storage/memory"
)

func TestTrackerSetStatusOverwrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDocumentStore()
	tracker := document.NewTracker(store)

	require.NoError(t, tracker.SetStatus(ctx, "u1", "d1", document.StatusProcessing))
	require.NoError(t, tracker.SetStatus(ctx, "u1", "d1", document.StatusReady))

	record, err := tracker.Get(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, document.StatusReady, record.Status)
	assert.Equal(t, []document.Status{document.StatusProcessing, document.StatusReady}, store.Transitions("u1", "d1"))
}

func TestTrackerRejectsUnknownStatus(t *testing.T) {
	store := memory.NewDocumentStore()
	tracker := document.NewTracker(store)

	err := tracker.SetStatus(context.Background(), "u1", "d1", document.Status("DONE"))
	require.ErrorIs(t, err, document.ErrInvalidStatus)
	assert.Empty(t, store.Transitions("u1", "d1"))
}

func TestTrackerWriteFailureIsIOError(t *testing.T) {
	store := memory.NewDocumentStore()
	store.OnWriteStatus = func(userID, documentID string, status document.Status) error {
		return errors.New("connection refused")
	}
	tracker := document.NewTracker(store)

	err := tracker.SetStatus(context.Background(), "u1", "d1", document.StatusError)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrIO)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTrackerRegisterAndList(t *testing.T) {
	ctx := context.Background()
	tracker := document.NewTracker(memory.NewDocumentStore())

	record, err := tracker.Register(ctx, "u1", "d2", "u1/d2/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, document.StatusProcessing, record.Status)

	_, err = tracker.Register(ctx, "u1", "d1", "u1/d1/notes.txt")
	require.NoError(t, err)
	_, err = tracker.Register(ctx, "u2", "d3", "u2/d3/other.txt")
	require.NoError(t, err)

	records, err := tracker.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "d1", records[0].DocumentID)
	assert.Equal(t, "u1/d2/report.pdf", records[1].SourceKey)
}

func TestTrackerGetMissing(t *testing.T) {
	tracker := document.NewTracker(memory.NewDocumentStore())
	_, err := tracker.Get(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, document.ErrDocumentNotFound)
}

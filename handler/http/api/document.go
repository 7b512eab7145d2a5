package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"docchat/src/core/document"
	"docchat/src/core/failure"
	"docchat/src/core/ingestion"
	"docchat/src/log"
)

// MaxUploadBytes bounds a single document upload
const MaxUploadBytes = 64 << 20

type uploadResponse struct {
	DocumentID string          `json:"documentId"`
	FileName   string          `json:"fileName"`
	Key        string          `json:"key"`
	Status     document.Status `json:"status"`
}

// UploadDocument godoc
// @Summary Upload a document and start its ingestion
// @Tags documents
// @Accept multipart/form-data
// @Param file formData file true "Document file"
// @Produce json
// @Success 202 {object} uploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /documents [post]
func (h *Handler) UploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		sendError(c, fmt.Errorf("%w: file upload required: %w", errBadRequest, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, fmt.Errorf("%w: failed to read file: %w", errBadRequest, err))
		return
	}
	fileName := filepath.Base(header.Filename)
	if len(data) == 0 || fileName == "." || fileName == string(filepath.Separator) {
		sendError(c, fmt.Errorf("%w: empty file", errBadRequest))
		return
	}

	ctx := c.Request.Context()
	user := userID(c)
	documentID := h.deps.NewDocumentID()
	key := fmt.Sprintf("%s/%s/%s", user, documentID, fileName)

	if err := h.deps.Objects.PutObject(ctx, h.deps.DocumentBucket, key, data); err != nil {
		sendError(c, fmt.Errorf("%w: failed to store upload: %w", failure.ErrIO, err))
		return
	}
	record, err := h.deps.Documents.Register(ctx, user, documentID, key)
	if err != nil {
		sendError(c, err)
		return
	}

	trigger := ingestion.Trigger{DocumentID: documentID, UserID: user, Key: key}
	if err := h.deps.Publisher.EnqueueTrigger(ctx, trigger); err != nil {
		h.markFailed(ctx, user, documentID)
		sendError(c, fmt.Errorf("%w: %w", failure.ErrIO, err))
		return
	}

	sendJSON(c, http.StatusAccepted, uploadResponse{
		DocumentID: documentID,
		FileName:   fileName,
		Key:        key,
		Status:     record.Status,
	})
}

// markFailed keeps a record whose trigger was never sent from staying PROCESSING
func (h *Handler) markFailed(ctx context.Context, user, documentID string) {
	if err := h.deps.Documents.SetStatus(context.WithoutCancel(ctx), user, documentID, document.StatusError); err != nil {
		log.Error(err, "Failed to record ERROR status", "user_id", user, "document_id", documentID)
	}
}

// GetDocument godoc
// @Summary Get the processing status of a document
// @Tags documents
// @Param documentId path string true "Document ID"
// @Produce json
// @Success 200 {object} document.Record
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /documents/{documentId} [get]
func (h *Handler) GetDocument(c *gin.Context) {
	record, err := h.deps.Documents.Get(c.Request.Context(), userID(c), c.Param("documentId"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, record)
}

package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docchat/src/core/answering"
	"docchat/src/core/conversation"
)

type answerRequest struct {
	FileName string `json:"fileName" binding:"required"`
	Prompt   string `json:"prompt" binding:"required"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

type historyResponse struct {
	ConversationID string              `json:"conversationId"`
	Turns          []conversation.Turn `json:"turns"`
}

// Answer godoc
// @Summary Answer a question about an uploaded document
// @Tags conversations
// @Accept json
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Param body body answerRequest true "File name and prompt"
// @Success 200 {object} answerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /conversations/{conversationId}/answer [post]
func (h *Handler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	answer, err := h.deps.Answerer.Answer(c.Request.Context(), answering.Request{
		UserID:         userID(c),
		SourceKey:      req.FileName,
		ConversationID: c.Param("conversationId"),
		Prompt:         req.Prompt,
	})
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, answerResponse{Answer: answer})
}

// GetHistory godoc
// @Summary List the turns of a conversation
// @Tags conversations
// @Produce json
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} historyResponse
// @Failure 503 {object} ErrorResponse
// @Router /conversations/{conversationId}/history [get]
func (h *Handler) GetHistory(c *gin.Context) {
	id := c.Param("conversationId")
	turns, err := h.deps.History.History(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	sendJSON(c, http.StatusOK, historyResponse{ConversationID: id, Turns: turns})
}

// CreateConversation godoc
// @Summary Allocate a new conversation id
// @Tags conversations
// @Produce json
// @Success 201 {object} map[string]string
// @Router /conversations [post]
func (h *Handler) CreateConversation(c *gin.Context) {
	sendJSON(c, http.StatusCreated, gin.H{"conversationId": uuid.NewString()})
}

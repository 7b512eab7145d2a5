package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/src/core/answering"
	"docchat/src/core/conversation"
	"docchat/src/core/document"
	"docchat/src/core/embedding"
	"docchat/src/core/failure"
	"docchat/src/core/ingestion"
	"docchat/src/log"
)

// UserHeader carries the caller identity set by the upstream authorizer
const UserHeader = "X-User-Id"

const userKey = "userID"

var ErrMissingUser = errors.New("missing user identity")

type Answerer interface {
	Answer(ctx context.Context, req answering.Request) (string, error)
}

type HistoryReader interface {
	History(ctx context.Context, conversationID string) ([]conversation.Turn, error)
}

type DocumentTracker interface {
	Register(ctx context.Context, userID, documentID, sourceKey string) (*document.Record, error)
	SetStatus(ctx context.Context, userID, documentID string, status document.Status) error
	Get(ctx context.Context, userID, documentID string) (*document.Record, error)
}

type ObjectWriter interface {
	PutObject(ctx context.Context, bucketName, objectName string, data []byte) error
}

type TriggerPublisher interface {
	EnqueueTrigger(ctx context.Context, trigger ingestion.Trigger) error
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies groups the services the handler calls
type Dependencies struct {
	Answerer       Answerer
	History        HistoryReader
	Documents      DocumentTracker
	Objects        ObjectWriter
	DocumentBucket string
	Publisher      TriggerPublisher
	NewDocumentID  func() string
	HealthChecks   map[string]HealthCheck
}

type Handler struct {
	deps Dependencies
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(CORS())

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.CheckHealth)

	user := v1.Group("", RequireUser())

	// Document routes
	user.POST("/documents", h.UploadDocument)
	user.GET("/documents/:documentId", h.GetDocument)

	// Conversation routes
	user.POST("/conversations", h.CreateConversation)
	user.POST("/conversations/:conversationId/answer", h.Answer)
	user.GET("/conversations/:conversationId/history", h.GetHistory)
}

// CORS answers every response with permissive headers and short-circuits preflight requests
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireUser rejects requests without the user header
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserHeader)
		if userID == "" {
			sendError(c, ErrMissingUser)
			c.Abort()
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

// Common error response structure
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const (
	codeBadRequest       = "BAD_REQUEST"
	codeUnauthorized     = "UNAUTHORIZED"
	codeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	codeInvalidInput     = "INVALID_INPUT"
)

var errBadRequest = errors.New("bad request")

func sendError(c *gin.Context, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, ErrMissingUser):
		status, code = http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, errBadRequest), errors.Is(err, answering.ErrInvalidRequest), errors.Is(err, ingestion.ErrInvalidTrigger):
		status, code = http.StatusBadRequest, codeBadRequest
	case errors.Is(err, embedding.ErrModelInput):
		// the caller's prompt was rejected before reaching the model
		status, code = http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, document.ErrDocumentNotFound):
		status, code = http.StatusNotFound, codeDocumentNotFound
	default:
		code = failure.Kind(err)
		status = statusFor(code)
	}

	if status >= http.StatusInternalServerError {
		log.Error(err, "Request failed", "path", c.FullPath(), "code", code)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func statusFor(code string) int {
	switch code {
	case failure.KindIndexNotFound:
		return http.StatusNotFound
	case failure.KindIndexCorrupt, failure.KindModelMismatch:
		return http.StatusConflict
	case failure.KindEmbedding:
		return http.StatusBadGateway
	case failure.KindIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}

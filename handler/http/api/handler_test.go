package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/handler/http/api"
	"docchat/src/core/answering"
	"docchat/src/core/conversation"
	"docchat/src/core/document"
	"docchat/src/core/embedding"
	"docchat/src/core/failure"
	"docchat/src/core/ingestion"
	"docchat/src/log"
	"docchat/src/storage/memory"
)

type stubAnswerer struct {
	answer string
	err    error
	got    answering.Request
}

func (s *stubAnswerer) Answer(ctx context.Context, req answering.Request) (string, error) {
	s.got = req
	return s.answer, s.err
}

type stubPublisher struct {
	err      error
	triggers []ingestion.Trigger
}

func (s *stubPublisher) EnqueueTrigger(ctx context.Context, t ingestion.Trigger) error {
	if s.err != nil {
		return s.err
	}
	s.triggers = append(s.triggers, t)
	return nil
}

type env struct {
	router    *gin.Engine
	answerer  *stubAnswerer
	publisher *stubPublisher
	blobs     *memory.BlobStore
	docs      *memory.DocumentStore
	turns     *memory.TurnStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log.SetLogger(testr.New(t))

	e := &env{
		router:    gin.New(),
		answerer:  &stubAnswerer{answer: "42"},
		publisher: &stubPublisher{},
		blobs:     memory.NewBlobStore(),
		docs:      memory.NewDocumentStore(),
		turns:     memory.NewTurnStore(),
	}
	handler := api.NewHandler(api.Dependencies{
		Answerer:       e.answerer,
		History:        conversation.NewMemory(e.turns),
		Documents:      document.NewTracker(e.docs),
		Objects:        e.blobs,
		DocumentBucket: "documents",
		Publisher:      e.publisher,
		NewDocumentID:  func() string { return "1001" },
		HealthChecks: map[string]api.HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		},
	})
	handler.RegisterRoutes(e.router)
	return e
}

func (e *env) do(method, path, user string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func assertCORS(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	for _, h := range []string{"Access-Control-Allow-Headers", "Access-Control-Allow-Origin", "Access-Control-Allow-Methods"} {
		assert.Equal(t, "*", w.Header().Get(h), h)
	}
}

func TestAnswer(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/api/v1/conversations/c1/answer", "u1",
		[]byte(`{"fileName":"report.pdf","prompt":"What is it?"}`), "application/json")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assertCORS(t, w)
	assert.Equal(t, map[string]string{"answer": "42"}, decode[map[string]string](t, w))
	assert.Equal(t, answering.Request{UserID: "u1", SourceKey: "report.pdf", ConversationID: "c1", Prompt: "What is it?"}, e.answerer.got)
}

func TestAnswerErrors(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "no user", body: `{"fileName":"a.pdf","prompt":"q"}`, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "bad json", user: "u1", body: `{`, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "missing prompt", user: "u1", body: `{"fileName":"a.pdf"}`, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "index not found", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: fmt.Errorf("%w: u1/a.pdf/", failure.ErrIndexNotFound), wantStatus: http.StatusNotFound, wantCode: failure.KindIndexNotFound},
		{name: "index corrupt", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: failure.ErrIndexCorrupt, wantStatus: http.StatusConflict, wantCode: failure.KindIndexCorrupt},
		{name: "model mismatch", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: failure.ErrModelMismatch, wantStatus: http.StatusConflict, wantCode: failure.KindModelMismatch},
		{name: "prompt too long", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: fmt.Errorf("%w: 9000 characters exceeds limit of 8000", embedding.ErrModelInput), wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "llm", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: fmt.Errorf("%w: timeout", failure.ErrLLM), wantStatus: http.StatusBadGateway, wantCode: "MODEL_ERROR"},
		{name: "history store", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: failure.ErrIO, wantStatus: http.StatusServiceUnavailable, wantCode: failure.KindIO},
		{name: "unexpected", user: "u1", body: `{"fileName":"a.pdf","prompt":"q"}`, err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: failure.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.answerer.err = tt.err

			w := e.do(http.MethodPost, "/api/v1/conversations/c1/answer", tt.user, []byte(tt.body), "application/json")

			assert.Equal(t, tt.wantStatus, w.Code)
			assertCORS(t, w)
			resp := decode[api.ErrorResponse](t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPreflight(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodOptions, "/api/v1/conversations/c1/answer", "", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assertCORS(t, w)
}

func TestUploadDocument(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "../report.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 body"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := e.do(http.MethodPost, "/api/v1/documents", "u1", body.Bytes(), mw.FormDataContentType())

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "1001", resp["documentId"])
	assert.Equal(t, "u1/1001/report.pdf", resp["key"])
	assert.Equal(t, "PROCESSING", resp["status"])

	assert.Equal(t, []string{"documents/u1/1001/report.pdf"}, e.blobs.Keys())
	assert.Equal(t, []ingestion.Trigger{{DocumentID: "1001", UserID: "u1", Key: "u1/1001/report.pdf"}}, e.publisher.triggers)

	w = e.do(http.MethodGet, "/api/v1/documents/1001", "u1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PROCESSING", decode[map[string]any](t, w)["status"])
}

func TestUploadDocumentPublishFailure(t *testing.T) {
	e := newEnv(t)
	e.publisher.err = errors.New("broker down")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	w := e.do(http.MethodPost, "/api/v1/documents", "u1", body.Bytes(), mw.FormDataContentType())

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, []document.Status{document.StatusError}, e.docs.Transitions("u1", "1001"))
}

func TestUploadDocumentWithoutFile(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/v1/documents", "u1", []byte("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDocumentNotFound(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/v1/documents/404", "u1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", decode[api.ErrorResponse](t, w).Code)
}

func TestConversationRoutes(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/api/v1/conversations", "u1", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[map[string]string](t, w)["conversationId"]
	assert.Len(t, id, 36)

	mem := conversation.NewMemory(e.turns)
	require.NoError(t, mem.Append(context.Background(), id, conversation.RoleUser, "hi"))
	require.NoError(t, mem.Append(context.Background(), id, conversation.RoleAssistant, "hello"))

	w = e.do(http.MethodGet, "/api/v1/conversations/"+id+"/history", "u1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ConversationID string              `json:"conversationId"`
		Turns          []conversation.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, conversation.RoleUser, resp.Turns[0].Role)

	w = e.do(http.MethodGet, "/api/v1/conversations/unknown/history", "u1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"turns":[]`)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/v1/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}

func TestHealthDegraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.NewHandler(api.Dependencies{HealthChecks: map[string]api.HealthCheck{
		"minio": func(ctx context.Context) error { return errors.New("bucket missing") },
	}}).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "bucket missing")
}

package answering

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"docchat/src/core/conversation"
	"docchat/src/core/failure"
	"docchat/src/core/vectorindex"
	"docchat/src/log"
)

var ErrInvalidRequest = errors.New("invalid answer request")

var answerTmpl = template.Must(template.New("answer").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(AnswerPromptTmpl))

// Request asks one question against the index of a user's document
type Request struct {
	UserID         string
	SourceKey      string
	ConversationID string
	Prompt         string
}

func (r Request) Validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	case r.SourceKey == "":
		return fmt.Errorf("%w: missing file name", ErrInvalidRequest)
	case r.ConversationID == "":
		return fmt.Errorf("%w: missing conversation id", ErrInvalidRequest)
	case strings.TrimSpace(r.Prompt) == "":
		return fmt.Errorf("%w: missing prompt", ErrInvalidRequest)
	}
	return nil
}

type IndexLoader interface {
	Load(ctx context.Context, location string) (*vectorindex.Index, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type Memory interface {
	Append(ctx context.Context, conversationID string, role conversation.Role, content string) error
	History(ctx context.Context, conversationID string) ([]conversation.Turn, error)
}

// LLM generates a completion. Implementations wrap failures with failure.ErrLLM.
type LLM interface {
	Generate(ctx context.Context, system, prompt string, temperature float64) (string, error)
}

type Service struct {
	indexes     IndexLoader
	embedder    Embedder
	memory      Memory
	llm         LLM
	topK        int
	temperature float64
}

func NewService(indexes IndexLoader, embedder Embedder, memory Memory, llm LLM, topK int, temperature float64) *Service {
	if topK <= 0 {
		topK = vectorindex.DefaultTopK
	}
	return &Service{
		indexes:     indexes,
		embedder:    embedder,
		memory:      memory,
		llm:         llm,
		topK:        topK,
		temperature: temperature,
	}
}

type promptData struct {
	Chunks   []vectorindex.Chunk
	History  []conversation.Turn
	Question string
}

// Answer returns a grounded answer and records the exchange in the conversation.
// Turns are appended only after generation succeeded, user turn first.
func (s *Service) Answer(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	logger := log.WithValues("user_id", req.UserID, "conversation_id", req.ConversationID, "file", req.SourceKey)

	idx, err := s.indexes.Load(ctx, vectorindex.Location(req.UserID, req.SourceKey))
	if err != nil {
		return "", err
	}
	if idx.Model() != s.embedder.Model() {
		return "", fmt.Errorf("%w: index built with %q, service uses %q", failure.ErrModelMismatch, idx.Model(), s.embedder.Model())
	}

	vector, err := s.embedder.Embed(ctx, req.Prompt)
	if err != nil {
		return "", err
	}
	chunks, err := idx.Query(vector, s.topK)
	if err != nil {
		return "", err
	}

	history, err := s.memory.History(ctx, req.ConversationID)
	if err != nil {
		return "", err
	}

	prompt, err := renderPrompt(promptData{Chunks: chunks, History: history, Question: req.Prompt})
	if err != nil {
		return "", err
	}
	logger.V(1).Info("Generating answer", "chunks", len(chunks), "turns", len(history))

	answer, err := s.llm.Generate(ctx, SystemMessage, prompt, s.temperature)
	if err != nil {
		return "", err
	}

	if err := s.memory.Append(ctx, req.ConversationID, conversation.RoleUser, req.Prompt); err != nil {
		return "", err
	}
	if err := s.memory.Append(ctx, req.ConversationID, conversation.RoleAssistant, answer); err != nil {
		return "", err
	}

	logger.Info("Answered question", "chunks", len(chunks))
	return answer, nil
}

func renderPrompt(data promptData) (string, error) {
	var buf bytes.Buffer
	if err := answerTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute answer template: %w", err)
	}
	return buf.String(), nil
}

package turnstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"docchat/src/core/conversation"
)

const (
	DefaultIndex = "conversation-turns"

	pageSize = 500
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "seq":             {"type": "long"},
      "conversation_id": {"type": "keyword"},
      "role":            {"type": "keyword"},
      "content":         {"type": "text", "index": false},
      "created_at":      {"type": "date"}
    }
  }
}`

type turnDoc struct {
	Seq            int64     `json:"seq"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source turnDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Store keeps conversation turns in an Elasticsearch index.
// Appends are indexed with refresh=wait_for so they are visible to the next read.
type Store struct {
	es        *elasticsearch.Client
	index     string
	snowflake *snowflake.Node
}

var _ conversation.Store = (*Store)(nil)

// NewStore creates the store. nodeID seeds the snowflake seq and must be unique per replica.
func NewStore(es *elasticsearch.Client, index string, nodeID int64) (*Store, error) {
	if index == "" {
		index = DefaultIndex
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Store{es: es, index: index, snowflake: node}, nil
}

func NewClient(url string) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return es, nil
}

// EnsureIndex creates the index with its mapping if it does not exist yet
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	return check(res, "create index")
}

func (s *Store) AppendTurn(ctx context.Context, turn *conversation.Turn) error {
	body, err := json.Marshal(turnDoc{
		Seq:            s.snowflake.Generate().Int64(),
		ConversationID: turn.ConversationID,
		Role:           string(turn.Role),
		Content:        turn.Content,
		CreatedAt:      turn.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	res, err := s.es.Index(s.index, bytes.NewReader(body),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("failed to index turn: %w", err)
	}
	return check(res, "index turn")
}

func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]conversation.Turn, error) {
	var (
		turns []conversation.Turn
		after []any
	)
	for {
		query := map[string]any{
			"size":  pageSize,
			"query": map[string]any{"term": map[string]any{"conversation_id": conversationID}},
			"sort":  []any{map[string]any{"seq": "asc"}},
		}
		if after != nil {
			query["search_after"] = after
		}
		body, err := json.Marshal(query)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query: %w", err)
		}

		res, err := s.es.Search(
			s.es.Search.WithContext(ctx),
			s.es.Search.WithIndex(s.index),
			s.es.Search.WithBody(bytes.NewReader(body)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to search turns: %w", err)
		}
		// a missing index has no history yet
		if res.StatusCode == http.StatusNotFound {
			res.Body.Close()
			return turns, nil
		}

		var page searchResponse
		if err := decode(res, &page); err != nil {
			return nil, err
		}
		for _, hit := range page.Hits.Hits {
			turns = append(turns, conversation.Turn{
				ConversationID: hit.Source.ConversationID,
				Role:           conversation.Role(hit.Source.Role),
				Content:        hit.Source.Content,
				CreatedAt:      hit.Source.CreatedAt,
			})
		}
		if len(page.Hits.Hits) < pageSize {
			return turns, nil
		}
		// search_after carries the exact int64 seq of the last hit
		after = []any{page.Hits.Hits[len(page.Hits.Hits)-1].Source.Seq}
	}
}

func check(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("failed to %s: %s: %s", op, res.Status(), msg)
	}
	return nil
}

func decode(res *esapi.Response, v any) error {
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("failed to search turns: %s: %s", res.Status(), msg)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode search response: %w", err)
	}
	return nil
}

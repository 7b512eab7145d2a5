package turnstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/src/core/conversation"
	"docchat/src/storage/elastic/turnstore"
)

type storedDoc struct {
	source json.RawMessage
	seq    int64
	conv   string
}

// fakeES implements the handful of endpoints the store calls. Search honours
// size and search_after on the seq sort key.
type fakeES struct {
	mu       sync.Mutex
	created  bool
	docs     []storedDoc
	refresh  []string
	searches int
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead:
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && !strings.Contains(r.URL.Path, "_doc"):
		f.created = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(r.URL.Path, "/_doc"):
		raw, _ := io.ReadAll(r.Body)
		var doc struct {
			Seq            int64  `json:"seq"`
			ConversationID string `json:"conversation_id"`
		}
		_ = json.Unmarshal(raw, &doc)
		f.docs = append(f.docs, storedDoc{source: raw, seq: doc.Seq, conv: doc.ConversationID})
		f.refresh = append(f.refresh, r.URL.Query().Get("refresh"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		f.searches++
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
			return
		}
		var query struct {
			Size  int `json:"size"`
			Query struct {
				Term map[string]string `json:"term"`
			} `json:"query"`
			SearchAfter []int64 `json:"search_after"`
		}
		_ = json.NewDecoder(r.Body).Decode(&query)

		var matched []storedDoc
		for _, doc := range f.docs {
			if doc.conv != query.Query.Term["conversation_id"] {
				continue
			}
			if len(query.SearchAfter) > 0 && doc.seq <= query.SearchAfter[0] {
				continue
			}
			matched = append(matched, doc)
		}
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
		if query.Size > 0 && len(matched) > query.Size {
			matched = matched[:query.Size]
		}

		hits := make([]map[string]any, 0, len(matched))
		for _, doc := range matched {
			hits = append(hits, map[string]any{"_source": doc.source, "sort": []int64{doc.seq}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	default:
		http.NotFound(w, r)
	}
}

func newStore(t *testing.T) (*turnstore.Store, *fakeES) {
	t.Helper()
	fake := &fakeES{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	es, err := turnstore.NewClient(srv.URL)
	require.NoError(t, err)
	store, err := turnstore.NewStore(es, "", 7)
	require.NoError(t, err)
	return store, fake
}

func TestListTurnsWithoutIndex(t *testing.T) {
	store, _ := newStore(t)

	turns, err := store.ListTurns(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAppendAndListTurns(t *testing.T) {
	store, fake := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureIndex(ctx))
	require.NoError(t, store.EnsureIndex(ctx))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	appended := []conversation.Turn{
		{ConversationID: "c1", Role: conversation.RoleUser, Content: "hi", CreatedAt: now},
		{ConversationID: "c2", Role: conversation.RoleUser, Content: "other", CreatedAt: now},
		{ConversationID: "c1", Role: conversation.RoleAssistant, Content: "hello", CreatedAt: now},
	}
	for i := range appended {
		require.NoError(t, store.AppendTurn(ctx, &appended[i]))
	}

	turns, err := store.ListTurns(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Turn{appended[0], appended[2]}, turns)
	assert.Equal(t, []string{"wait_for", "wait_for", "wait_for"}, fake.refresh)
	assert.Equal(t, 1, fake.searches)
}

func TestListTurnsPagesPastFirstPage(t *testing.T) {
	store, fake := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureIndex(ctx))

	const total = 520
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < total; i++ {
		turn := conversation.Turn{ConversationID: "long", Role: conversation.RoleUser, Content: fmt.Sprintf("turn %d", i), CreatedAt: now}
		require.NoError(t, store.AppendTurn(ctx, &turn))
	}

	turns, err := store.ListTurns(ctx, "long")
	require.NoError(t, err)
	require.Len(t, turns, total)
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("turn %d", i), turn.Content)
	}
	assert.Equal(t, 2, fake.searches)
}

func TestAppendTurnUsesConfiguredNode(t *testing.T) {
	store, fake := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureIndex(ctx))

	turn := conversation.Turn{ConversationID: "c1", Role: conversation.RoleUser, Content: "hi"}
	require.NoError(t, store.AppendTurn(ctx, &turn))

	require.Len(t, fake.docs, 1)
	assert.Equal(t, int64(7), snowflake.ParseInt64(fake.docs[0].seq).Node())
}

func TestNewStoreRejectsInvalidNode(t *testing.T) {
	es, err := turnstore.NewClient("http://localhost:9200")
	require.NoError(t, err)

	_, err = turnstore.NewStore(es, "", 1024)
	assert.Error(t, err)
}

package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

type recorded struct {
	method string
	path   string
	query  string
	apiKey string
	body   map[string]any
}

func newTestStorage(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Storage, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, apiKey: r.Header.Get("api-key")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", APIKey: "secret"}, zaptest.NewLogger(t)), &calls
}

func TestStorage_ListCollections(t *testing.T) {
	s, calls := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":{"collections":[{"name":"documents"},{"name":"other"}]},"status":"ok"}`)
	})

	names, err := s.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"documents", "other"}, names)
	require.Len(t, *calls, 1)
	assert.Equal(t, "/collections", (*calls)[0].path)
	assert.Equal(t, "secret", (*calls)[0].apiKey)
}

func TestStorage_CollectionInfo(t *testing.T) {
	s, _ := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/documents" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":{"error":"Not found: Collection doesn't exist!"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"result":{"status":"green","points_count":42,
			"config":{"params":{"vectors":{"size":768,"distance":"Cosine"}}}}}`)
	})

	info, err := s.CollectionInfo(context.Background(), "documents")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.CollectionInfo{VectorSize: 768, Distance: vectorstore.Cosine, PointCount: 42}, info)

	_, err = s.CollectionInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestStorage_CreateAndDeleteCollection(t *testing.T) {
	s, calls := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":true}`)
	})
	ctx := context.Background()

	require.NoError(t, s.CreateCollection(ctx, "documents", 1024, vectorstore.Cosine))
	require.NoError(t, s.DeleteCollection(ctx, "documents"))
	assert.Error(t, s.CreateCollection(ctx, "documents", 0, vectorstore.Cosine))

	require.Len(t, *calls, 2)
	create := (*calls)[0]
	assert.Equal(t, http.MethodPut, create.method)
	assert.Equal(t, "/collections/documents", create.path)
	assert.Equal(t, map[string]any{"vectors": map[string]any{"size": 1024.0, "distance": "Cosine"}}, create.body)
	assert.Equal(t, http.MethodDelete, (*calls)[1].method)
}

func TestStorage_UpsertWaitsForPersistence(t *testing.T) {
	s, calls := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":{"status":"completed"}}`)
	})

	err := s.Upsert(context.Background(), "documents", []vectorstore.Point{
		{ID: 7, Vector: []float64{0.1, 0.2}, Payload: map[string]any{"text": "hello", "chunk_index": 0}},
	})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, http.MethodPut, c.method)
	assert.Equal(t, "/collections/documents/points", c.path)
	assert.Equal(t, "wait=true", c.query)
	points := c.body["points"].([]any)
	require.Len(t, points, 1)
	p := points[0].(map[string]any)
	assert.Equal(t, 7.0, p["id"])
	assert.Equal(t, []any{0.1, 0.2}, p["vector"])
	assert.Equal(t, "hello", p["payload"].(map[string]any)["text"])
}

func TestStorage_Search(t *testing.T) {
	s, calls := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":[
			{"id":9223372036854775807,"score":0.91,"payload":{"text":"a","chunk_index":2}},
			{"id":3,"score":0.5,"payload":{"text":"b"}}]}`)
	})

	hits, err := s.Search(context.Background(), "documents", []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(9223372036854775807), hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
	assert.Equal(t, "a", hits[0].Payload["text"])
	assert.Equal(t, uint64(3), hits[1].ID)

	c := (*calls)[0]
	assert.Equal(t, "/collections/documents/points/search", c.path)
	assert.Equal(t, 3.0, c.body["limit"])
	assert.Equal(t, true, c.body["with_payload"])
}

func TestStorage_SearchMissingCollection(t *testing.T) {
	s, _ := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := s.Search(context.Background(), "documents", []float64{1}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestStorage_ErrorsCarryStatus(t *testing.T) {
	s, _ := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":{"error":"wrong input: vector dimension error"}}`)
	})
	err := s.Upsert(context.Background(), "documents", []vectorstore.Point{{ID: 1, Vector: []float64{1}}})
	require.Error(t, err)

	var se *vectorstore.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "qdrant", se.Backend)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, se.Body, "vector dimension error")
}

func TestStorage_MalformedReply(t *testing.T) {
	s, _ := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})
	_, err := s.ListCollections(context.Background())
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestStorage_Health(t *testing.T) {
	healthy := true
	s, _ := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" && healthy {
			_, _ = io.WriteString(w, "healthz check passed")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	assert.NoError(t, s.Health(context.Background()))
	healthy = false
	assert.Error(t, s.Health(context.Background()))
}

func TestStorage_HealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	s := NewStorage(Config{URL: addr}, nil)
	assert.Error(t, s.Health(context.Background()))
}

package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelInfo, "TEST", nil)
}

// newTestServer wraps a handler with the product header the client checks for.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSink(t *testing.T, srv *httptest.Server) *Sink {
	t.Helper()
	sink, err := NewSink([]string{srv.URL}, testLogger(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return sink
}

func TestBulkIndexSubmitsAllDocuments(t *testing.T) {
	t.Parallel()

	var capturedBody string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_bulk", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		capturedBody = string(body)
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	})

	sink := newTestSink(t, srv)

	docs := []forensics.Document{
		{ID: uuid.New(), Source: map[string]any{"PID": "4", "dump_name": "web-server"}},
		{ID: uuid.New(), Source: map[string]any{"PID": "812", "dump_name": "web-server"}},
	}
	err := sink.BulkIndex(context.Background(), "3_pslist.pslist", docs)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(capturedBody, "\n"), "\n")
	require.Len(t, lines, 4, "expected an action and a source line per document")

	var action struct {
		Index struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		} `json:"index"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &action))
	assert.Equal(t, "3_pslist.pslist", action.Index.Index)
	assert.Equal(t, docs[0].ID.String(), action.Index.ID)

	var source map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &source))
	assert.Equal(t, "web-server", source["dump_name"])
}

func TestBulkIndexEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})

	sink := newTestSink(t, srv)
	require.NoError(t, sink.BulkIndex(context.Background(), "3_pslist.pslist", nil))
}

func TestBulkIndexItemizedFailuresAreErrors(t *testing.T) {
	t.Parallel()

	var requests int
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write([]byte(`{
			"errors": true,
			"items": [
				{"index": {"status": 400, "error": {"type": "mapper_parsing_exception", "reason": "failed to parse"}}}
			]
		}`))
	})

	sink := newTestSink(t, srv)

	docs := []forensics.Document{{ID: uuid.New(), Source: map[string]any{"PID": "4"}}}
	err := sink.BulkIndex(context.Background(), "3_pslist.pslist", docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.Equal(t, 1, requests, "itemized failures must not be retried")
}

func TestBulkIndexRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var requests int
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	})

	sink := newTestSink(t, srv)

	docs := []forensics.Document{{ID: uuid.New(), Source: map[string]any{"PID": "4"}}}
	err := sink.BulkIndex(context.Background(), "3_pslist.pslist", docs)
	require.NoError(t, err)
	assert.Equal(t, 3, requests)
}

func TestSetMaxResultWindow(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/3_pslist.pslist/_settings", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"index":{"max_result_window":60000}}`, string(body))
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})

	sink := newTestSink(t, srv)
	require.NoError(t, sink.SetMaxResultWindow(context.Background(), "3_pslist.pslist", 60000))
}

func TestFieldValues(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/3_banners.banners/_search", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"hits": {"hits": [
				{"_source": {"Banner": "Linux version 5.4.0-42-generic"}},
				{"_source": {"Banner": ""}},
				{"_source": {"Offset": "0x1000"}}
			]}
		}`))
	})

	sink := newTestSink(t, srv)
	values, err := sink.FieldValues(context.Background(), "3_banners.banners", "Banner")
	require.NoError(t, err)
	assert.Equal(t, []string{"Linux version 5.4.0-42-generic"}, values)
}

func TestFieldValuesMissingPartition(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
	})

	sink := newTestSink(t, srv)
	values, err := sink.FieldValues(context.Background(), "99_banners.banners", "Banner")
	require.NoError(t, err)
	assert.Empty(t, values)
}

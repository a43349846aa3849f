package virustotal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/memharbor/memharbor/internal/domain/forensics"
)

type serviceRepoStub struct {
	svc forensics.Service
	err error
}

func (s serviceRepoStub) GetService(ctx context.Context, kind forensics.ServiceKind) (forensics.Service, error) {
	return s.svc, s.err
}

func TestClient_Lookup(t *testing.T) {
	t.Parallel()

	const fileSHA = "aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/"+fileSHA, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))
		fmt.Fprint(w, `{
			"data": {
				"id": "`+fileSHA+`",
				"attributes": {
					"last_analysis_stats": {"malicious": 3, "suspicious": 1, "harmless": 60},
					"last_analysis_date": 1596067200
				}
			}
		}`)
	}))
	defer srv.Close()

	repo := serviceRepoStub{svc: forensics.Service{Kind: forensics.ServiceVirusTotal, Key: "test-key"}}
	client := NewClientWithBaseURL(repo, noop.NewTracerProvider().Tracer(""), srv.URL)

	doc, err := client.Lookup(context.Background(), fileSHA)
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal(doc, &report))
	assert.EqualValues(t, 4, report["positives"])
	assert.EqualValues(t, 64, report["total"])
	assert.EqualValues(t, 1596067200, report["scan_date"])
	assert.Equal(t, "https://www.virustotal.com/api/v3/files/"+fileSHA, report["permalink"])
}

func TestClient_LookupNotConfigured(t *testing.T) {
	t.Parallel()

	repo := serviceRepoStub{err: forensics.ErrNotFound}
	client := NewClientWithBaseURL(repo, noop.NewTracerProvider().Tracer(""), "http://unused")

	_, err := client.Lookup(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_LookupRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	repo := serviceRepoStub{svc: forensics.Service{Kind: forensics.ServiceVirusTotal, Key: "k"}}
	client := NewClientWithBaseURL(repo, noop.NewTracerProvider().Tracer(""), srv.URL)

	_, err := client.Lookup(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrRateLimited)
}

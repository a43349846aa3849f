// Package elastic implements the result sink against Elasticsearch: bulk
// loading plugin output into per-(dump, plugin) partitions and applying
// partition settings.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/elastic/go-elasticsearch/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common/logger"
)

// Ensure Sink implements forensics.ResultIndexer at compile time.
var _ forensics.ResultIndexer = (*Sink)(nil)

// maxBulkRetries bounds retries of transient transport failures. Itemized
// failures inside an acknowledged bulk response are never retried; they
// surface as errors so no row is silently dropped.
const maxBulkRetries = 10

// Sink bulk-loads documents into Elasticsearch.
type Sink struct {
	client *elasticsearch.Client
	logger *logger.Logger
	tracer trace.Tracer
}

// NewSink creates a sink for the given Elasticsearch endpoints.
func NewSink(addresses []string, log *logger.Logger, tracer trace.Tracer) (*Sink, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Sink{client: client, logger: log, tracer: tracer}, nil
}

// BulkIndex submits all documents to the named partition as one batch,
// retrying transient transport failures with exponential backoff.
func (s *Sink) BulkIndex(ctx context.Context, partition string, docs []forensics.Document) error {
	if len(docs) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "elastic.bulk_index",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("partition", partition),
			attribute.Int("doc_count", len(docs)),
		))
	defer span.End()

	var body bytes.Buffer
	for _, doc := range docs {
		action := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, partition, doc.ID.String())
		body.WriteString(action)
		body.WriteByte('\n')

		source, err := json.Marshal(doc.Source)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("encoding document %s: %w", doc.ID, err)
		}
		body.Write(source)
		body.WriteByte('\n')
	}

	operation := func() error {
		return s.submitBulk(ctx, bytes.NewReader(body.Bytes()))
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expBackoff, maxBulkRetries), ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk load failed")
		return fmt.Errorf("bulk loading %d documents into %s: %w", len(docs), partition, err)
	}

	s.logger.Debug(ctx, "bulk load complete", "partition", partition, "doc_count", len(docs))
	return nil
}

// submitBulk sends one bulk request. Itemized failures are returned as a
// permanent error since re-sending the same batch cannot fix them.
func (s *Sink) submitBulk(ctx context.Context, body io.Reader) error {
	res, err := s.client.Bulk(body, s.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode >= 500 || res.StatusCode == 429 {
			return fmt.Errorf("bulk request returned status %d", res.StatusCode)
		}
		return backoff.Permanent(fmt.Errorf("bulk request returned status %d", res.StatusCode))
	}

	var ack struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}

	if !ack.Errors {
		return nil
	}

	var reasons []string
	for _, item := range ack.Items {
		for _, op := range item {
			if op.Error != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %s", op.Error.Type, op.Error.Reason))
			}
		}
	}
	return backoff.Permanent(fmt.Errorf("bulk response contains %d failed items: %s", len(reasons), strings.Join(reasons, "; ")))
}

// SetMaxResultWindow applies the result-window-size setting to a partition.
func (s *Sink) SetMaxResultWindow(ctx context.Context, partition string, size int) error {
	ctx, span := s.tracer.Start(ctx, "elastic.put_settings",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("partition", partition),
			attribute.Int("max_result_window", size),
		))
	defer span.End()

	settings := fmt.Sprintf(`{"index":{"max_result_window":%d}}`, size)
	res, err := s.client.Indices.PutSettings(
		strings.NewReader(settings),
		s.client.Indices.PutSettings.WithIndex(partition),
		s.client.Indices.PutSettings.WithContext(ctx),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("applying settings to %s: %w", partition, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
		return fmt.Errorf("applying settings to %s: status %d", partition, res.StatusCode)
	}
	return nil
}

// FieldValues returns the values of a named field across the partition's
// documents. Missing partitions yield no values rather than an error so the
// banner readback can treat "no hits" and "not indexed yet" the same way.
func (s *Sink) FieldValues(ctx context.Context, partition, field string) ([]string, error) {
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(partition),
		s.client.Search.WithSize(100),
	)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", partition, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("searching %s: status %d", partition, res.StatusCode)
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	var values []string
	for _, hit := range sr.Hits.Hits {
		if v, ok := hit.Source[field].(string); ok && v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// Package virustotal implements the reputation lookup port against the
// VirusTotal v3 files API.
package virustotal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/pkg/common"
)

// Typed failure modes. The fan-out layer converts any of these into an
// error-shaped report document rather than failing the owning plugin.
var (
	// ErrNotConfigured indicates no VirusTotal service record exists.
	ErrNotConfigured = errors.New("service not configured")

	// ErrRateLimited indicates the API quota was exhausted.
	ErrRateLimited = errors.New("reputation service rate limited")
)

const defaultBaseURL = "https://www.virustotal.com/api/v3"

// Ensure Client implements forensics.ReputationService at compile time.
var _ forensics.ReputationService = (*Client)(nil)

// Client looks up file reputations by sha256. The API key is read from the
// service registry on every call so operators can rotate it without a
// restart; an absent record degrades to ErrNotConfigured.
type Client struct {
	httpClient *http.Client
	services   forensics.ServiceRepository
	limiter    *common.RateLimiter
	baseURL    string
	tracer     trace.Tracer
}

// NewClient creates a reputation client against the public VirusTotal API.
// The free API tier allows 4 requests per minute; the limiter keeps
// concurrent fan-out tasks inside that budget.
func NewClient(services forensics.ServiceRepository, tracer trace.Tracer) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		services:   services,
		limiter:    common.NewRateLimiter(4.0/60.0, 4),
		baseURL:    defaultBaseURL,
		tracer:     tracer,
	}
}

// NewClientWithBaseURL creates a reputation client against an explicit API
// endpoint. Used by tests.
func NewClientWithBaseURL(services forensics.ServiceRepository, tracer trace.Tracer, baseURL string) *Client {
	c := NewClient(services, tracer)
	c.baseURL = baseURL
	c.limiter = common.NewRateLimiter(1000, 1000)
	return c
}

// vtResponse is the subset of the VirusTotal v3 file object we keep.
type vtResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			LastAnalysisDate  int64          `json:"last_analysis_date"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup fetches the reputation report for a sha256 and condenses it into
// the stored report shape: verdict counts, scan timestamp, positives, total
// and a permalink.
func (c *Client) Lookup(ctx context.Context, sha256 string) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "virustotal.lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("file_sha256", sha256)),
	)
	defer span.End()

	svc, err := c.services.GetService(ctx, forensics.ServiceVirusTotal)
	if err != nil {
		if errors.Is(err, forensics.ErrNotFound) {
			span.SetStatus(codes.Error, "service not configured")
			return nil, ErrNotConfigured
		}
		span.RecordError(err)
		return nil, fmt.Errorf("reading service config: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/files/%s", c.baseURL, sha256)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building lookup request: %w", err)
	}
	req.Header.Set("x-apikey", svc.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reputation lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		span.SetStatus(codes.Error, "rate limited")
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return nil, fmt.Errorf("reputation lookup returned status %d: %s", resp.StatusCode, body)
	}

	var vr vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding reputation response: %w", err)
	}

	stats := vr.Data.Attributes.LastAnalysisStats
	total := 0
	for _, n := range stats {
		total += n
	}

	report := map[string]any{
		"last_analysis_stats": stats,
		"scan_date":           vr.Data.Attributes.LastAnalysisDate,
		"positives":           stats["malicious"] + stats["suspicious"],
		"total":               total,
		"permalink":           fmt.Sprintf("https://www.virustotal.com/api/v3/files/%s", vr.Data.ID),
	}

	doc, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding reputation report: %w", err)
	}
	return doc, nil
}

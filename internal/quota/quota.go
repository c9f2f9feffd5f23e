// Package quota fetches model availability from the provider's mirror
// endpoints and normalizes the response into one per-model list.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/metrics"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/token"
	"github.com/quotapanel/quotapanel/internal/transport"
)

// BaseEndpoints are mirrors of one logical service, tried in order.
var BaseEndpoints = []string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://autopush-cloudcode-pa.sandbox.googleapis.com",
}

const modelsPath = "/v1internal:fetchAvailableModels"

// Fetcher retrieves and normalizes quota data for one access token.
type Fetcher struct {
	client    transport.Requester
	logger    *logging.Logger
	metrics   *metrics.Metrics
	endpoints []string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithEndpoints overrides the mirror list, used by tests.
func WithEndpoints(endpoints []string) FetcherOption {
	return func(f *Fetcher) { f.endpoints = endpoints }
}

// WithMetrics records per-endpoint fetch outcomes.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher creates a quota fetcher.
func NewFetcher(client transport.Requester, logger *logging.Logger, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = logging.NewLogger()
	}
	f := &Fetcher{
		client:    client,
		logger:    logger,
		endpoints: BaseEndpoints,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch POSTs an empty body to each mirror in order and normalizes the
// first 2xx response. Parsing happens only on the winning mirror; if every
// mirror fails, the last error is returned wrapped in ErrAllEndpointsFailed.
func (f *Fetcher) Fetch(ctx context.Context, accessToken string) (*models.QuotaSnapshot, error) {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + accessToken,
		"User-Agent":    token.UserAgent,
	}

	var lastErr error
	for _, base := range f.endpoints {
		url := base + modelsPath
		f.logger.Debug("fetching models", "endpoint", url)

		status, body, err := f.client.Request(ctx, http.MethodPost, url, headers, []byte("{}"))
		if err != nil {
			f.recordFetch(base, "error")
			f.logger.Warn("quota endpoint unreachable", "endpoint", base, "error", err.Error())
			lastErr = err
			continue
		}
		if status < 200 || status >= 300 {
			f.recordFetch(base, "rejected")
			f.logger.Warn("quota endpoint rejected request", "endpoint", base, "status", status)
			lastErr = fmt.Errorf("HTTP %d: %s", status, string(body))
			continue
		}

		var raw rawModelsResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			f.recordFetch(base, "parse_error")
			return nil, &errors.ErrQuotaParse{Endpoint: base, Err: err}
		}

		f.recordFetch(base, "success")
		return Normalize(&raw), nil
	}

	return nil, &errors.ErrAllEndpointsFailed{Last: lastErr}
}

func (f *Fetcher) recordFetch(endpoint, outcome string) {
	if f.metrics != nil {
		f.metrics.RecordQuotaFetch(endpoint, outcome)
	}
}

// Package aggregator runs quota collection across every stored account
// and assembles the combined dashboard result.
package aggregator

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/quotapanel/quotapanel/internal/alerts"
	"github.com/quotapanel/quotapanel/internal/credstore"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/metrics"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/store"
	"github.com/quotapanel/quotapanel/internal/token"
)

// DefaultConcurrency bounds in-flight provider calls per aggregation,
// which also bounds connections through any configured proxy.
const DefaultConcurrency = 5

// TokenManager is the token lifecycle surface the aggregator needs.
type TokenManager interface {
	EnsureValid(ctx context.Context, cred *models.Credential, path string) (*models.Credential, error)
	Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error)
}

// Fetcher retrieves one account's normalized quota.
type Fetcher interface {
	Fetch(ctx context.Context, accessToken string) (*models.QuotaSnapshot, error)
}

// Aggregator fans quota collection out over all stored accounts.
type Aggregator struct {
	creds   *credstore.Store
	tokens  TokenManager
	fetcher Fetcher
	logger  *logging.Logger

	metrics     *metrics.Metrics
	snapshots   *store.SnapshotStore
	watcher     *alerts.Watcher
	concurrency int

	cacheMu sync.RWMutex
	cache   map[string]*models.QuotaSnapshot
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConcurrency overrides the in-flight cap.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithMetrics exports per-account quota gauges and aggregation timings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithSnapshotStore mirrors successful fetches to persistent storage.
func WithSnapshotStore(s *store.SnapshotStore) Option {
	return func(a *Aggregator) { a.snapshots = s }
}

// WithWatcher feeds aggregation results to the exhaustion alerter.
func WithWatcher(w *alerts.Watcher) Option {
	return func(a *Aggregator) { a.watcher = w }
}

// New creates an aggregator.
func New(creds *credstore.Store, tokens TokenManager, fetcher Fetcher, logger *logging.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = logging.NewLogger()
	}
	a := &Aggregator{
		creds:       creds,
		tokens:      tokens,
		fetcher:     fetcher,
		logger:      logger,
		concurrency: DefaultConcurrency,
		cache:       make(map[string]*models.QuotaSnapshot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AggregateAll fetches quota for every stored account. Each account is a
// live fetch; the cache is only updated, never served from here. Results
// preserve store listing order regardless of completion order, and one
// account's failure never aborts the batch.
func (a *Aggregator) AggregateAll(ctx context.Context) ([]models.AccountResult, error) {
	entries, err := a.creds.List()
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.AggregationsInFlight.Inc()
		defer a.metrics.AggregationsInFlight.Dec()
		start := time.Now()
		defer func() {
			a.metrics.AggregationDuration.Observe(time.Since(start).Seconds())
		}()
	}

	results := make([]models.AccountResult, len(entries))
	sem := make(chan struct{}, a.concurrency)
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry models.StoredCredential) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = a.collect(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	if a.watcher != nil {
		a.watcher.Observe(results)
	}
	return results, nil
}

// collect runs one account's unit of work: ensure a valid token, fetch,
// record. Failures become structured entries, never panics or aborts.
func (a *Aggregator) collect(ctx context.Context, entry models.StoredCredential) models.AccountResult {
	identity := entry.Credential.Identity(entry.Path)

	valid, err := a.tokens.EnsureValid(ctx, entry.Credential, entry.Path)
	if err != nil {
		a.logger.Warn("token refresh failed", "account", identity, "error", err.Error())
		a.recordError("token_refresh")
		return models.AccountResult{Email: identity, Error: err.Error()}
	}

	snapshot, err := a.fetcher.Fetch(ctx, valid.AccessToken)
	if err != nil {
		a.logger.Warn("quota fetch failed", "account", identity, "error", err.Error())
		a.recordError("quota_fetch")
		return models.AccountResult{Email: identity, Error: err.Error()}
	}

	a.recordSuccess(identity, snapshot)
	return models.AccountResult{Email: identity, Success: true, Quota: snapshot}
}

func (a *Aggregator) recordSuccess(identity string, snapshot *models.QuotaSnapshot) {
	a.cacheMu.Lock()
	a.cache[identity] = snapshot
	a.cacheMu.Unlock()

	if a.metrics != nil {
		for _, m := range snapshot.Models {
			if m.Quota != nil && m.Quota.RemainingPercentage != nil {
				a.metrics.RecordQuotaRemaining(identity, m.ModelID, *m.Quota.RemainingPercentage)
			}
		}
	}
	if a.snapshots != nil {
		if err := a.snapshots.Put(identity, snapshot); err != nil {
			a.logger.Warn("snapshot persist failed", "account", identity, "error", err.Error())
		}
	}
}

func (a *Aggregator) recordError(kind string) {
	if a.metrics != nil {
		a.metrics.RecordError(kind)
	}
}

// QuotaForOne does a live fetch for a single account.
func (a *Aggregator) QuotaForOne(ctx context.Context, email string) (*models.QuotaSnapshot, error) {
	entry, err := a.creds.Find(email)
	if err != nil {
		return nil, err
	}

	valid, err := a.tokens.EnsureValid(ctx, entry.Credential, entry.Path)
	if err != nil {
		return nil, err
	}
	snapshot, err := a.fetcher.Fetch(ctx, valid.AccessToken)
	if err != nil {
		return nil, err
	}

	a.recordSuccess(entry.Credential.Identity(entry.Path), snapshot)
	return snapshot, nil
}

// ForceRefresh refreshes an account's token unconditionally, persists the
// rotated credential and returns a fresh quota snapshot.
func (a *Aggregator) ForceRefresh(ctx context.Context, email string) (*models.QuotaSnapshot, error) {
	entry, err := a.creds.Find(email)
	if err != nil {
		return nil, err
	}

	updated, err := a.tokens.Refresh(ctx, entry.Credential)
	if err != nil {
		return nil, err
	}
	if err := a.creds.Save(entry.Path, updated); err != nil {
		return nil, err
	}

	snapshot, err := a.fetcher.Fetch(ctx, updated.AccessToken)
	if err != nil {
		return nil, err
	}

	a.recordSuccess(updated.Identity(entry.Path), snapshot)
	return snapshot, nil
}

// ListAccounts describes every stored account for the listing endpoint.
func (a *Aggregator) ListAccounts() ([]models.AccountInfo, error) {
	entries, err := a.creds.List()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]models.AccountInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, models.AccountInfo{
			Email:     entry.Credential.Identity(entry.Path),
			File:      filepath.Base(entry.Path),
			Type:      entry.Credential.Type,
			Expired:   entry.Credential.Expired,
			IsExpired: token.IsExpired(entry.Credential, now),
		})
	}
	return out, nil
}

// DeleteAccount removes the account's credential file, stored snapshot
// and cache entry.
func (a *Aggregator) DeleteAccount(email string) error {
	entry, err := a.creds.Find(email)
	if err != nil {
		return err
	}
	if err := a.creds.Delete(entry.Path); err != nil {
		return err
	}

	identity := entry.Credential.Identity(entry.Path)
	a.cacheMu.Lock()
	delete(a.cache, identity)
	a.cacheMu.Unlock()

	if a.snapshots != nil {
		if err := a.snapshots.Delete(identity); err != nil {
			a.logger.Warn("snapshot delete failed", "account", identity, "error", err.Error())
		}
	}
	return nil
}

// FindCredential looks a stored account up by identity.
func (a *Aggregator) FindCredential(email string) (*models.StoredCredential, error) {
	return a.creds.Find(email)
}

// ImportCredential validates and stores a raw credential upload.
func (a *Aggregator) ImportCredential(raw []byte) (*models.StoredCredential, error) {
	return a.creds.Import(raw)
}

// CachedQuota returns the last live-fetched snapshot for one account.
func (a *Aggregator) CachedQuota(email string) (*models.QuotaSnapshot, bool) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	snapshot, ok := a.cache[email]
	return snapshot, ok
}

// CachedQuotas returns a copy of the diagnostic quota cache.
func (a *Aggregator) CachedQuotas() map[string]*models.QuotaSnapshot {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	out := make(map[string]*models.QuotaSnapshot, len(a.cache))
	for k, v := range a.cache {
		out[k] = v
	}
	return out
}

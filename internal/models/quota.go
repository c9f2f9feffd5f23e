package models

import "time"

// Model categories as reported by the provider's UI surfaces.
const (
	CategoryAgent   = "agent"
	CategoryCommand = "command"
	CategoryTab     = "tab"
	CategoryUnknown = "unknown"
)

// QuotaDetail carries per-model remaining-quota data.
type QuotaDetail struct {
	RemainingFraction   *float64 `json:"remainingFraction,omitempty"`
	RemainingPercentage *float64 `json:"remainingPercentage,omitempty"`
	ResetTime           string   `json:"resetTime,omitempty"`
	IsExhausted         bool     `json:"isExhausted"`
}

// ModelEntry is one normalized model in a quota response. Never persisted.
type ModelEntry struct {
	ModelID  string       `json:"modelId"`
	Name     string       `json:"name"`
	Category string       `json:"category"`
	Quota    *QuotaDetail `json:"quotaInfo,omitempty"`
}

// QuotaSnapshot is the normalized result of one quota fetch for one account.
type QuotaSnapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Models    []ModelEntry `json:"models"`
}

// AccountResult is a single per-account outcome inside an aggregate result.
type AccountResult struct {
	Email   string         `json:"email"`
	Success bool           `json:"success"`
	Quota   *QuotaSnapshot `json:"quota,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// AccountInfo describes one known account for the listing endpoint.
type AccountInfo struct {
	Email     string `json:"email"`
	File      string `json:"file"`
	Type      string `json:"type"`
	Expired   string `json:"expired,omitempty"`
	IsExpired bool   `json:"is_expired"`
}

// NewQuotaDetail derives the percentage and exhaustion flag from a raw
// remaining fraction. A nil fraction means the provider reported no quota,
// which counts as exhausted.
func NewQuotaDetail(fraction *float64, resetTime string) *QuotaDetail {
	d := &QuotaDetail{
		RemainingFraction: fraction,
		ResetTime:         resetTime,
		IsExhausted:       fraction == nil || *fraction == 0,
	}
	if fraction != nil {
		pct := *fraction * 100
		d.RemainingPercentage = &pct
	}
	return d
}

package quota

import (
	"sort"
	"strings"
	"time"

	"github.com/quotapanel/quotapanel/internal/models"
)

// rawModelsResponse is the provider's model-listing response. The same
// model may appear in the detail map and in any of the surface ID lists.
type rawModelsResponse struct {
	Models          map[string]rawModelInfo `json:"models"`
	AgentModelSorts []string                `json:"agentModelSorts"`
	CommandModelIDs []string                `json:"commandModelIds"`
	TabModelIDs     []string                `json:"tabModelIds"`
}

type rawModelInfo struct {
	DisplayName string        `json:"displayName"`
	Category    string        `json:"category"`
	QuotaInfo   *rawQuotaInfo `json:"quotaInfo"`
}

type rawQuotaInfo struct {
	RemainingFraction *float64 `json:"remainingFraction"`
	ResetTime         string   `json:"resetTime"`
}

// modelNameMapping fixes display names the provider reports badly or not
// at all. Both prefixed and bare forms are listed because the provider is
// inconsistent about the models/ prefix.
var modelNameMapping = map[string]string{
	"models/rev19-uic3-1p": "Gemini 2.5 Computer Use",
	"rev19-uic3-1p":        "Gemini 2.5 Computer Use",
}

// ignoredModels are internal provider entries that must never surface.
// Comparison is separator-insensitive, so listing one spelling is enough.
var ignoredModels = []string{
	"chat-20706",
	"chat-23310",
}

// Normalize merges the detail map and the three surface ID lists into one
// list de-duplicated by model ID. The detail map is authoritative for
// quota info; the ID lists only contribute entries not already present.
func Normalize(raw *rawModelsResponse) *models.QuotaSnapshot {
	entries := make([]models.ModelEntry, 0, len(raw.Models))
	seen := make(map[string]bool, len(raw.Models))

	// Map iteration order is random; sort for a stable result.
	ids := make([]string, 0, len(raw.Models))
	for id := range raw.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == "" || isIgnored(id) {
			continue
		}
		info := raw.Models[id]
		entries = append(entries, normalizeDetail(id, info))
		seen[id] = true
	}

	lists := []struct {
		ids      []string
		category string
	}{
		{raw.AgentModelSorts, models.CategoryAgent},
		{raw.CommandModelIDs, models.CategoryCommand},
		{raw.TabModelIDs, models.CategoryTab},
	}
	for _, l := range lists {
		for _, id := range l.ids {
			if id == "" || seen[id] || isIgnored(id) {
				continue
			}
			entries = append(entries, models.ModelEntry{
				ModelID:  id,
				Name:     displayName(id, ""),
				Category: l.category,
			})
			seen[id] = true
		}
	}

	// Second denylist pass over the assembled list, by ID and by name,
	// catching anything that slipped through a path above.
	filtered := entries[:0]
	for _, e := range entries {
		if isIgnored(e.ModelID) || isIgnored(e.Name) {
			continue
		}
		filtered = append(filtered, e)
	}

	return &models.QuotaSnapshot{
		Timestamp: time.Now().UTC(),
		Models:    filtered,
	}
}

func normalizeDetail(id string, info rawModelInfo) models.ModelEntry {
	category := info.Category
	if category == "" {
		category = models.CategoryUnknown
	}
	entry := models.ModelEntry{
		ModelID:  id,
		Name:     displayName(id, info.DisplayName),
		Category: category,
	}
	if info.QuotaInfo != nil {
		entry.Quota = models.NewQuotaDetail(info.QuotaInfo.RemainingFraction, info.QuotaInfo.ResetTime)
	}
	return entry
}

// displayName resolves a human label: the explicit mapping wins, then the
// provider-supplied name, then a humanized form of the ID itself.
func displayName(id, provided string) string {
	if name, ok := modelNameMapping[id]; ok {
		return name
	}
	if name, ok := modelNameMapping[strings.TrimPrefix(id, "models/")]; ok {
		return name
	}
	if provided != "" {
		return provided
	}
	return humanizeID(id)
}

func humanizeID(id string) string {
	if id == "" {
		return "Unknown"
	}
	name := strings.TrimPrefix(id, "models/")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func isIgnored(id string) bool {
	if id == "" {
		return true
	}
	normalized := foldID(strings.TrimPrefix(strings.ToLower(id), "models/"))
	for _, ignored := range ignoredModels {
		if normalized == foldID(ignored) {
			return true
		}
	}
	return false
}

// foldID strips separators and case so chat-20706, chat_20706 and
// Chat20706 all collide.
func foldID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, "_", "")
}

// Package alerts notifies the operator when an account's model quota runs
// out, with de-duplication and rate limiting so flapping quota does not
// flood the chat.
package alerts

import (
	"fmt"
	"sync"

	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/telegram"
)

// NotifyFunc delivers one alert message. The default sends via Telegram.
type NotifyFunc func(text string)

// Watcher inspects aggregation results and raises one alert per
// account+model exhaustion episode. A model alerts again only after it
// has been observed non-exhausted in between.
type Watcher struct {
	notify   NotifyFunc
	throttle *Throttler
	logger   *logging.Logger

	mu      sync.Mutex
	alerted map[string]bool // account+model currently in the exhausted state
}

// NewWatcher creates an exhaustion watcher delivering via Telegram.
func NewWatcher(botToken string, chatID int64, logger *logging.Logger) *Watcher {
	return NewWatcherWithNotify(func(text string) {
		telegram.Notify(botToken, chatID, text)
	}, logger)
}

// NewWatcherWithNotify creates a watcher with a custom delivery function,
// used by tests and alternative sinks.
func NewWatcherWithNotify(notify NotifyFunc, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Watcher{
		notify:   notify,
		throttle: NewThrottler(10, 10),
		logger:   logger,
		alerted:  make(map[string]bool),
	}
}

// Observe processes one aggregation batch. Failed accounts are skipped:
// a fetch failure says nothing about quota state.
func (w *Watcher) Observe(results []models.AccountResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range results {
		if !r.Success || r.Quota == nil {
			continue
		}
		for _, m := range r.Quota.Models {
			if m.Quota == nil {
				continue
			}
			key := r.Email + "/" + m.ModelID
			if m.Quota.IsExhausted {
				if w.alerted[key] {
					continue
				}
				w.alerted[key] = true
				w.raise(r.Email, m)
			} else {
				// Recovery re-arms the alert for the next episode.
				delete(w.alerted, key)
			}
		}
	}
}

func (w *Watcher) raise(email string, m models.ModelEntry) {
	if !w.throttle.Allow() {
		w.logger.Warn("alert suppressed by rate limit", "account", email, "model", m.ModelID)
		return
	}

	text := fmt.Sprintf("⚠️ *Quota exhausted*\nAccount: %s\nModel: %s", email, m.Name)
	if m.Quota.ResetTime != "" {
		text += fmt.Sprintf("\nResets: %s", m.Quota.ResetTime)
	}
	w.logger.Info("raising exhaustion alert", "account", email, "model", m.ModelID)
	w.notify(text)
}

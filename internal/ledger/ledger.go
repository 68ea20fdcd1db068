// Package ledger tracks every small-model delegation: tokens in, tokens out,
// estimated cost, and the bytes context management saved. Recording is
// best-effort; a ledger failure never fails the call that produced it.
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Purposes attached to entries. Free-form strings are accepted; these are the
// ones the core emits.
const (
	PurposeClassification = "classification"
	PurposeSummarization  = "summarization"
	PurposeExtraction     = "extraction"
	PurposeGeneration     = "generation"
	PurposeCompaction     = "context-compaction"
)

// Entry records a single model call. Prompt and response content are
// intentionally excluded.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model,omitempty"`
	Purpose      string    `json:"purpose,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	BytesSaved   int       `json:"bytes_saved,omitempty"`
}

// Persistence is the storage contract for ledger history.
type Persistence interface {
	SaveEntries(entries []Entry) error
	LoadEntries() ([]Entry, error)
}

// DefaultMaxDays is the retention window for raw entries.
const DefaultMaxDays = 90

// Ledger provides thread-safe usage tracking with optional persistence.
type Ledger struct {
	mu          sync.RWMutex
	entries     []Entry
	maxDays     int
	persistence Persistence

	// Debounced persistence to avoid frequent disk writes.
	saveTimer    *time.Timer
	savePending  bool
	saveDebounce time.Duration
}

// New creates a ledger retaining maxDays of raw entries.
func New(maxDays int) *Ledger {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	return &Ledger{
		entries:      make([]Entry, 0),
		maxDays:      maxDays,
		saveDebounce: 5 * time.Second,
	}
}

// SetPersistence sets persistence and loads any existing history.
func (l *Ledger) SetPersistence(p Persistence) error {
	l.mu.Lock()
	l.persistence = p
	l.mu.Unlock()

	if p == nil {
		return nil
	}

	entries, err := p.LoadEntries()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.entries = entries
	l.trimLocked(time.Now())
	l.mu.Unlock()
	return nil
}

// Record appends an entry and schedules persistence. Cost is estimated from
// the pricing table when the entry does not carry one.
func (l *Ledger) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CostUSD == 0 {
		if usd, ok := EstimateUSD(entry.Provider, entry.Model, int64(entry.InputTokens), int64(entry.OutputTokens)); ok {
			entry.CostUSD = usd
		}
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.trimLocked(time.Now())
	l.scheduleSaveLocked()
	l.mu.Unlock()
}

// RecordBytesSaved notes bytes removed by summarization or compaction without
// a model call (light compression, truncation fallback).
func (l *Ledger) RecordBytesSaved(purpose string, bytes int) {
	if bytes <= 0 {
		return
	}
	l.Record(Entry{Purpose: purpose, Provider: "none", BytesSaved: bytes})
}

// Entries returns a copy of entries within the requested window.
func (l *Ledger) Entries(days int) []Entry {
	if days <= 0 {
		days = 30
	}
	if l.maxDays > 0 && days > l.maxDays {
		days = l.maxDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// ProviderSummary is a rollup for one provider.
type ProviderSummary struct {
	Provider     string  `json:"provider"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
}

// PurposeSummary is a rollup for one purpose.
type PurposeSummary struct {
	Purpose      string  `json:"purpose"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
	BytesSaved   int64   `json:"bytes_saved,omitempty"`
}

// DailySummary is a rollup for a single day.
type DailySummary struct {
	Date         string  `json:"date"`
	Calls        int64   `json:"calls"`
	TotalTokens  int64   `json:"total_tokens"`
	EstimatedUSD float64 `json:"estimated_usd,omitempty"`
}

// Summary is the aggregate view the CLI and status API expose.
type Summary struct {
	Days            int               `json:"days"`
	RetentionDays   int               `json:"retention_days"`
	Providers       []ProviderSummary `json:"providers"`
	Purposes        []PurposeSummary  `json:"purposes"`
	DailyTotals     []DailySummary    `json:"daily_totals"`
	TotalCalls      int64             `json:"total_calls"`
	TotalTokens     int64             `json:"total_tokens"`
	TotalUSD        float64           `json:"total_usd"`
	TotalBytesSaved int64             `json:"total_bytes_saved"`
	PricingAsOf     string            `json:"pricing_as_of,omitempty"`
}

// Summarize returns a rollup of usage over the last N days.
func (l *Ledger) Summarize(days int) Summary {
	entries := l.Entries(days)

	perProvider := make(map[string]*ProviderSummary)
	perPurpose := make(map[string]*PurposeSummary)
	perDay := make(map[string]*DailySummary)

	summary := Summary{
		Days:          days,
		RetentionDays: l.maxDays,
		PricingAsOf:   PricingAsOf(),
	}

	for _, e := range entries {
		provider := strings.ToLower(strings.TrimSpace(e.Provider))
		if provider == "" {
			provider = "unknown"
		}
		purpose := strings.ToLower(strings.TrimSpace(e.Purpose))
		if purpose == "" {
			purpose = "unknown"
		}

		ps := perProvider[provider]
		if ps == nil {
			ps = &ProviderSummary{Provider: provider}
			perProvider[provider] = ps
		}
		ps.Calls++
		ps.InputTokens += int64(e.InputTokens)
		ps.OutputTokens += int64(e.OutputTokens)
		ps.EstimatedUSD += e.CostUSD

		us := perPurpose[purpose]
		if us == nil {
			us = &PurposeSummary{Purpose: purpose}
			perPurpose[purpose] = us
		}
		us.Calls++
		us.InputTokens += int64(e.InputTokens)
		us.OutputTokens += int64(e.OutputTokens)
		us.EstimatedUSD += e.CostUSD
		us.BytesSaved += int64(e.BytesSaved)

		date := e.Timestamp.Format("2006-01-02")
		ds := perDay[date]
		if ds == nil {
			ds = &DailySummary{Date: date}
			perDay[date] = ds
		}
		ds.Calls++
		ds.TotalTokens += int64(e.InputTokens) + int64(e.OutputTokens)
		ds.EstimatedUSD += e.CostUSD

		summary.TotalCalls++
		summary.TotalTokens += int64(e.InputTokens) + int64(e.OutputTokens)
		summary.TotalUSD += e.CostUSD
		summary.TotalBytesSaved += int64(e.BytesSaved)
	}

	for _, ps := range perProvider {
		ps.TotalTokens = ps.InputTokens + ps.OutputTokens
		summary.Providers = append(summary.Providers, *ps)
	}
	sort.Slice(summary.Providers, func(i, j int) bool {
		return summary.Providers[i].Provider < summary.Providers[j].Provider
	})

	for _, us := range perPurpose {
		us.TotalTokens = us.InputTokens + us.OutputTokens
		summary.Purposes = append(summary.Purposes, *us)
	}
	sort.Slice(summary.Purposes, func(i, j int) bool {
		return summary.Purposes[i].Purpose < summary.Purposes[j].Purpose
	})

	for _, ds := range perDay {
		summary.DailyTotals = append(summary.DailyTotals, *ds)
	}
	sort.Slice(summary.DailyTotals, func(i, j int) bool {
		return summary.DailyTotals[i].Date < summary.DailyTotals[j].Date
	})

	return summary
}

// Flush immediately writes any pending changes to persistence.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	if l.saveTimer != nil {
		l.saveTimer.Stop()
	}
	l.savePending = false
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	p := l.persistence
	l.mu.Unlock()

	if p != nil {
		return p.SaveEntries(entries)
	}
	return nil
}

func (l *Ledger) trimLocked(now time.Time) {
	if l.maxDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -l.maxDays)
	filtered := l.entries[:0]
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			filtered = append(filtered, e)
		}
	}
	l.entries = filtered
}

func (l *Ledger) scheduleSaveLocked() {
	if l.persistence == nil {
		return
	}

	if l.saveTimer != nil {
		l.saveTimer.Stop()
	}

	l.savePending = true
	l.saveTimer = time.AfterFunc(l.saveDebounce, func() {
		l.mu.Lock()
		if !l.savePending {
			l.mu.Unlock()
			return
		}
		l.savePending = false
		entries := make([]Entry, len(l.entries))
		copy(entries, l.entries)
		p := l.persistence
		l.mu.Unlock()

		if p != nil {
			if err := p.SaveEntries(entries); err != nil {
				log.Error().Err(err).Msg("Failed to save usage ledger")
			}
		}
	})
}

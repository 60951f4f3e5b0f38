// Package poller drives the notification side: each cycle fetches every
// record from the external store, translates it, feeds it through transition
// detection, and dispatches notifications for completions.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ticketbridge-io/ticketbridge/internal/detect"
	"github.com/ticketbridge-io/ticketbridge/internal/mapping"
	"github.com/ticketbridge-io/ticketbridge/internal/notify"
	"github.com/ticketbridge-io/ticketbridge/internal/translate"
)

// Source fetches the full current record set from the external store.
type Source interface {
	Fetch(ctx context.Context) ([]map[string]any, error)
}

// CycleStats summarizes one completed poll cycle.
type CycleStats struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Records    int64     `json:"records"`
	Skipped    int64     `json:"skipped"`
	Errors     int64     `json:"errors"`
	Notified   int64     `json:"notified"`
	Suppressed int64     `json:"suppressed"`
}

// Poller runs poll cycles over a record source.
type Poller struct {
	source     Source
	translator *translate.Translator
	detector   *detect.Detector
	dispatcher *notify.Dispatcher
	workers    int
	logger     *slog.Logger

	mu   sync.Mutex
	last *CycleStats
}

// New creates a Poller. workers bounds per-cycle concurrency; values below 1
// fall back to 1.
func New(source Source, tr *translate.Translator, det *detect.Detector, disp *notify.Dispatcher, workers int, logger *slog.Logger) *Poller {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:     source,
		translator: tr,
		detector:   det,
		dispatcher: disp,
		workers:    workers,
		logger:     logger,
	}
}

// RunCycle fetches and processes every record once. Per-record failures are
// logged and counted but never abort the cycle; only a failed fetch does,
// and the next scheduled cycle retries it.
func (p *Poller) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	started := time.Now()

	pages, err := p.source.Fetch(ctx)
	if err != nil {
		p.logger.Error("poll fetch failed", "cycle", cycleID, "error", err)
		return fmt.Errorf("poller: fetch records: %w", err)
	}

	var skipped, errCount, notified, suppressed atomic.Int64

	jobs := make(chan map[string]any)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range jobs {
				p.process(ctx, cycleID, page, &skipped, &errCount, &notified, &suppressed)
			}
		}()
	}

feed:
	for _, page := range pages {
		select {
		case jobs <- page:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	stats := &CycleStats{
		CycleID:    cycleID,
		StartedAt:  started.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
		Records:    int64(len(pages)),
		Skipped:    skipped.Load(),
		Errors:     errCount.Load(),
		Notified:   notified.Load(),
		Suppressed: suppressed.Load(),
	}
	p.mu.Lock()
	p.last = stats
	p.mu.Unlock()

	p.logger.Info("poll cycle complete",
		"cycle", cycleID,
		"records", stats.Records,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"notified", stats.Notified,
		"suppressed", stats.Suppressed,
		"duration_ms", stats.DurationMS,
	)
	return ctx.Err()
}

// LastCycle returns a copy of the most recent cycle stats, or nil before the
// first cycle finishes.
func (p *Poller) LastCycle() *CycleStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	stats := *p.last
	return &stats
}

func (p *Poller) process(ctx context.Context, cycleID string, page map[string]any, skipped, errCount, notified, suppressed *atomic.Int64) {
	tk, err := p.translator.FromExternal(mapping.SchemaRecords, page)
	if err != nil {
		errCount.Add(1)
		p.logger.Warn("record skipped", "cycle", cycleID, "error", err)
		return
	}
	if tk.Archived {
		skipped.Add(1)
		return
	}

	ev, err := p.detector.Observe(ctx, tk)
	if err != nil {
		errCount.Add(1)
		p.logger.Error("transition detection failed", "cycle", cycleID, "ticket", tk.ID, "error", err)
		return
	}
	if ev == nil {
		return
	}

	outcome, err := p.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		errCount.Add(1)
		p.logger.Error("dispatch failed",
			"cycle", cycleID,
			"ticket", ev.TicketID,
			"to", ev.ToStatus,
			"error", err,
		)
		return
	}
	if outcome.Suppressed {
		suppressed.Add(1)
	} else {
		notified.Add(1)
	}
}

package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
	"github.com/rfletcher/intelforge/internal/retry"
)

// SummaryStore is the slice of the content store the enhancer needs.
type SummaryStore interface {
	ListPendingSummaries(ctx context.Context, limit int) ([]models.ContentRecord, error)
	GetByID(ctx context.Context, id string) (models.ContentRecord, error)
	SetSummaryIfEmpty(ctx context.Context, id, summary string) (bool, error)
	SetSummary(ctx context.Context, id, summary string) error
}

// EnhancerConfig holds batch summarization settings.
type EnhancerConfig struct {
	BatchSize     int
	RetryAttempts int
}

// Enhancer fills in missing summaries using the configured Summarizer.
type Enhancer struct {
	store      SummaryStore
	summarizer Summarizer
	logger     *logging.Logger
	batchSize  int
	policy     retry.Policy
}

func NewEnhancer(store SummaryStore, summarizer Summarizer, logger *logging.Logger, cfg EnhancerConfig) *Enhancer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Enhancer{
		store:      store,
		summarizer: summarizer,
		logger:     logger,
		batchSize:  batchSize,
		policy: retry.Policy{
			Attempts: attempts,
			Base:     2 * time.Second,
			Max:      30 * time.Second,
		},
	}
}

// SummarizeBatch summarizes up to one batch of records that still lack a
// summary. Per-record failures are logged and skipped so one stubborn
// article cannot stall the rest. Returns the number of summaries written.
func (e *Enhancer) SummarizeBatch(ctx context.Context) (int, error) {
	records, err := e.store.ListPendingSummaries(ctx, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending summaries: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	written := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}

		summary, err := e.generate(ctx, rec)
		if err != nil {
			e.logger.Warn("summary generation failed",
				logging.WithField("record_id", rec.ID),
				logging.WithField("error", err.Error()))
			continue
		}

		claimed, err := e.store.SetSummaryIfEmpty(ctx, rec.ID, summary)
		if err != nil {
			e.logger.Error("failed to store summary",
				logging.WithField("record_id", rec.ID),
				logging.WithField("error", err.Error()))
			continue
		}
		if !claimed {
			// Another worker summarized this record between the list
			// and the write.
			e.logger.Debug("summary already set", logging.WithField("record_id", rec.ID))
			continue
		}
		written++
	}

	e.logger.Info("summary batch complete",
		logging.WithField("candidates", len(records)),
		logging.WithField("written", written))
	return written, nil
}

// Summarize regenerates the summary for one record. With force, an
// existing summary is overwritten and its entity tags are invalidated;
// otherwise an already-summarized record is left alone.
func (e *Enhancer) Summarize(ctx context.Context, recordID string, force bool) (string, error) {
	rec, err := e.store.GetByID(ctx, recordID)
	if err != nil {
		return "", err
	}
	if rec.HasSummary() && !force {
		return rec.Summary, nil
	}

	summary, err := e.generate(ctx, rec)
	if err != nil {
		return "", err
	}

	if force {
		if err := e.store.SetSummary(ctx, recordID, summary); err != nil {
			return "", err
		}
		return summary, nil
	}

	if _, err := e.store.SetSummaryIfEmpty(ctx, recordID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

func (e *Enhancer) generate(ctx context.Context, rec models.ContentRecord) (string, error) {
	text := rec.Content
	if text == "" {
		text = rec.Description
	}
	if text == "" {
		// Nothing to summarize. Fall back to the title so the record
		// completes instead of being retried on every batch.
		return rec.Title, nil
	}

	var summary string
	err := retry.Do(ctx, e.policy, func() error {
		var genErr error
		summary, genErr = e.summarizer.Generate(ctx, PromptThreatIntelSummary, text)
		return genErr
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

package enrich

import (
	"context"
	"fmt"
	"sync"

	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
)

// TagContentStore is the slice of the content store the tagger needs.
type TagContentStore interface {
	ListUntagged(ctx context.Context, limit int) ([]models.ContentRecord, error)
	MarkTagged(ctx context.Context, id string) error
}

// TagWriter persists entity tags.
type TagWriter interface {
	InsertTags(ctx context.Context, tags []models.EntityTag) (int, error)
}

// Tagger scans record text (the description, plus the summary once one
// exists) for known entities and stores the resulting tags. The recognizer
// is swappable at runtime so reference data refreshes take effect without
// a restart.
type Tagger struct {
	store  TagContentStore
	tags   TagWriter
	logger *logging.Logger

	mu         sync.RWMutex
	recognizer *Recognizer
}

func NewTagger(store TagContentStore, tags TagWriter, recognizer *Recognizer, logger *logging.Logger) *Tagger {
	return &Tagger{
		store:      store,
		tags:       tags,
		recognizer: recognizer,
		logger:     logger,
	}
}

// SetRecognizer swaps in a recognizer built from fresh reference data.
func (t *Tagger) SetRecognizer(r *Recognizer) {
	t.mu.Lock()
	t.recognizer = r
	t.mu.Unlock()
}

func (t *Tagger) current() *Recognizer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recognizer
}

// TagUntagged scans records that have not been tagged yet, in batches of
// batchSize, until none remain. Records are stamped as scanned even when
// no entity matched, otherwise they would be picked up again on every run.
// A record that fails is logged, counted, and set aside for the rest of
// the pass; the next scheduled run retries it.
func (t *Tagger) TagUntagged(ctx context.Context, batchSize int) (models.TagReport, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var report models.TagReport
	failed := make(map[string]struct{})
	for {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		records, err := t.store.ListUntagged(ctx, batchSize)
		if err != nil {
			return report, fmt.Errorf("list untagged: %w", err)
		}

		progressed := false
		for _, rec := range records {
			if _, skip := failed[rec.ID]; skip {
				continue
			}
			tagged, err := t.TagRecord(ctx, rec)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				t.logger.Error("record tagging failed",
					logging.WithField("record_id", rec.ID),
					logging.WithField("error", err.Error()))
				failed[rec.ID] = struct{}{}
				report.Failed++
				continue
			}
			progressed = true
			report.Checked++
			report.Tagged += tagged
		}

		// Failed records stay untagged and would be re-listed forever;
		// stop once a batch yields nothing new.
		if len(records) == 0 || !progressed {
			break
		}
	}

	t.logger.Info("tagging pass complete",
		logging.WithField("checked", report.Checked),
		logging.WithField("tagged", report.Tagged),
		logging.WithField("failed", report.Failed))
	return report, nil
}

// TagRecord scans one record and stores its tags. Returns the number of
// new tags written.
func (t *Tagger) TagRecord(ctx context.Context, rec models.ContentRecord) (int, error) {
	spans := t.current().FindSpans(rec.TagText())

	// The same entity can appear at identical offsets via name and alias
	// normalization; keep one tag per unique key.
	seen := make(map[models.TagKey]struct{}, len(spans))
	tags := make([]models.EntityTag, 0, len(spans))
	for _, span := range spans {
		tag := models.EntityTag{
			RecordID:   rec.ID,
			EntityType: span.EntityType,
			EntityID:   span.EntityID,
			EntityName: span.EntityName,
			StartChar:  span.Start,
			EndChar:    span.End,
		}
		if _, dup := seen[tag.Key()]; dup {
			continue
		}
		seen[tag.Key()] = struct{}{}
		tags = append(tags, tag)
	}

	inserted, err := t.tags.InsertTags(ctx, tags)
	if err != nil {
		return 0, fmt.Errorf("insert tags for record %s: %w", rec.ID, err)
	}

	if err := t.store.MarkTagged(ctx, rec.ID); err != nil {
		return inserted, fmt.Errorf("mark record %s tagged: %w", rec.ID, err)
	}
	return inserted, nil
}

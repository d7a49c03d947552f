package dedup

import (
	"sort"

	"github.com/rfletcher/intelforge/internal/models"
)

// PlanSweep decides which records an administrative deduplication sweep
// should delete. For every URL that appears more than once, the
// earliest-created record is kept and all later ones are deleted. Ties on
// creation time break on record ID so the plan is deterministic.
//
// The function is pure; the caller executes the returned deletions in a
// single transaction.
func PlanSweep(records []models.ContentRecord) []string {
	byURL := make(map[string][]models.ContentRecord)
	for _, rec := range records {
		key := CanonicalURL(rec.URL)
		byURL[key] = append(byURL[key], rec)
	}

	var doomed []string
	for _, group := range byURL {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		for _, dup := range group[1:] {
			doomed = append(doomed, dup.ID)
		}
	}

	sort.Strings(doomed)
	return doomed
}

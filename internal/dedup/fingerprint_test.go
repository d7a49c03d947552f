package dedup

import (
	"testing"
	"time"

	"github.com/rfletcher/intelforge/internal/models"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("https://example.com/post/1", "APT29 targets defense sector")
	b := Fingerprint("https://example.com/post/1", "APT29 targets defense sector")
	if a != b {
		t.Errorf("same input produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_ChangesWithInput(t *testing.T) {
	base := Fingerprint("https://example.com/post/1", "Title")

	if got := Fingerprint("https://example.com/post/2", "Title"); got == base {
		t.Error("changing URL did not change fingerprint")
	}
	if got := Fingerprint("https://example.com/post/1", "Other title"); got == base {
		t.Error("changing title did not change fingerprint")
	}
}

func TestFingerprint_NormalizedInputsCollapse(t *testing.T) {
	tests := []struct {
		name         string
		urlA, urlB   string
		titleA       string
		titleB       string
		wantSameHash bool
	}{
		{
			name:         "host case and trailing slash",
			urlA:         "https://Example.COM/post/1/",
			urlB:         "https://example.com/post/1",
			titleA:       "Title",
			titleB:       "Title",
			wantSameHash: true,
		},
		{
			name:         "query parameter order",
			urlA:         "https://example.com/p?b=2&a=1",
			urlB:         "https://example.com/p?a=1&b=2",
			titleA:       "Title",
			titleB:       "Title",
			wantSameHash: true,
		},
		{
			name:         "fragment ignored",
			urlA:         "https://example.com/p#section",
			urlB:         "https://example.com/p",
			titleA:       "Title",
			titleB:       "Title",
			wantSameHash: true,
		},
		{
			name:         "title whitespace collapsed",
			urlA:         "https://example.com/p",
			urlB:         "https://example.com/p",
			titleA:       "  A   B  ",
			titleB:       "A B",
			wantSameHash: true,
		},
		{
			name:         "path case preserved",
			urlA:         "https://example.com/Post",
			urlB:         "https://example.com/post",
			titleA:       "Title",
			titleB:       "Title",
			wantSameHash: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Fingerprint(tt.urlA, tt.titleA)
			b := Fingerprint(tt.urlB, tt.titleB)
			if (a == b) != tt.wantSameHash {
				t.Errorf("fingerprints equal = %v, want %v", a == b, tt.wantSameHash)
			}
		})
	}
}

func TestCanonicalURL_GarbageInput(t *testing.T) {
	// Must not panic and must stay deterministic.
	if CanonicalURL("not a url at all") != CanonicalURL("not a url at all") {
		t.Error("garbage input not deterministic")
	}
	if got := CanonicalURL("  https://example.com/x  "); got != "https://example.com/x" {
		t.Errorf("CanonicalURL trim = %q", got)
	}
}

func TestPlanSweep(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := func(id, url string, offset time.Duration) models.ContentRecord {
		return models.ContentRecord{ID: id, URL: url, CreatedAt: t0.Add(offset)}
	}

	// URLs [A, A, B, A] created at t1 < t2 < t3 < t4: keep t1 for A, keep B,
	// delete t2 and t4.
	records := []models.ContentRecord{
		rec("r1", "https://example.com/a", 0),
		rec("r2", "https://example.com/a", time.Hour),
		rec("r3", "https://example.com/b", 2*time.Hour),
		rec("r4", "https://example.com/a", 3*time.Hour),
	}

	doomed := PlanSweep(records)
	if len(doomed) != 2 {
		t.Fatalf("deleted count = %d, want 2 (%v)", len(doomed), doomed)
	}
	if doomed[0] != "r2" || doomed[1] != "r4" {
		t.Errorf("doomed = %v, want [r2 r4]", doomed)
	}
}

func TestPlanSweep_NoDuplicates(t *testing.T) {
	records := []models.ContentRecord{
		{ID: "r1", URL: "https://example.com/a", CreatedAt: time.Now()},
		{ID: "r2", URL: "https://example.com/b", CreatedAt: time.Now()},
	}
	if doomed := PlanSweep(records); len(doomed) != 0 {
		t.Errorf("expected empty plan, got %v", doomed)
	}
}

func TestPlanSweep_URLVariantsCollapse(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []models.ContentRecord{
		{ID: "r1", URL: "https://Example.com/a/", CreatedAt: t0},
		{ID: "r2", URL: "https://example.com/a", CreatedAt: t0.Add(time.Minute)},
	}
	doomed := PlanSweep(records)
	if len(doomed) != 1 || doomed[0] != "r2" {
		t.Errorf("doomed = %v, want [r2]", doomed)
	}
}

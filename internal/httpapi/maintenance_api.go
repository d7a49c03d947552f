package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rfletcher/intelforge/internal/logging"
)

// MaintenanceAPI handles ingestion sweeps, deduplication, reference data
// refresh, and pipeline stats
type MaintenanceAPI struct {
	records  RecordService
	feeds    FeedService
	ingestor Ingestor
	refdata  RefdataService
	logger   *logging.Logger
}

// RegisterRoutes registers maintenance routes on the given mux
func (api *MaintenanceAPI) RegisterRoutes(mux *http.ServeMux, corsMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/ingest", corsMiddleware(api.ingestAll))
	mux.HandleFunc("POST /api/maintenance/dedup", corsMiddleware(api.dedup))
	mux.HandleFunc("POST /api/refdata/refresh", corsMiddleware(api.refreshRefdata))
	mux.HandleFunc("GET /api/stats", corsMiddleware(api.stats))
}

func (api *MaintenanceAPI) ingestAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	report, err := api.ingestor.IngestAll(ctx)
	if err != nil {
		api.logger.Error("Ingestion sweep failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (api *MaintenanceAPI) dedup(w http.ResponseWriter, r *http.Request) {
	deleted, err := api.records.DeduplicateSweep(r.Context())
	if err != nil {
		api.logger.Error("Dedup sweep failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"deleted": deleted,
	})
}

func (api *MaintenanceAPI) refreshRefdata(w http.ResponseWriter, r *http.Request) {
	if api.refdata == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "reference data refresh not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := api.refdata.Refresh(ctx); err != nil {
		api.logger.Error("Reference data refresh failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusBadGateway, codeUpstream, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "refreshed",
	})
}

func (api *MaintenanceAPI) stats(w http.ResponseWriter, r *http.Request) {
	feeds, err := api.feeds.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	perFeed, err := api.records.CountByFeed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	pending, err := api.records.CountPendingSummaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	total := 0
	feedStats := make([]map[string]interface{}, 0, len(feeds))
	for _, feed := range feeds {
		n := perFeed[feed.ID]
		total += n
		feedStats = append(feedStats, map[string]interface{}{
			"feed_id": feed.ID,
			"url":     feed.URL,
			"title":   feed.Title,
			"records": n,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feeds":             feedStats,
		"total_records":     total,
		"pending_summaries": pending,
	})
}

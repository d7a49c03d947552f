package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rfletcher/intelforge/internal/database"
	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
)

// RecordAPI handles HTTP API requests for ingested content
type RecordAPI struct {
	records    RecordService
	tags       TagService
	summarizer SummaryService
	tagger     TaggerService
	logger     *logging.Logger
}

// RegisterRoutes registers record routes on the given mux
func (api *RecordAPI) RegisterRoutes(mux *http.ServeMux, corsMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/records", corsMiddleware(api.listRecords))
	mux.HandleFunc("GET /api/records/{id}", corsMiddleware(api.getRecord))
	mux.HandleFunc("POST /api/records/{id}/summarize", corsMiddleware(api.summarizeRecord))
	mux.HandleFunc("POST /api/records/{id}/tags", corsMiddleware(api.tagRecord))
}

func (api *RecordAPI) listRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 50
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	offset := 0
	if o := query.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	params := models.FilterParams{
		Query:    query.Get("q"),
		FeedID:   query.Get("feed_id"),
		Category: query.Get("category"),
		Limit:    limit,
		Offset:   offset,
	}

	records, total, err := api.records.Search(r.Context(), params)
	if err != nil {
		api.logger.Error("Record search failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (api *RecordAPI) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := api.records.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "record not found")
			return
		}
		api.logger.Error("Get record failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	tags, err := api.tags.ListForRecord(r.Context(), rec.ID)
	if err != nil {
		api.logger.Error("Tag list failed",
			logging.WithField("record_id", rec.ID),
			logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record": rec,
		"tags":   tags,
	})
}

type summarizeRequest struct {
	Force bool `json:"force"`
}

func (api *RecordAPI) summarizeRecord(w http.ResponseWriter, r *http.Request) {
	if api.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "no summarization backend configured")
		return
	}

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid request body")
		return
	}

	summary, err := api.summarizer.Summarize(r.Context(), r.PathValue("id"), req.Force)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "record not found")
			return
		}
		api.logger.Error("Summarize failed",
			logging.WithField("record_id", r.PathValue("id")),
			logging.WithField("error", err.Error()))
		writeError(w, http.StatusBadGateway, codeUpstream, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":      r.PathValue("id"),
		"summary": summary,
	})
}

func (api *RecordAPI) tagRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := api.records.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if rec.TagText() == "" {
		writeError(w, http.StatusConflict, codeInvalidInput, "record has no text to scan")
		return
	}

	tagged, err := api.tagger.TagRecord(r.Context(), rec)
	if err != nil {
		api.logger.Error("Tagging failed",
			logging.WithField("record_id", rec.ID),
			logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	tags, err := api.tags.ListForRecord(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       rec.ID,
		"new_tags": tagged,
		"tags":     tags,
	})
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rfletcher/intelforge/internal/database"
	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
)

// FeedAPI handles HTTP API requests for the feed registry
type FeedAPI struct {
	feeds    FeedService
	ingestor Ingestor
	logger   *logging.Logger
}

// RegisterRoutes registers feed routes on the given mux
func (api *FeedAPI) RegisterRoutes(mux *http.ServeMux, corsMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/feeds", corsMiddleware(api.listFeeds))
	mux.HandleFunc("POST /api/feeds", corsMiddleware(api.createFeed))
	mux.HandleFunc("GET /api/feeds/{id}", corsMiddleware(api.getFeed))
	mux.HandleFunc("DELETE /api/feeds/{id}", corsMiddleware(api.deleteFeed))
	mux.HandleFunc("POST /api/feeds/{id}/ingest", corsMiddleware(api.ingestFeed))
}

func (api *FeedAPI) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := api.feeds.List(r.Context())
	if err != nil {
		api.logger.Error("Feed list failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"count": len(feeds),
	})
}

type createFeedRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

func (api *FeedAPI) createFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "url is required")
		return
	}
	if parsed, err := url.Parse(req.URL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "url must be http or https")
		return
	}

	feed, err := api.feeds.Create(r.Context(), models.Feed{
		URL:      req.URL,
		Title:    strings.TrimSpace(req.Title),
		Category: strings.TrimSpace(req.Category),
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, codeInvalidInput, "feed url already registered")
			return
		}
		api.logger.Error("Create feed failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, feed)
}

func (api *FeedAPI) getFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := api.feeds.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "feed not found")
			return
		}
		api.logger.Error("Get feed failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, feed)
}

func (api *FeedAPI) deleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := api.feeds.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "feed not found")
			return
		}
		api.logger.Error("Delete feed failed", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *FeedAPI) ingestFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	report, err := api.ingestor.IngestFeed(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "feed not found")
			return
		}
		api.logger.Error("Feed ingestion failed",
			logging.WithField("feed_id", r.PathValue("id")),
			logging.WithField("error", err.Error()))
		writeError(w, http.StatusBadGateway, codeUpstream, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

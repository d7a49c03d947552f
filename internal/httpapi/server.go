package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
)

// Error codes returned in API error payloads.
const (
	codeNotFound     = "not_found"
	codeInvalidInput = "invalid_input"
	codeUpstream     = "upstream_error"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal_error"
)

// FeedService manages the feed registry.
type FeedService interface {
	List(ctx context.Context) ([]models.Feed, error)
	GetByID(ctx context.Context, id string) (models.Feed, error)
	Create(ctx context.Context, feed models.Feed) (models.Feed, error)
	Delete(ctx context.Context, id string) error
}

// RecordService reads and maintains stored content records.
type RecordService interface {
	Search(ctx context.Context, params models.FilterParams) ([]models.ContentRecord, int, error)
	GetByID(ctx context.Context, id string) (models.ContentRecord, error)
	DeduplicateSweep(ctx context.Context) (int, error)
	CountByFeed(ctx context.Context) (map[string]int, error)
	CountPendingSummaries(ctx context.Context) (int, error)
}

// TagService reads stored entity tags.
type TagService interface {
	ListForRecord(ctx context.Context, recordID string) ([]models.EntityTag, error)
}

// Ingestor runs feed ingestion.
type Ingestor interface {
	IngestAll(ctx context.Context) (models.SweepReport, error)
	IngestFeed(ctx context.Context, feedID string) (models.IngestReport, error)
}

// SummaryService generates summaries on demand. Nil when no summarization
// backend is configured.
type SummaryService interface {
	Summarize(ctx context.Context, recordID string, force bool) (string, error)
}

// TaggerService scans a single record for entity mentions.
type TaggerService interface {
	TagRecord(ctx context.Context, rec models.ContentRecord) (int, error)
}

// RefdataService reloads threat reference data.
type RefdataService interface {
	Refresh(ctx context.Context) error
}

type Server struct {
	feeds      FeedService
	records    RecordService
	tags       TagService
	ingestor   Ingestor
	summarizer SummaryService
	tagger     TaggerService
	refdata    RefdataService
	logger     *logging.Logger
	server     *http.Server
}

func New(feeds FeedService, records RecordService, tags TagService, ingestor Ingestor, summarizer SummaryService, tagger TaggerService, refdata RefdataService, logger *logging.Logger) *Server {
	return &Server{
		feeds:      feeds,
		records:    records,
		tags:       tags,
		ingestor:   ingestor,
		summarizer: summarizer,
		tagger:     tagger,
		refdata:    refdata,
		logger:     logger,
	}
}

// Handler builds the route table. Split out from Start so tests can drive
// the mux directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	feedAPI := &FeedAPI{feeds: s.feeds, ingestor: s.ingestor, logger: s.logger}
	feedAPI.RegisterRoutes(mux, s.corsMiddleware)

	recordAPI := &RecordAPI{records: s.records, tags: s.tags, summarizer: s.summarizer, tagger: s.tagger, logger: s.logger}
	recordAPI.RegisterRoutes(mux, s.corsMiddleware)

	maintAPI := &MaintenanceAPI{records: s.records, feeds: s.feeds, ingestor: s.ingestor, refdata: s.refdata, logger: s.logger}
	maintAPI.RegisterRoutes(mux, s.corsMiddleware)

	// Method-scoped patterns never match preflight requests, so CORS
	// headers for OPTIONS need their own route.
	mux.HandleFunc("OPTIONS /api/", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))

	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/skalter/playtrace/internal/db"
	"github.com/skalter/playtrace/internal/ingest"
	"github.com/skalter/playtrace/internal/jobs"
	"github.com/skalter/playtrace/internal/logging"
	spotifyclient "github.com/skalter/playtrace/internal/spotify"
	"github.com/skalter/playtrace/internal/stats"
)

// Importer is the ingestion surface the handlers call.
type Importer interface {
	StartImport(ctx context.Context, userID string, archive []byte) (string, error)
	SyncRecent(ctx context.Context, userID string, fetcher ingest.RecentFetcher) (*ingest.SyncResult, error)
	JobStatus(ctx context.Context, userID, jobID string) (*jobs.Job, error)
}

// SummaryReader serves stored user summaries.
type SummaryReader interface {
	GetSummary(ctx context.Context, userID string) (*db.UserSummary, error)
}

// AggregationReader serves stored aggregate payloads.
type AggregationReader interface {
	GetAggregation(ctx context.Context, userID string, kind stats.Kind, grouping stats.Grouping) (json.RawMessage, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	identity        Identity
	importer        Importer
	summaries       SummaryReader
	aggregations    AggregationReader
	maxArchiveBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(identity Identity, importer Importer, summaries SummaryReader, aggregations AggregationReader, maxArchiveBytes int64) *Handlers {
	return &Handlers{
		identity:        identity,
		importer:        importer,
		summaries:       summaries,
		aggregations:    aggregations,
		maxArchiveBytes: maxArchiveBytes,
	}
}

// StartImport accepts an uploaded history archive and starts a
// background ingestion job (POST /api/history/import). The response
// carries the job id immediately; clients poll the job endpoint for
// progress and failures.
func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	archive, err := h.readArchive(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded archive")
		return
	}

	jobID, err := h.importer.StartImport(r.Context(), userID, archive)
	if err != nil {
		logging.Error().Err(err).Msg("starting import failed")
		writeError(w, http.StatusInternalServerError, "could not start import")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// SyncRecent runs an incremental sync of recently played tracks
// (POST /api/history/sync). The bearer credential from the auth
// collaborator authenticates the upstream fetch.
func (h *Handlers) SyncRecent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	token, err := h.identity.BearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing streaming credential")
		return
	}

	client := spotifyclient.NewWithToken(r.Context(), &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})

	result, err := h.importer.SyncRecent(r.Context(), userID, client)
	if err != nil {
		logging.Error().Str("user_id", userID).Err(err).Msg("sync failed")
		writeError(w, http.StatusBadGateway, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// JobStatus returns the status of an ingestion job
// (GET /api/jobs/{jobID}). Lost records younger than the retention
// window come back as best-effort reconstructions, never a 404.
func (h *Handlers) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	job, err := h.importer.JobStatus(r.Context(), userID, chi.URLParam(r, "jobID"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("reading job status failed")
		writeError(w, http.StatusInternalServerError, "could not read job status")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// summaryResponse is the read API shape for a user summary. Times are
// pointers so a user with no data serializes as explicit nulls rather
// than zero timestamps.
type summaryResponse struct {
	TotalTracks          int64      `json:"totalTracks"`
	TotalArtists         int64      `json:"totalArtists"`
	TotalListeningTimeMs int64      `json:"totalListeningTimeMs"`
	DateRangeStart       *time.Time `json:"dateRangeStart"`
	DateRangeEnd         *time.Time `json:"dateRangeEnd"`
	UploadedAt           *time.Time `json:"uploadedAt"`
}

// Summary returns the user's stored rollup (GET /api/stats/summary).
// A user with no completed ingestion gets an empty summary, not an
// error.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	stored, err := h.summaries.GetSummary(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusOK, summaryResponse{})
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("reading summary failed")
		writeError(w, http.StatusInternalServerError, "could not read summary")
		return
	}

	resp := summaryResponse{
		TotalTracks:          stored.Summary.TotalTracks,
		TotalArtists:         stored.Summary.TotalArtists,
		TotalListeningTimeMs: stored.Summary.TotalListeningTimeMs,
		UploadedAt:           &stored.UploadedAt,
	}
	if stored.Summary.TotalTracks > 0 {
		resp.DateRangeStart = &stored.Summary.DateRangeStart
		resp.DateRangeEnd = &stored.Summary.DateRangeEnd
	}
	writeJSON(w, http.StatusOK, resp)
}

// aggregationResponse wraps a stored aggregate payload.
type aggregationResponse struct {
	Kind     stats.Kind      `json:"kind"`
	Grouping stats.Grouping  `json:"grouping,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Aggregation returns one stored aggregate view
// (GET /api/stats/{kind}?grouping=). The grouping parameter applies only
// to date-frequency and defaults to day. A view that has not been
// computed yet comes back with an empty payload, not an error.
func (h *Handlers) Aggregation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	kind := stats.Kind(chi.URLParam(r, "kind"))
	if !stats.ValidKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown aggregation kind")
		return
	}

	grouping := stats.GroupingNone
	if kind == stats.KindDateFrequency {
		grouping = stats.Grouping(r.URL.Query().Get("grouping"))
		switch grouping {
		case stats.GroupingNone:
			grouping = stats.GroupingDay
		case stats.GroupingDay, stats.GroupingMonth, stats.GroupingYear:
		default:
			writeError(w, http.StatusBadRequest, "unknown grouping")
			return
		}
	}

	payload, err := h.aggregations.GetAggregation(r.Context(), userID, kind, grouping)
	if errors.Is(err, db.ErrNotFound) {
		payload = json.RawMessage("[]")
	} else if err != nil {
		logging.Error().Err(err).Msg("reading aggregation failed")
		writeError(w, http.StatusInternalServerError, "could not read aggregation")
		return
	}

	writeJSON(w, http.StatusOK, aggregationResponse{
		Kind:     kind,
		Grouping: grouping,
		Payload:  payload,
	})
}

// requireUser resolves the requesting user or writes a 401.
func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.identity.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return userID, true
}

// readArchive reads the uploaded archive from either a multipart form
// (field "archive") or a raw request body.
func (h *Handlers) readArchive(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxArchiveBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("archive")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// writeJSON serializes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encoding response failed")
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Package frontend serves the HTTP API: uploads, the dashboard and the job
// listing.
package frontend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"go.buildstats.org/infra/buildstats/go/dashboard"
	"go.buildstats.org/infra/buildstats/go/extractor"
	"go.buildstats.org/infra/buildstats/go/filestore"
	"go.buildstats.org/infra/buildstats/go/ingest/format"
	"go.buildstats.org/infra/buildstats/go/joblog"
	"go.buildstats.org/infra/buildstats/go/queue"
	"go.buildstats.org/infra/buildstats/go/store"
	"go.buildstats.org/infra/go/httputils"
	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/now"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
)

// maxUploadBytes caps the upload body. Build logs for large projects run to
// tens of megabytes; anything over this is rejected.
const maxUploadBytes = 100 * 1024 * 1024

// defaultJobListLimit is how many job log entries GET /v1/jobs returns when
// no limit is given.
const defaultJobListLimit = 100

// defaultStatisticsDays is the window GET /v1/statistics/builds covers when
// no range is given.
const defaultStatisticsDays = 14

// Frontend routes HTTP requests to the stores and the queue.
type Frontend struct {
	builds store.Store
	jobs   joblog.Store
	files  filestore.Store

	// q is nil when asynchronous uploads are disabled.
	q queue.Queue
}

// New returns a *Frontend. Passing a nil queue disables PUT /v1/metrics;
// the synchronous endpoint keeps working.
func New(builds store.Store, jobs joblog.Store, files filestore.Store, q queue.Queue) *Frontend {
	return &Frontend{
		builds: builds,
		jobs:   jobs,
		files:  files,
		q:      q,
	}
}

// RegisterHandlers registers all routes on the given router.
func (f *Frontend) RegisterHandlers(router *chi.Mux) {
	router.Put("/v1/metrics", f.uploadHandler)
	router.Put("/v1/metrics-sync", f.uploadSyncHandler)
	router.Get("/v1/dashboard", f.dashboardHandler)
	router.Get("/v1/statistics/builds", f.buildStatisticsHandler)
	router.Get("/v1/jobs", f.jobsHandler)
	router.Get("/healthz", httputils.HealthzHandler)
	router.Handle("/metrics", metrics2.Handler())
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		sklog.Errorf("Writing JSON response: %s", err)
	}
}

// uploadHandler accepts an upload, stores the raw log and queues it for
// asynchronous ingestion.
func (f *Frontend) uploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if f.q == nil {
		httputils.ReportError(w, skerr.Fmt("async disabled"), "Asynchronous uploads are disabled on this instance.", http.StatusNotFound)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	rawLog, facts, err := format.ParseMultipart(r)
	if err != nil {
		httputils.ReportError(w, err, "Invalid upload payload.", http.StatusBadRequest)
		return
	}

	name := fmt.Sprintf("%s/%s.json", now.Now(ctx).UTC().Format("2006/01/02"), uuid.NewString())
	locator, err := f.files.Put(ctx, name, bytes.NewReader(rawLog))
	if err != nil {
		httputils.ReportError(w, err, "Failed to store the build log.", http.StatusInternalServerError)
		return
	}
	entry, err := f.jobs.Create(ctx, name, name, locator)
	if err != nil {
		httputils.ReportError(w, err, "Failed to record the job.", http.StatusInternalServerError)
		return
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		httputils.ReportError(w, err, "Failed to encode the request facts.", http.StatusInternalServerError)
		return
	}
	if err := f.q.Enqueue(ctx, queue.Message{
		JobID:   entry.ID,
		Locator: locator,
		Facts:   factsJSON,
	}); err != nil {
		httputils.ReportError(w, err, "Failed to queue the job.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, entry)
}

// uploadSyncHandler runs the whole pipeline inline and answers 201 once the
// build is stored.
func (f *Frontend) uploadSyncHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	rawLog, facts, err := format.ParseMultipart(r)
	if err != nil {
		httputils.ReportError(w, err, "Invalid upload payload.", http.StatusBadRequest)
		return
	}
	steps, err := format.ParseSteps(rawLog)
	if err != nil {
		httputils.ReportError(w, err, "Invalid step sequence.", http.StatusBadRequest)
		return
	}
	agg, err := extractor.Extract(ctx, steps, facts.ExtractorFacts())
	if err != nil {
		httputils.ReportError(w, err, "Failed to extract build metrics.", http.StatusBadRequest)
		return
	}
	facts.Decorate(agg)
	if err := f.builds.InsertBuildMetrics(ctx, agg); err != nil {
		httputils.ReportError(w, err, "Failed to store build metrics.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	sendJSON(w, map[string]string{"id": agg.Build.ID})
}

// parseTimeParam reads an RFC 3339 query parameter, falling back to the
// given default when absent.
func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, skerr.Wrapf(err, "Parsing %q", name)
	}
	return t, nil
}

func (f *Frontend) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n := now.Now(ctx)
	to, err := parseTimeParam(r, "to", n)
	if err != nil {
		httputils.ReportError(w, err, "Invalid 'to' parameter.", http.StatusBadRequest)
		return
	}
	from, err := parseTimeParam(r, "from", to.Add(-24*time.Hour))
	if err != nil {
		httputils.ReportError(w, err, "Invalid 'from' parameter.", http.StatusBadRequest)
		return
	}
	summary, err := dashboard.Summarize(ctx, f.jobs, from, to)
	if err != nil {
		httputils.ReportError(w, err, "Failed to summarize jobs.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, summary)
}

func (f *Frontend) buildStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n := now.Now(ctx)
	to, err := parseTimeParam(r, "to", n)
	if err != nil {
		httputils.ReportError(w, err, "Invalid 'to' parameter.", http.StatusBadRequest)
		return
	}
	from, err := parseTimeParam(r, "from", to.AddDate(0, 0, -(defaultStatisticsDays-1)))
	if err != nil {
		httputils.ReportError(w, err, "Invalid 'from' parameter.", http.StatusBadRequest)
		return
	}
	counts, err := f.builds.BuildCountsPerDay(ctx, from, to)
	if err != nil {
		httputils.ReportError(w, err, "Failed to count builds.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, counts)
}

func (f *Frontend) jobsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := f.jobs.List(r.Context(), defaultJobListLimit)
	if err != nil {
		httputils.ReportError(w, err, "Failed to list jobs.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, entries)
}

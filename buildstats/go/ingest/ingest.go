// Package ingest runs the asynchronous workers that turn queued uploads
// into stored build metrics.
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"go.buildstats.org/infra/buildstats/go/extractor"
	"go.buildstats.org/infra/buildstats/go/filestore"
	"go.buildstats.org/infra/buildstats/go/ingest/format"
	"go.buildstats.org/infra/buildstats/go/joblog"
	"go.buildstats.org/infra/buildstats/go/queue"
	"go.buildstats.org/infra/buildstats/go/store"
	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
	"go.buildstats.org/infra/go/timer"
	"go.buildstats.org/infra/go/util"
)

// Worker consumes ingestion jobs from the queue and runs them through the
// parse, extract and store pipeline.
type Worker struct {
	queue       queue.Queue
	files       filestore.Store
	builds      store.Store
	jobs        joblog.Store
	parallelism int

	successCounter metrics2.Counter
	failureCounter metrics2.Counter
	liveness       metrics2.Liveness
}

// New returns a *Worker. A parallelism of 0 or less means one worker per
// CPU.
func New(q queue.Queue, files filestore.Store, builds store.Store, jobs joblog.Store, parallelism int) *Worker {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	return &Worker{
		queue:          q,
		files:          files,
		builds:         builds,
		jobs:           jobs,
		parallelism:    parallelism,
		successCounter: metrics2.GetCounter("buildstats_ingest_success"),
		failureCounter: metrics2.GetCounter("buildstats_ingest_failure"),
		liveness:       metrics2.NewLiveness("buildstats_ingest"),
	}
}

// Start consumes jobs until ctx is cancelled. Jobs are processed with
// bounded parallelism; there is no ordering guarantee across builds.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.queue.Start(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	sklog.Infof("Ingest starting with %d workers.", w.parallelism)
	var g errgroup.Group
	for i := 0; i < w.parallelism; i++ {
		g.Go(func() error {
			for d := range deliveries {
				w.handle(ctx, d)
			}
			return nil
		})
	}
	return skerr.Wrap(g.Wait())
}

// handle runs one delivery and settles it. A failed job is nacked so the
// queue redelivers it; the build-id dedup in the store makes the re-run
// idempotent.
func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	defer timer.New("ingest_job").Stop()
	if err := w.processOne(ctx, d.Message); err != nil {
		sklog.Errorf("Job %q failed: %s", d.Message.JobID, err)
		w.failureCounter.Inc(1)
		if logErr := w.jobs.SetStatus(ctx, d.Message.JobID, joblog.StatusFailed, err.Error()); logErr != nil {
			sklog.Errorf("Recording failure of job %q: %s", d.Message.JobID, logErr)
		}
		d.Nack()
		return
	}
	w.successCounter.Inc(1)
	w.liveness.Reset()
	if err := w.jobs.SetStatus(ctx, d.Message.JobID, joblog.StatusSuccessful, ""); err != nil {
		sklog.Errorf("Recording success of job %q: %s", d.Message.JobID, err)
	}
	d.Ack()
}

func (w *Worker) processOne(ctx context.Context, msg queue.Message) error {
	if err := w.jobs.SetStatus(ctx, msg.JobID, joblog.StatusRunning, ""); err != nil {
		return skerr.Wrap(err)
	}
	var facts format.RequestFacts
	if len(msg.Facts) > 0 {
		if err := json.Unmarshal(msg.Facts, &facts); err != nil {
			return skerr.Wrapf(err, "Decoding request facts for job %q", msg.JobID)
		}
	}
	raw, cleanup, err := w.fetchLog(ctx, msg.Locator)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer cleanup()
	steps, err := format.ParseSteps(raw)
	if err != nil {
		return skerr.Wrap(err)
	}
	agg, err := extractor.Extract(ctx, steps, facts.ExtractorFacts())
	if err != nil {
		return skerr.Wrap(err)
	}
	facts.Decorate(agg)
	if err := w.builds.InsertBuildMetrics(ctx, agg); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// fetchLog copies the raw log to a local temp file and returns its
// contents. The returned cleanup removes the temp copy; removal failures
// are only logged.
func (w *Worker) fetchLog(ctx context.Context, locator string) ([]byte, func(), error) {
	r, err := w.files.Get(ctx, locator)
	if err != nil {
		return nil, nil, skerr.Wrapf(err, "Fetching %q", locator)
	}
	defer util.Close(r)
	tmp, err := os.CreateTemp("", "buildstats-log-*")
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	cleanup := func() {
		util.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return nil, nil, skerr.Wrapf(err, "Copying %q", locator)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, nil, skerr.Wrap(err)
	}
	raw, err := os.ReadFile(tmp.Name())
	if err != nil {
		cleanup()
		return nil, nil, skerr.Wrap(err)
	}
	return raw, cleanup, nil
}

package cmd

import (
	"context"

	"go.buildstats.org/infra/buildstats/go/builders"
	"go.buildstats.org/infra/buildstats/go/config"
	"go.buildstats.org/infra/buildstats/go/filestore"
	"go.buildstats.org/infra/buildstats/go/frontend"
	"go.buildstats.org/infra/buildstats/go/ingest"
	"go.buildstats.org/infra/buildstats/go/joblog"
	"go.buildstats.org/infra/buildstats/go/queue"
	"go.buildstats.org/infra/buildstats/go/store"
	"go.buildstats.org/infra/go/skerr"
)

// buildFrontend constructs the Frontend and, when asynchronous uploads are
// enabled, its queue.
func buildFrontend(ctx context.Context, instanceConfig *config.InstanceConfig, builds store.Store, jobs joblog.Store, files filestore.Store) (*frontend.Frontend, queue.Queue, error) {
	var q queue.Queue
	if instanceConfig.AsyncEnabled {
		var err error
		q, err = builders.NewQueueFromConfig(ctx, instanceConfig)
		if err != nil {
			return nil, nil, skerr.Wrap(err)
		}
	}
	return frontend.New(builds, jobs, files, q), q, nil
}

// newWorker constructs the ingestion worker from the config.
func newWorker(ctx context.Context, instanceConfig *config.InstanceConfig) (*ingest.Worker, error) {
	builds, err := builders.NewBuildStoreFromConfig(ctx, instanceConfig, applySchema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	jobs, err := builders.NewJobLogStoreFromConfig(ctx, instanceConfig, applySchema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	files, err := builders.NewFileStoreFromConfig(ctx, instanceConfig)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	q, err := builders.NewQueueFromConfig(ctx, instanceConfig)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return ingest.New(q, files, builds, jobs, 0), nil
}

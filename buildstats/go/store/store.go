// Package store defines the interface for persisting build metrics.
package store

import (
	"context"
	"time"

	"go.buildstats.org/infra/buildstats/go/types"
)

// DayCount is the number of builds ingested on one calendar day.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// Store is the interface used to persist and read back build metrics.
type Store interface {
	// InsertBuildMetrics durably stores the aggregate. The insert is
	// idempotent on the build id: re-submitting an already stored build is a
	// successful no-op. All rows of one build are written in a single
	// transaction, so readers never observe a partially populated build.
	InsertBuildMetrics(ctx context.Context, agg *types.Aggregate) error

	// GetBuild returns the build with the given id, or an error if no such
	// build exists.
	GetBuild(ctx context.Context, id string) (*types.Build, error)

	// ListBuilds returns the builds for the given project on the given day,
	// most recent first.
	ListBuilds(ctx context.Context, projectName string, day time.Time) ([]*types.Build, error)

	// BuildCountsPerDay returns one entry for every day in [from, to]
	// inclusive, oldest day first. Days with no builds are zero-filled.
	BuildCountsPerDay(ctx context.Context, from, to time.Time) ([]DayCount, error)
}

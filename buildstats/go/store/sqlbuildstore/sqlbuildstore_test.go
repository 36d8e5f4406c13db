package sqlbuildstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	buildsql "go.buildstats.org/infra/buildstats/go/sql"
	"go.buildstats.org/infra/buildstats/go/sql/sqltest"
	"go.buildstats.org/infra/buildstats/go/types"
)

func testAggregate(id string, startedAt time.Time) *types.Aggregate {
	endedAt := startedAt.Add(42 * time.Second)
	agg := &types.Aggregate{
		Build: types.Build{
			ID:                   id,
			ProjectName:          "App",
			MachineName:          "mymac",
			Schema:               "7",
			StartedAt:            startedAt,
			EndedAt:              endedAt,
			CompilationEndedAt:   endedAt,
			StartTimestamp:       types.TimeToTimestamp(startedAt),
			EndTimestamp:         types.TimeToTimestamp(endedAt),
			CompilationTimestamp: types.TimeToTimestamp(endedAt),
			DurationSeconds:      42,
			CompilationSeconds:   40,
			BuildStatus:          types.BuildStatusSucceeded,
			WarningCount:         1,
			Category:             types.CategoryIncremental,
			CompiledCount:        3,
			UserID:               "alice",
			UserID256:            "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90",
		},
		Targets: []types.Target{
			{
				ID:              id + "_t1",
				BuildIdentifier: id,
				Name:            "App",
				StartedAt:       startedAt,
				EndedAt:         endedAt,
				Category:        types.CategoryIncremental,
				CompiledCount:   3,
			},
		},
		Steps: []types.Step{
			{
				ID:               id + "_s1",
				BuildIdentifier:  id,
				TargetIdentifier: id + "_t1",
				Title:            "Compile main.swift",
				Type:             types.DetailStepSwiftCompilation,
				StartedAt:        startedAt,
				EndedAt:          endedAt,
			},
		},
		Warnings: []types.BuildNotice{
			{
				ID:               id + "_w1",
				BuildIdentifier:  id,
				ParentIdentifier: id,
				ParentType:       types.ParentTypeMain,
				Title:            "deprecated API",
				Severity:         1,
			},
		},
		SwiftFunctions: []types.SwiftTiming{
			{
				ID:              id + "_f1",
				BuildIdentifier: id,
				StepIdentifier:  id + "_s1",
				File:            "main.swift",
				StartingLine:    10,
				DurationMS:      12.5,
				Occurrences:     1,
			},
		},
		Host: &types.BuildHost{
			ID:              id + "_h1",
			BuildIdentifier: id,
			HostOS:          "macOS",
			CPUCount:        8,
		},
		XcodeVersion: &types.XcodeVersion{
			ID:              id + "_x1",
			BuildIdentifier: id,
			Version:         "14.3",
		},
		Metadata: &types.BuildMetadata{
			ID:              id + "_m1",
			BuildIdentifier: id,
			Metadata:        map[string]string{"branch": "main"},
		},
	}
	agg.SetDay(types.DayOf(startedAt))
	return agg
}

func TestInsertBuildMetrics_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	startedAt := time.Date(2023, time.June, 12, 14, 30, 0, 0, time.UTC)
	agg := testAggregate("mymac_b1", startedAt)
	require.NoError(t, s.InsertBuildMetrics(ctx, agg))

	got, err := s.GetBuild(ctx, "mymac_b1")
	require.NoError(t, err)
	require.Equal(t, "App", got.ProjectName)
	require.Equal(t, types.CategoryIncremental, got.Category)
	require.Equal(t, 3, got.CompiledCount)
	require.True(t, startedAt.Equal(got.StartedAt))
	require.True(t, types.DayOf(startedAt).Equal(got.Day))

	// Child rows landed in the day's partitions.
	for _, table := range []string{buildsql.TargetsTable, buildsql.StepsTable, buildsql.WarningsTable, buildsql.SwiftFunctionsTable, buildsql.HostsTable, buildsql.XcodeVersionsTable, buildsql.MetadataTable} {
		var count int
		partition := buildsql.PartitionName(table, agg.Build.Day)
		require.NoError(t, db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", partition)).Scan(&count))
		require.Equal(t, 1, count, table)
	}
}

func TestInsertBuildMetrics_DuplicateBuildID_IsNoOp(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	startedAt := time.Date(2023, time.June, 12, 14, 30, 0, 0, time.UTC)
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("mymac_b1", startedAt)))

	// A re-submission with different contents must not change anything.
	again := testAggregate("mymac_b1", startedAt)
	again.Build.ProjectName = "OtherApp"
	require.NoError(t, s.InsertBuildMetrics(ctx, again))

	got, err := s.GetBuild(ctx, "mymac_b1")
	require.NoError(t, err)
	require.Equal(t, "App", got.ProjectName)

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM builds").Scan(&count))
	require.Equal(t, 1, count)
}

func TestInsertBuildMetrics_MissingDay_StampedFromStartedAt(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	startedAt := time.Date(2023, time.June, 12, 23, 59, 59, 0, time.UTC)
	agg := testAggregate("mymac_b1", startedAt)
	agg.SetDay(time.Time{})
	require.NoError(t, s.InsertBuildMetrics(ctx, agg))

	got, err := s.GetBuild(ctx, "mymac_b1")
	require.NoError(t, err)
	require.True(t, types.DayOf(startedAt).Equal(got.Day))
}

func TestListBuilds_FiltersByProjectAndDay(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	day1 := time.Date(2023, time.June, 12, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("b1", day1)))
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("b2", day1.Add(time.Hour))))
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("b3", day2)))
	other := testAggregate("b4", day1)
	other.Build.ProjectName = "OtherApp"
	require.NoError(t, s.InsertBuildMetrics(ctx, other))

	builds, err := s.ListBuilds(ctx, "App", day1)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	// Most recent first.
	require.Equal(t, "b2", builds[0].ID)
	require.Equal(t, "b1", builds[1].ID)
}

func TestBuildCountsPerDay_ZeroFillsEveryDayInRange(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	from := time.Date(2023, time.June, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 4)
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("b1", from.Add(8*time.Hour))))
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("b2", from.Add(9*time.Hour))))
	require.NoError(t, s.InsertBuildMetrics(ctx, testAggregate("b3", from.AddDate(0, 0, 2))))

	counts, err := s.BuildCountsPerDay(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, counts, 5)
	want := []int{2, 0, 1, 0, 0}
	for i, dc := range counts {
		require.True(t, from.AddDate(0, 0, i).Equal(dc.Day))
		require.Equal(t, want[i], dc.Count)
	}
}

func TestBuildCountsPerDay_InvertedRange_ReturnsError(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	from := time.Date(2023, time.June, 10, 0, 0, 0, 0, time.UTC)
	_, err = s.BuildCountsPerDay(ctx, from, from.AddDate(0, 0, -1))
	require.Error(t, err)
}

func TestGetBuild_UnknownID_ReturnsError(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewPostgresDBForTests(ctx, t)
	s, err := New(db)
	require.NoError(t, err)

	_, err = s.GetBuild(ctx, "nope")
	require.Error(t, err)
}

package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.buildstats.org/infra/buildstats/go/types"
)

const (
	buildStart = 1686570000.25
	buildEnd   = 1686573600.75
)

func buildStep(id string) types.BuildStep {
	return types.BuildStep{
		Type:                 types.BuildStepTypeBuild,
		Identifier:           id,
		Title:                "Build App",
		Schema:               "7",
		MachineName:          "mymac",
		BuildStatus:          types.BuildStatusSucceeded,
		StartTimestamp:       buildStart,
		EndTimestamp:         buildEnd,
		CompilationTimestamp: buildEnd,
		Duration:             buildEnd - buildStart,
		CompilationDuration:  buildEnd - buildStart,
		WarningCount:         1,
	}
}

func targetStep(id, buildID, title string) types.BuildStep {
	return types.BuildStep{
		Type:             types.BuildStepTypeTarget,
		Identifier:       id,
		ParentIdentifier: buildID,
		Title:            title,
		StartTimestamp:   buildStart + 1,
		EndTimestamp:     buildEnd - 1,
	}
}

func detailStep(id, parentID string, sub types.DetailStepType, cached bool, start float64) types.BuildStep {
	return types.BuildStep{
		Type:             types.BuildStepTypeDetail,
		DetailStepType:   sub,
		Identifier:       id,
		ParentIdentifier: parentID,
		Title:            id,
		StartTimestamp:   start,
		EndTimestamp:     start + 1,
		FetchedFromCache: cached,
	}
}

func TestExtract_EmptySequence_ReturnsError(t *testing.T) {
	_, err := Extract(context.Background(), nil, Facts{})
	require.Error(t, err)
}

func TestExtract_FirstStepNotBuild_ReturnsError(t *testing.T) {
	steps := []types.BuildStep{targetStep("T1", "B", "App")}
	_, err := Extract(context.Background(), steps, Facts{})
	require.Error(t, err)
}

func TestExtract_BasicBuild_PopulatesBuildRecord(t *testing.T) {
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("T1", "mymac_b1", "App"),
		detailStep("S1", "T1", types.DetailStepSwiftCompilation, false, buildStart+2),
	}
	facts := Facts{
		ProjectName: "App",
		UserID:      "6384e2b2184bcbf58eccf10ca7a6563c",
		UserID256:   "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90",
		IsCI:        true,
		Tag:         "ci",
	}
	agg, err := Extract(context.Background(), steps, facts)
	require.NoError(t, err)

	b := agg.Build
	require.Equal(t, "mymac_b1", b.ID)
	require.Equal(t, "App", b.ProjectName)
	require.Equal(t, "mymac", b.MachineName)
	require.Equal(t, "7", b.Schema)
	require.Equal(t, types.BuildStatusSucceeded, b.BuildStatus)
	require.Equal(t, buildStart, b.StartTimestamp)
	require.True(t, types.TimestampToTime(buildStart).Equal(b.StartedAt))
	require.Equal(t, facts.UserID, b.UserID)
	require.Equal(t, facts.UserID256, b.UserID256)
	require.True(t, b.IsCI)
	require.Equal(t, "ci", b.Tag)
	require.False(t, b.WasSuspended)
	// The single target compiled its single step, so both are clean.
	require.Equal(t, types.CategoryClean, b.Category)
	require.Equal(t, 1, b.CompiledCount)

	require.Len(t, agg.Targets, 1)
	require.Equal(t, "T1", agg.Targets[0].ID)
	require.Equal(t, "App", agg.Targets[0].Name)
	require.Equal(t, types.CategoryClean, agg.Targets[0].Category)

	require.Len(t, agg.Steps, 1)
	require.Equal(t, "S1", agg.Steps[0].ID)
	require.Equal(t, "T1", agg.Steps[0].TargetIdentifier)
	require.Equal(t, "mymac_b1", agg.Steps[0].BuildIdentifier)
}

func TestExtract_FactsMachineName_OverridesRoot(t *testing.T) {
	steps := []types.BuildStep{buildStep("mymac_b1")}
	agg, err := Extract(context.Background(), steps, Facts{MachineName: "renamed"})
	require.NoError(t, err)
	require.Equal(t, "renamed", agg.Build.MachineName)
}

func TestExtract_SwiftStepsReparentedThroughAggregationNode(t *testing.T) {
	aggregation := types.BuildStep{
		Type:             types.BuildStepTypeDetail,
		DetailStepType:   types.DetailStepSwiftAggregated,
		Identifier:       "AGG1",
		ParentIdentifier: "T1",
	}
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("T1", "mymac_b1", "App"),
		aggregation,
		detailStep("S1", "AGG1", types.DetailStepSwiftCompilation, false, buildStart+2),
	}
	agg, err := Extract(context.Background(), steps, Facts{})
	require.NoError(t, err)

	// The swift step hangs off the aggregation node's target; the node
	// itself is not persisted.
	require.Len(t, agg.Steps, 1)
	require.Equal(t, "S1", agg.Steps[0].ID)
	require.Equal(t, "T1", agg.Steps[0].TargetIdentifier)
	// The re-parented step still counts for categorization.
	require.Equal(t, types.CategoryClean, agg.Targets[0].Category)
}

func TestExtract_DroppedStep_ContributesNoNoticesOrTimings(t *testing.T) {
	dangling := detailStep("GHOST", "NOT_A_TARGET", types.DetailStepCCompilation, false, buildStart+3)
	dangling.Warnings = []types.Notice{{Title: "dangling"}}
	dangling.Errors = []types.Notice{{Title: "dangling error"}}
	dangling.SwiftFunctionTimes = []types.FunctionTime{{File: "ghost.swift"}}
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("T1", "mymac_b1", "App"),
		detailStep("S1", "T1", types.DetailStepCCompilation, false, buildStart+2),
		dangling,
	}
	agg, err := Extract(context.Background(), steps, Facts{})
	require.NoError(t, err)

	require.Len(t, agg.Steps, 1)
	require.Equal(t, "S1", agg.Steps[0].ID)
	require.Empty(t, agg.Warnings)
	require.Empty(t, agg.Errors)
	require.Empty(t, agg.SwiftFunctions)
}

func TestExtract_UnresolvableSwiftStep_Dropped(t *testing.T) {
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("T1", "mymac_b1", "App"),
		detailStep("S1", "T1", types.DetailStepSwiftCompilation, false, buildStart+2),
		detailStep("GHOST", "NOT_A_TARGET", types.DetailStepSwiftCompilation, false, buildStart+3),
	}
	agg, err := Extract(context.Background(), steps, Facts{})
	require.NoError(t, err)

	require.Len(t, agg.Steps, 1)
	require.Equal(t, "S1", agg.Steps[0].ID)
}

func TestExtract_StepOrdering_TargetDescThenStartDesc(t *testing.T) {
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("TA", "mymac_b1", "A"),
		targetStep("TB", "mymac_b1", "B"),
		detailStep("S1", "TA", types.DetailStepCCompilation, false, buildStart+1),
		detailStep("S2", "TA", types.DetailStepCCompilation, false, buildStart+5),
		detailStep("S3", "TB", types.DetailStepCCompilation, false, buildStart+2),
	}
	agg, err := Extract(context.Background(), steps, Facts{})
	require.NoError(t, err)

	require.Len(t, agg.Steps, 3)
	require.Equal(t, "S3", agg.Steps[0].ID)
	require.Equal(t, "S2", agg.Steps[1].ID)
	require.Equal(t, "S1", agg.Steps[2].ID)
}

func TestExtract_Notices_BuildThenTargetThenStep(t *testing.T) {
	root := buildStep("mymac_b1")
	root.Warnings = []types.Notice{{Title: "build warning"}}
	target := targetStep("T1", "mymac_b1", "App")
	target.Warnings = []types.Notice{{Title: "target warning"}}
	detail := detailStep("S1", "T1", types.DetailStepSwiftCompilation, false, buildStart+2)
	detail.Warnings = []types.Notice{{Title: "step warning"}}
	detail.Errors = []types.Notice{{Title: "step error", Severity: 2}}

	agg, err := Extract(context.Background(), []types.BuildStep{root, target, detail}, Facts{})
	require.NoError(t, err)

	require.Len(t, agg.Warnings, 3)
	require.Equal(t, "build warning", agg.Warnings[0].Title)
	require.Equal(t, types.ParentTypeMain, agg.Warnings[0].ParentType)
	require.Equal(t, "mymac_b1", agg.Warnings[0].ParentIdentifier)
	require.Equal(t, "target warning", agg.Warnings[1].Title)
	require.Equal(t, types.ParentTypeTarget, agg.Warnings[1].ParentType)
	require.Equal(t, "step warning", agg.Warnings[2].Title)
	require.Equal(t, types.ParentTypeStep, agg.Warnings[2].ParentType)
	require.Equal(t, "S1", agg.Warnings[2].ParentIdentifier)

	require.Len(t, agg.Errors, 1)
	require.Equal(t, "step error", agg.Errors[0].Title)
	require.NotEmpty(t, agg.Errors[0].ID)
}

func TestExtract_SwiftTimings_KeyedByStep(t *testing.T) {
	detail := detailStep("S1", "T1", types.DetailStepSwiftCompilation, false, buildStart+2)
	detail.SwiftFunctionTimes = []types.FunctionTime{
		{File: "main.swift", DurationMS: 12.5, StartingLine: 10, Occurrences: 2},
	}
	detail.SwiftTypeCheckTimes = []types.TypeCheckTime{
		{File: "main.swift", DurationMS: 3.25, StartingLine: 20, Occurrences: 1},
	}
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("T1", "mymac_b1", "App"),
		detail,
	}
	agg, err := Extract(context.Background(), steps, Facts{})
	require.NoError(t, err)

	require.Len(t, agg.SwiftFunctions, 1)
	require.Equal(t, "S1", agg.SwiftFunctions[0].StepIdentifier)
	require.Equal(t, "mymac_b1", agg.SwiftFunctions[0].BuildIdentifier)
	require.Equal(t, 12.5, agg.SwiftFunctions[0].DurationMS)
	require.Len(t, agg.SwiftTypeChecks, 1)
	require.Equal(t, 3.25, agg.SwiftTypeChecks[0].DurationMS)
}

func TestExtract_WasSuspended(t *testing.T) {
	test := func(name string, sleepTime *time.Time, want bool) {
		t.Run(name, func(t *testing.T) {
			agg, err := Extract(context.Background(), []types.BuildStep{buildStep("mymac_b1")}, Facts{SleepTime: sleepTime})
			require.NoError(t, err)
			require.Equal(t, want, agg.Build.WasSuspended)
		})
	}
	after := types.TimestampToTime(buildStart).Add(time.Hour)
	before := types.TimestampToTime(buildStart).Add(-time.Hour)
	test("no sleep fact", nil, false)
	test("slept after start", &after, true)
	test("slept before start", &before, false)
}

func TestExtract_DayStampedOnEveryRecord(t *testing.T) {
	detail := detailStep("S1", "T1", types.DetailStepSwiftCompilation, false, buildStart+2)
	detail.Warnings = []types.Notice{{Title: "w"}}
	detail.SwiftFunctionTimes = []types.FunctionTime{{File: "main.swift"}}
	steps := []types.BuildStep{
		buildStep("mymac_b1"),
		targetStep("T1", "mymac_b1", "App"),
		detail,
	}
	agg, err := Extract(context.Background(), steps, Facts{})
	require.NoError(t, err)

	day := types.DayOf(types.TimestampToTime(buildStart))
	require.True(t, day.Equal(agg.Build.Day))
	for _, target := range agg.Targets {
		require.True(t, day.Equal(target.Day))
	}
	for _, step := range agg.Steps {
		require.True(t, day.Equal(step.Day))
	}
	for _, w := range agg.Warnings {
		require.True(t, day.Equal(w.Day))
	}
	for _, f := range agg.SwiftFunctions {
		require.True(t, day.Equal(f.Day))
	}
}

func TestExtract_NearMidnight_DayFromUTCStart(t *testing.T) {
	// 2023-06-12T23:59:59.5Z starts just before midnight UTC.
	root := buildStep("mymac_b1")
	root.StartTimestamp = 1686614399.5
	root.EndTimestamp = root.StartTimestamp + 60
	agg, err := Extract(context.Background(), []types.BuildStep{root}, Facts{})
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, time.June, 12, 0, 0, 0, 0, time.UTC), agg.Build.Day)
}

// Package extractor transforms the flattened build-step sequence produced by
// the external log parser into the Aggregate that gets stored.
package extractor

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opencensus.io/trace"

	"go.buildstats.org/infra/buildstats/go/categorizer"
	"go.buildstats.org/infra/buildstats/go/types"
	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
)

// Facts are request-supplied facts about a build that cannot be derived from
// the step sequence itself.
type Facts struct {
	ProjectName string
	MachineName string

	// UserID and UserID256 are the MD5 and SHA-256 digests of the invoking
	// user; the raw name is never carried past the upload parser.
	UserID    string
	UserID256 string

	IsCI bool
	Tag  string

	// SleepTime is the host's last recorded sleep time, if known. Used to
	// detect builds whose window spans a host suspension.
	SleepTime *time.Time
}

var (
	extractCounter = metrics2.GetCounter("buildstats_extractor_extract")
	droppedSteps   = metrics2.GetCounter("buildstats_extractor_dropped_steps")
)

// Extract builds the full Aggregate from the ordered step sequence.
//
// The first element of steps must be the root build step; an empty sequence
// is a contract violation. Swift compilation steps attached to a
// swiftAggregatedCompilation grouping node are re-parented to that node's own
// parent target; Swift steps whose parent cannot be resolved are dropped.
func Extract(ctx context.Context, steps []types.BuildStep, facts Facts) (*types.Aggregate, error) {
	_, span := trace.StartSpan(ctx, "extractor.Extract")
	defer span.End()
	extractCounter.Inc(1)

	if len(steps) == 0 {
		return nil, skerr.Fmt("Step sequence is empty; the parser contract guarantees at least the root build step.")
	}
	root := steps[0]
	if root.Type != types.BuildStepTypeBuild {
		return nil, skerr.Fmt("First step has type %q, want %q.", root.Type, types.BuildStepTypeBuild)
	}
	buildID := root.Identifier

	// Partition the remaining steps. Aggregation nodes are synthetic grouping
	// nodes that only exist to resolve Swift step parents; they are not
	// persisted.
	targetSteps := []types.BuildStep{}
	targetIDs := map[string]bool{}
	aggregationParent := map[string]string{}
	detailSteps := []types.BuildStep{}
	for _, s := range steps[1:] {
		switch {
		case s.Type == types.BuildStepTypeTarget:
			targetSteps = append(targetSteps, s)
			targetIDs[s.Identifier] = true
		case s.Type == types.BuildStepTypeDetail && s.DetailStepType == types.DetailStepSwiftAggregated:
			aggregationParent[s.Identifier] = s.ParentIdentifier
		case s.Type == types.BuildStepTypeDetail:
			detailSteps = append(detailSteps, s)
		}
	}

	// Group detail steps by their effective target, re-parenting Swift steps
	// through aggregation nodes.
	stepsByTarget := make(map[string][]types.BuildStep, len(targetIDs))
	for id := range targetIDs {
		stepsByTarget[id] = nil
	}
	flat := make([]types.Step, 0, len(detailSteps))
	kept := make(map[string]bool, len(detailSteps))
	for _, s := range detailSteps {
		targetID := s.ParentIdentifier
		if s.DetailStepType == types.DetailStepSwiftCompilation && !targetIDs[targetID] {
			targetID = aggregationParent[targetID]
		}
		if !targetIDs[targetID] {
			// Expected occasional artifact of the parser output, not an error.
			droppedSteps.Inc(1)
			sklog.Warningf("Dropping step %q: parent %q is neither a target nor an aggregation node.", s.Identifier, s.ParentIdentifier)
			continue
		}
		kept[s.Identifier] = true
		stepsByTarget[targetID] = append(stepsByTarget[targetID], s)
		flat = append(flat, stepRecord(s, buildID, targetID))
	}

	// Canonical stable order for storage and retrieval parity.
	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].TargetIdentifier != flat[j].TargetIdentifier {
			return flat[i].TargetIdentifier > flat[j].TargetIdentifier
		}
		return flat[i].StartTimestamp > flat[j].StartTimestamp
	})

	cat := categorizer.Categorize(stepsByTarget)

	ret := &types.Aggregate{
		Build: types.Build{
			ID:                   buildID,
			ProjectName:          facts.ProjectName,
			MachineName:          root.MachineName,
			Schema:               root.Schema,
			StartedAt:            types.TimestampToTime(root.StartTimestamp),
			EndedAt:              types.TimestampToTime(root.EndTimestamp),
			CompilationEndedAt:   types.TimestampToTime(root.CompilationTimestamp),
			StartTimestamp:       root.StartTimestamp,
			EndTimestamp:         root.EndTimestamp,
			CompilationTimestamp: root.CompilationTimestamp,
			DurationSeconds:      root.Duration,
			CompilationSeconds:   root.CompilationDuration,
			BuildStatus:          root.BuildStatus,
			WarningCount:         root.WarningCount,
			ErrorCount:           root.ErrorCount,
			Category:             cat.BuildCategory,
			CompiledCount:        cat.BuildCompiledCount,
			WasSuspended:         wasSuspended(root.StartTimestamp, facts.SleepTime),
			Tag:                  facts.Tag,
			UserID:               facts.UserID,
			UserID256:            facts.UserID256,
			IsCI:                 facts.IsCI,
		},
		Steps: flat,
	}
	if facts.MachineName != "" {
		ret.Build.MachineName = facts.MachineName
	}

	for _, t := range targetSteps {
		ret.Targets = append(ret.Targets, types.Target{
			ID:                 t.Identifier,
			BuildIdentifier:    buildID,
			Name:               t.Title,
			StartedAt:          types.TimestampToTime(t.StartTimestamp),
			EndedAt:            types.TimestampToTime(t.EndTimestamp),
			StartTimestamp:     t.StartTimestamp,
			EndTimestamp:       t.EndTimestamp,
			DurationSeconds:    t.Duration,
			CompilationSeconds: t.CompilationDuration,
			FetchedFromCache:   t.FetchedFromCache,
			Category:           cat.TargetCategory[t.Identifier],
			CompiledCount:      cat.TargetCompiledCount[t.Identifier],
			WarningCount:       t.WarningCount,
			ErrorCount:         t.ErrorCount,
		})
	}

	// Notices are gathered build-level first, then target-level, then
	// step-level.
	addNotices(ret, root, buildID, types.ParentTypeMain)
	for _, t := range targetSteps {
		addNotices(ret, t, buildID, types.ParentTypeTarget)
	}
	for _, s := range detailSteps {
		// Dropped steps contribute nothing; their notices would dangle.
		if !kept[s.Identifier] {
			continue
		}
		addNotices(ret, s, buildID, types.ParentTypeStep)
		for _, ft := range s.SwiftFunctionTimes {
			ret.SwiftFunctions = append(ret.SwiftFunctions, swiftTiming(ft, buildID, s.Identifier))
		}
		for _, tt := range s.SwiftTypeCheckTimes {
			ret.SwiftTypeChecks = append(ret.SwiftTypeChecks, swiftTiming(tt, buildID, s.Identifier))
		}
	}

	ret.SetDay(types.DayOf(ret.Build.StartedAt))
	return ret, nil
}

// wasSuspended reports whether the host slept after the build started, which
// makes wall-clock durations unreliable. Defaults to false when no sleep
// time fact is available.
func wasSuspended(startTimestamp float64, sleepTime *time.Time) bool {
	if sleepTime == nil {
		return false
	}
	started := time.Unix(int64(math.Round(startTimestamp)), 0).UTC()
	return started.Before(sleepTime.UTC())
}

func stepRecord(s types.BuildStep, buildID, targetID string) types.Step {
	return types.Step{
		ID:               s.Identifier,
		BuildIdentifier:  buildID,
		TargetIdentifier: targetID,
		Title:            s.Title,
		Signature:        s.Signature,
		Type:             s.DetailStepType,
		Architecture:     s.Architecture,
		DocumentURL:      s.DocumentURL,
		StartedAt:        types.TimestampToTime(s.StartTimestamp),
		EndedAt:          types.TimestampToTime(s.EndTimestamp),
		StartTimestamp:   s.StartTimestamp,
		EndTimestamp:     s.EndTimestamp,
		DurationSeconds:  s.Duration,
		FetchedFromCache: s.FetchedFromCache,
	}
}

func swiftTiming(ft types.FunctionTime, buildID, stepID string) types.SwiftTiming {
	return types.SwiftTiming{
		ID:              uuid.NewString(),
		BuildIdentifier: buildID,
		StepIdentifier:  stepID,
		File:            ft.File,
		StartingLine:    ft.StartingLine,
		StartingColumn:  ft.StartingColumn,
		DurationMS:      ft.DurationMS,
		Occurrences:     ft.Occurrences,
	}
}

func addNotices(agg *types.Aggregate, s types.BuildStep, buildID string, parentType types.ParentType) {
	agg.Warnings = append(agg.Warnings, noticeRecords(s.Warnings, buildID, s.Identifier, parentType)...)
	agg.Errors = append(agg.Errors, noticeRecords(s.Errors, buildID, s.Identifier, parentType)...)
	agg.Notes = append(agg.Notes, noticeRecords(s.Notes, buildID, s.Identifier, parentType)...)
}

func noticeRecords(notices []types.Notice, buildID, parentID string, parentType types.ParentType) []types.BuildNotice {
	ret := make([]types.BuildNotice, 0, len(notices))
	for _, n := range notices {
		ret = append(ret, types.BuildNotice{
			ID:               uuid.NewString(),
			BuildIdentifier:  buildID,
			ParentIdentifier: parentID,
			ParentType:       parentType,
			Title:            n.Title,
			DocumentURL:      n.DocumentURL,
			Severity:         n.Severity,
			StartingLine:     n.StartingLine,
			EndingLine:       n.EndingLine,
			StartingColumn:   n.StartingColumn,
			EndingColumn:     n.EndingColumn,
			Detail:           n.Detail,
		})
	}
	return ret
}

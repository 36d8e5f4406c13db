// Package categorizer computes the noop/incremental/clean classification of
// targets and builds from the cache-hit flags of their steps.
package categorizer

import (
	"go.buildstats.org/infra/buildstats/go/types"
)

// excludedStepTypes are administrative steps that say nothing about whether a
// target actually compiled anything, so they are left out of categorization.
// They still appear in the persisted step list.
var excludedStepTypes = map[types.DetailStepType]bool{
	types.DetailStepOther:           true,
	types.DetailStepScriptExecution: true,
	types.DetailStepCopySwiftLibs:   true,
}

// IsExcluded returns true if steps of the given sub-type are ignored when
// categorizing.
func IsExcluded(t types.DetailStepType) bool {
	return excludedStepTypes[t]
}

// Result holds the categorization of one build and each of its targets,
// keyed by target identifier.
type Result struct {
	BuildCategory       types.Category
	BuildCompiledCount  int
	TargetCategory      map[string]types.Category
	TargetCompiledCount map[string]int
}

// Categorize computes per-target and build-level categories from the given
// target identifier to steps groupings.
//
// A target is noop if none of its considered steps compiled, clean if all of
// them did, and incremental otherwise. A target with no considered steps is
// noop. The build is clean if strictly more than half of its targets are
// clean, noop if every target is noop, and incremental otherwise. A build
// with zero targets is noop.
func Categorize(stepsByTarget map[string][]types.BuildStep) Result {
	ret := Result{
		TargetCategory:      make(map[string]types.Category, len(stepsByTarget)),
		TargetCompiledCount: make(map[string]int, len(stepsByTarget)),
	}

	cleanCount := 0
	noopCount := 0
	for targetID, steps := range stepsByTarget {
		compiled := 0
		considered := 0
		for _, s := range steps {
			if IsExcluded(s.DetailStepType) {
				continue
			}
			considered++
			if !s.FetchedFromCache {
				compiled++
			}
		}
		category := types.CategoryIncremental
		switch {
		case compiled == 0:
			category = types.CategoryNoop
			noopCount++
		case compiled == considered:
			category = types.CategoryClean
			cleanCount++
		}
		ret.TargetCategory[targetID] = category
		ret.TargetCompiledCount[targetID] = compiled
		ret.BuildCompiledCount += compiled
	}

	targetCount := len(stepsByTarget)
	switch {
	// Note the deliberate integer division: 3 targets need at least 2 clean
	// ones to make the build clean.
	case targetCount > 0 && cleanCount > targetCount/2:
		ret.BuildCategory = types.CategoryClean
	case noopCount == targetCount:
		ret.BuildCategory = types.CategoryNoop
	default:
		ret.BuildCategory = types.CategoryIncremental
	}
	return ret
}

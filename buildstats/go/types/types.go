// Package types contains the types shared across the buildstats application:
// the step records produced by the external build-log parser, and the
// database-shaped records they are transformed into.
package types

import (
	"math"
	"time"
)

// StepType is the granularity of a BuildStep.
type StepType string

const (
	BuildStepTypeBuild  StepType = "build"
	BuildStepTypeTarget StepType = "target"
	BuildStepTypeDetail StepType = "detail"
)

// DetailStepType is the sub-type of a detail-granularity BuildStep.
type DetailStepType string

const (
	DetailStepCCompilation        DetailStepType = "cCompilation"
	DetailStepSwiftCompilation    DetailStepType = "swiftCompilation"
	DetailStepScriptExecution     DetailStepType = "scriptExecution"
	DetailStepCopySwiftLibs       DetailStepType = "copySwiftLibs"
	DetailStepSwiftAggregated     DetailStepType = "swiftAggregatedCompilation"
	DetailStepLinker              DetailStepType = "linker"
	DetailStepCopyResourceFile    DetailStepType = "copyResourceFile"
	DetailStepCompileAssetCatalog DetailStepType = "compileAssetsCatalog"
	DetailStepCompileStoryboard   DetailStepType = "compileStoryboard"
	DetailStepOther               DetailStepType = "other"
)

// BuildStatus is the terminal status of a build.
type BuildStatus string

const (
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusStopped   BuildStatus = "stopped"
)

// Category classifies how much work a build or target actually performed.
type Category string

const (
	CategoryNoop        Category = "noop"
	CategoryIncremental Category = "incremental"
	CategoryClean       Category = "clean"
)

// ParentType says what kind of record a notice is attached to.
type ParentType string

const (
	ParentTypeMain   ParentType = "main"
	ParentTypeTarget ParentType = "target"
	ParentTypeStep   ParentType = "step"
)

// Notice is a warning, error or note as it appears in the parser output,
// attached to a BuildStep.
type Notice struct {
	Title          string  `json:"title"`
	DocumentURL    string  `json:"documentURL"`
	Severity       int     `json:"severity"`
	StartingLine   int     `json:"startingLineNumber"`
	EndingLine     int     `json:"endingLineNumber"`
	StartingColumn int     `json:"startingColumnNumber"`
	EndingColumn   int     `json:"endingColumnNumber"`
	CharacterRange int     `json:"characterRangeEnd"`
	Detail         *string `json:"detail,omitempty"`
}

// FunctionTime is a Swift per-function compilation timing as it appears in
// the parser output.
type FunctionTime struct {
	File           string  `json:"file"`
	DurationMS     float64 `json:"durationMS"`
	StartingLine   int     `json:"startingLine"`
	StartingColumn int     `json:"startingColumn"`
	Occurrences    int     `json:"occurrences"`
}

// TypeCheckTime is a Swift type-check timing as it appears in the parser
// output. It has the same shape as FunctionTime.
type TypeCheckTime = FunctionTime

// BuildStep is a single record in the ordered, flattened step sequence the
// external build-log parser emits. The first element of a sequence is always
// the root build step. BuildSteps are read-only once produced.
type BuildStep struct {
	Type                 StepType        `json:"type"`
	DetailStepType       DetailStepType  `json:"detailStepType,omitempty"`
	Identifier           string          `json:"identifier"`
	ParentIdentifier     string          `json:"parentIdentifier"`
	Title                string          `json:"title"`
	Signature            string          `json:"signature,omitempty"`
	Architecture         string          `json:"architecture,omitempty"`
	DocumentURL          string          `json:"documentURL,omitempty"`
	Schema               string          `json:"schema,omitempty"`
	MachineName          string          `json:"machineName,omitempty"`
	BuildStatus          BuildStatus     `json:"buildStatus,omitempty"`
	StartTimestamp       float64         `json:"startTimestamp"`
	EndTimestamp         float64         `json:"endTimestamp"`
	CompilationTimestamp float64         `json:"compilationEndTimestamp"`
	Duration             float64         `json:"duration"`
	CompilationDuration  float64         `json:"compilationDuration"`
	FetchedFromCache     bool            `json:"fetchedFromCache"`
	WarningCount         int             `json:"warningCount"`
	ErrorCount           int             `json:"errorCount"`
	Warnings             []Notice        `json:"warnings,omitempty"`
	Errors               []Notice        `json:"errors,omitempty"`
	Notes                []Notice        `json:"notes,omitempty"`
	SwiftFunctionTimes   []FunctionTime  `json:"swiftFunctionTimes,omitempty"`
	SwiftTypeCheckTimes  []TypeCheckTime `json:"swiftTypeCheckTimes,omitempty"`
}

// TimestampToTime converts a fractional-second Unix timestamp into a
// time.Time in UTC.
func TimestampToTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// TimeToTimestamp converts a time.Time into a fractional-second Unix
// timestamp with nanosecond precision, the inverse of TimestampToTime.
func TimeToTimestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// DayOf truncates the given timestamp to 00:00:00 UTC of the same calendar
// day. This is the partition key for every stored record of a build.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

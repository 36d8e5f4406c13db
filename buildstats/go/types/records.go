package types

import (
	"time"
)

// Build is the root record of one complete build invocation.
//
// ID has the form <machine>_<uuid>_<sequence> and is globally unique; it is
// the only deduplication key for ingestion.
type Build struct {
	ID                   string
	ProjectName          string
	MachineName          string
	Schema               string
	StartedAt            time.Time
	EndedAt              time.Time
	CompilationEndedAt   time.Time
	StartTimestamp       float64
	EndTimestamp         float64
	CompilationTimestamp float64
	DurationSeconds      float64
	CompilationSeconds   float64
	BuildStatus          BuildStatus
	WarningCount         int
	ErrorCount           int
	Category             Category
	CompiledCount        int
	WasSuspended         bool
	Tag                  string
	UserID               string
	UserID256            string
	IsCI                 bool
	Day                  time.Time
}

// Target is a buildable unit within a Build.
type Target struct {
	ID                 string
	BuildIdentifier    string
	Name               string
	StartedAt          time.Time
	EndedAt            time.Time
	StartTimestamp     float64
	EndTimestamp       float64
	DurationSeconds    float64
	CompilationSeconds float64
	FetchedFromCache   bool
	Category           Category
	CompiledCount      int
	WarningCount       int
	ErrorCount         int
	Day                time.Time
}

// Step is an individual compilation, link or script action within a Target.
type Step struct {
	ID               string
	BuildIdentifier  string
	TargetIdentifier string
	Title            string
	Signature        string
	Type             DetailStepType
	Architecture     string
	DocumentURL      string
	StartedAt        time.Time
	EndedAt          time.Time
	StartTimestamp   float64
	EndTimestamp     float64
	DurationSeconds  float64
	FetchedFromCache bool
	Day              time.Time
}

// BuildNotice is a warning, error or note attached to the build, one of its
// targets, or one of its steps. The three notice tables share this shape.
type BuildNotice struct {
	ID               string
	BuildIdentifier  string
	ParentIdentifier string
	ParentType       ParentType
	Title            string
	DocumentURL      string
	Severity         int
	StartingLine     int
	EndingLine       int
	StartingColumn   int
	EndingColumn     int
	Detail           *string
	Day              time.Time
}

// SwiftTiming is a Swift per-function or type-check compilation timing keyed
// by the owning step.
type SwiftTiming struct {
	ID              string
	BuildIdentifier string
	StepIdentifier  string
	File            string
	StartingLine    int
	StartingColumn  int
	DurationMS      float64
	Occurrences     int
	Day             time.Time
}

// BuildHost holds hardware and OS facts about the machine that ran the
// build. One-to-one with Build.
type BuildHost struct {
	ID               string
	BuildIdentifier  string
	HostOS           string
	HostArchitecture string
	HostModel        string
	HostOSFamily     string
	HostOSVersion    string
	CPUModel         string
	CPUCount         int
	CPUSpeedGHz      float64
	MemoryTotalMB    float64
	MemoryFreeMB     float64
	SwapTotalMB      float64
	SwapFreeMB       float64
	UptimeSeconds    int64
	TimezoneName     string
	IsVirtual        bool
	Day              time.Time
}

// XcodeVersion records the toolchain version a build ran with. Optional
// one-to-one with Build.
type XcodeVersion struct {
	ID              string
	BuildIdentifier string
	Version         string
	BuildNumber     string
	Day             time.Time
}

// BuildMetadata is a free-form string map attached to a build, e.g.
// plugin-contributed key/value pairs. Optional one-to-one with Build.
type BuildMetadata struct {
	ID              string
	BuildIdentifier string
	Metadata        map[string]string
	Day             time.Time
}

// Aggregate is the in-memory composite of a Build and all of its related
// records, produced by the extractor and consumed by the store. It is owned
// exclusively by the pipeline invocation that created it and is never
// persisted as a single object.
type Aggregate struct {
	Build           Build
	Targets         []Target
	Steps           []Step
	Warnings        []BuildNotice
	Errors          []BuildNotice
	Notes           []BuildNotice
	SwiftFunctions  []SwiftTiming
	SwiftTypeChecks []SwiftTiming
	Host            *BuildHost
	XcodeVersion    *XcodeVersion
	Metadata        *BuildMetadata
}

// SetDay stamps the given partition day onto the Build and every owned
// record. Adding a new record type to Aggregate requires extending this
// method; each record is assigned by direct field access so the compiler
// keeps the list complete.
func (a *Aggregate) SetDay(day time.Time) {
	a.Build.Day = day
	for i := range a.Targets {
		a.Targets[i].Day = day
	}
	for i := range a.Steps {
		a.Steps[i].Day = day
	}
	for i := range a.Warnings {
		a.Warnings[i].Day = day
	}
	for i := range a.Errors {
		a.Errors[i].Day = day
	}
	for i := range a.Notes {
		a.Notes[i].Day = day
	}
	for i := range a.SwiftFunctions {
		a.SwiftFunctions[i].Day = day
	}
	for i := range a.SwiftTypeChecks {
		a.SwiftTypeChecks[i].Day = day
	}
	if a.Host != nil {
		a.Host.Day = day
	}
	if a.XcodeVersion != nil {
		a.XcodeVersion.Day = day
	}
	if a.Metadata != nil {
		a.Metadata.Day = day
	}
}

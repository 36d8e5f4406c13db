// Package format defines the upload payload and parses it into the types
// the pipeline consumes.
//
// An upload is a multipart/form-data body with these parts:
//
//	log          required  JSON array of build steps, root step first.
//	extraInfo    required  JSON, request facts (project, machine, user, ...).
//	host         optional  JSON, hardware facts about the build machine.
//	xcodeVersion optional  JSON, toolchain version.
//	metadata     optional  JSON, free-form string map.
package format

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"go.buildstats.org/infra/buildstats/go/extractor"
	"go.buildstats.org/infra/buildstats/go/types"
	"go.buildstats.org/infra/go/skerr"
)

// Part names of the multipart payload.
const (
	LogPart          = "log"
	ExtraInfoPart    = "extraInfo"
	HostPart         = "host"
	XcodeVersionPart = "xcodeVersion"
	MetadataPart     = "metadata"
)

// ExtraInfo is the required request side-channel: facts about the build that
// the step sequence itself cannot supply.
type ExtraInfo struct {
	ProjectName string `json:"projectName"`
	MachineName string `json:"machineName"`
	User        string `json:"user"`
	IsCI        bool   `json:"isCI"`
	Tag         string `json:"tag"`

	// SleepTime is the host's last sleep time as a fractional-second Unix
	// timestamp, if the client knows it.
	SleepTime *float64 `json:"sleepTime,omitempty"`
}

// HostInfo is the optional hardware side-channel.
type HostInfo struct {
	HostOS           string  `json:"hostOs"`
	HostArchitecture string  `json:"hostArchitecture"`
	HostModel        string  `json:"hostModel"`
	HostOSFamily     string  `json:"hostOsFamily"`
	HostOSVersion    string  `json:"hostOsVersion"`
	CPUModel         string  `json:"cpuModel"`
	CPUCount         int     `json:"cpuCount"`
	CPUSpeedGHz      float64 `json:"cpuSpeedGhz"`
	MemoryTotalMB    float64 `json:"memoryTotalMb"`
	MemoryFreeMB     float64 `json:"memoryFreeMb"`
	SwapTotalMB      float64 `json:"swapTotalMb"`
	SwapFreeMB       float64 `json:"swapFreeMb"`
	UptimeSeconds    int64   `json:"uptimeSeconds"`
	TimezoneName     string  `json:"timezoneName"`
	IsVirtual        bool    `json:"isVirtual"`
}

// XcodeVersionInfo is the optional toolchain side-channel.
type XcodeVersionInfo struct {
	Version     string `json:"version"`
	BuildNumber string `json:"buildNumber"`
}

// RequestFacts bundles every side-channel part of one upload. It is carried
// JSON-encoded on the job queue so the worker sees the same facts the
// frontend did.
type RequestFacts struct {
	ExtraInfo    ExtraInfo         `json:"extraInfo"`
	Host         *HostInfo         `json:"host,omitempty"`
	XcodeVersion *XcodeVersionInfo `json:"xcodeVersion,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ParseMultipart reads an upload request body. It returns the raw log bytes
// unparsed, so the frontend can store them without decoding the step
// sequence on the serving path.
func ParseMultipart(r *http.Request) ([]byte, RequestFacts, error) {
	var facts RequestFacts
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, facts, skerr.Wrapf(err, "Reading multipart body")
	}
	var log []byte
	seenExtraInfo := false
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, facts, skerr.Wrapf(err, "Reading multipart part")
		}
		if err := consumePart(part, &log, &facts, &seenExtraInfo); err != nil {
			return nil, facts, skerr.Wrap(err)
		}
	}
	if log == nil {
		return nil, facts, skerr.Fmt("Upload is missing the %q part.", LogPart)
	}
	if !seenExtraInfo {
		return nil, facts, skerr.Fmt("Upload is missing the %q part.", ExtraInfoPart)
	}
	if facts.ExtraInfo.ProjectName == "" {
		return nil, facts, skerr.Fmt("The %q part must name a project.", ExtraInfoPart)
	}
	return log, facts, nil
}

func consumePart(part *multipart.Part, log *[]byte, facts *RequestFacts, seenExtraInfo *bool) error {
	defer func() {
		_ = part.Close()
	}()
	switch part.FormName() {
	case LogPart:
		b, err := io.ReadAll(part)
		if err != nil {
			return skerr.Wrapf(err, "Reading the %q part", LogPart)
		}
		*log = b
	case ExtraInfoPart:
		if err := json.NewDecoder(part).Decode(&facts.ExtraInfo); err != nil {
			return skerr.Wrapf(err, "Decoding the %q part", ExtraInfoPart)
		}
		*seenExtraInfo = true
	case HostPart:
		facts.Host = &HostInfo{}
		if err := json.NewDecoder(part).Decode(facts.Host); err != nil {
			return skerr.Wrapf(err, "Decoding the %q part", HostPart)
		}
	case XcodeVersionPart:
		facts.XcodeVersion = &XcodeVersionInfo{}
		if err := json.NewDecoder(part).Decode(facts.XcodeVersion); err != nil {
			return skerr.Wrapf(err, "Decoding the %q part", XcodeVersionPart)
		}
	case MetadataPart:
		if err := json.NewDecoder(part).Decode(&facts.Metadata); err != nil {
			return skerr.Wrapf(err, "Decoding the %q part", MetadataPart)
		}
	default:
		// Unknown parts are ignored so clients can evolve ahead of the
		// server.
	}
	return nil
}

// ParseSteps decodes the raw log into the ordered step sequence.
func ParseSteps(raw []byte) ([]types.BuildStep, error) {
	var steps []types.BuildStep
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, skerr.Wrapf(err, "Decoding step sequence")
	}
	if len(steps) == 0 {
		return nil, skerr.Fmt("Step sequence is empty.")
	}
	if steps[0].Type != types.BuildStepTypeBuild {
		return nil, skerr.Fmt("First step has type %q, want %q.", steps[0].Type, types.BuildStepTypeBuild)
	}
	return steps, nil
}

// ExtractorFacts converts the request facts into the extractor's input. The
// raw user name is never stored; dashboards group by the MD5 form while the
// SHA-256 form exists for collision-free joins.
func (f RequestFacts) ExtractorFacts() extractor.Facts {
	ret := extractor.Facts{
		ProjectName: f.ExtraInfo.ProjectName,
		MachineName: f.ExtraInfo.MachineName,
		IsCI:        f.ExtraInfo.IsCI,
		Tag:         f.ExtraInfo.Tag,
	}
	if f.ExtraInfo.User != "" {
		short := md5.Sum([]byte(f.ExtraInfo.User))
		ret.UserID = hex.EncodeToString(short[:])
		long := sha256.Sum256([]byte(f.ExtraInfo.User))
		ret.UserID256 = hex.EncodeToString(long[:])
	}
	if f.ExtraInfo.SleepTime != nil {
		t := types.TimestampToTime(*f.ExtraInfo.SleepTime)
		ret.SleepTime = &t
	}
	return ret
}

// Decorate attaches the optional side-channel records to an extracted
// aggregate, keyed by its build id and stamped with its partition day.
func (f RequestFacts) Decorate(agg *types.Aggregate) {
	day := agg.Build.Day
	if f.Host != nil {
		agg.Host = &types.BuildHost{
			ID:               uuid.NewString(),
			BuildIdentifier:  agg.Build.ID,
			HostOS:           f.Host.HostOS,
			HostArchitecture: f.Host.HostArchitecture,
			HostModel:        f.Host.HostModel,
			HostOSFamily:     f.Host.HostOSFamily,
			HostOSVersion:    f.Host.HostOSVersion,
			CPUModel:         f.Host.CPUModel,
			CPUCount:         f.Host.CPUCount,
			CPUSpeedGHz:      f.Host.CPUSpeedGHz,
			MemoryTotalMB:    f.Host.MemoryTotalMB,
			MemoryFreeMB:     f.Host.MemoryFreeMB,
			SwapTotalMB:      f.Host.SwapTotalMB,
			SwapFreeMB:       f.Host.SwapFreeMB,
			UptimeSeconds:    f.Host.UptimeSeconds,
			TimezoneName:     f.Host.TimezoneName,
			IsVirtual:        f.Host.IsVirtual,
			Day:              day,
		}
	}
	if f.XcodeVersion != nil {
		agg.XcodeVersion = &types.XcodeVersion{
			ID:              uuid.NewString(),
			BuildIdentifier: agg.Build.ID,
			Version:         f.XcodeVersion.Version,
			BuildNumber:     f.XcodeVersion.BuildNumber,
			Day:             day,
		}
	}
	if len(f.Metadata) > 0 {
		agg.Metadata = &types.BuildMetadata{
			ID:              uuid.NewString(),
			BuildIdentifier: agg.Build.ID,
			Metadata:        f.Metadata,
			Day:             day,
		}
	}
}

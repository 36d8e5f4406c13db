package format

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"go.buildstats.org/infra/buildstats/go/types"
)

const stepsJSON = `[
	{"type": "build", "identifier": "mymac_1", "machineName": "mymac",
	 "startTimestamp": 1686570000.5, "endTimestamp": 1686570010.5,
	 "buildStatus": "succeeded"},
	{"type": "target", "identifier": "T1", "parentIdentifier": "mymac_1",
	 "title": "App"}
]`

func newUploadRequest(t *testing.T, parts map[string]string) ([]byte, RequestFacts, error) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, contents := range parts {
		fw, err := w.CreateFormField(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	r := httptest.NewRequest("PUT", "/v1/metrics", body)
	r.Header.Set("Content-Type", w.FormDataContentType())
	return ParseMultipart(r)
}

func TestParseMultipart_AllParts_Success(t *testing.T) {
	log, facts, err := newUploadRequest(t, map[string]string{
		LogPart:          stepsJSON,
		ExtraInfoPart:    `{"projectName": "App", "machineName": "mymac", "user": "alice", "isCI": true, "tag": "ci"}`,
		HostPart:         `{"hostOs": "macOS", "cpuCount": 8}`,
		XcodeVersionPart: `{"version": "14.3", "buildNumber": "14E222b"}`,
		MetadataPart:     `{"branch": "main"}`,
	})
	require.NoError(t, err)
	require.JSONEq(t, stepsJSON, string(log))
	require.Equal(t, "App", facts.ExtraInfo.ProjectName)
	require.True(t, facts.ExtraInfo.IsCI)
	require.Equal(t, 8, facts.Host.CPUCount)
	require.Equal(t, "14.3", facts.XcodeVersion.Version)
	require.Equal(t, map[string]string{"branch": "main"}, facts.Metadata)
}

func TestParseMultipart_MissingLog_ReturnsError(t *testing.T) {
	_, _, err := newUploadRequest(t, map[string]string{
		ExtraInfoPart: `{"projectName": "App"}`,
	})
	require.Error(t, err)
}

func TestParseMultipart_MissingExtraInfo_ReturnsError(t *testing.T) {
	_, _, err := newUploadRequest(t, map[string]string{
		LogPart: stepsJSON,
	})
	require.Error(t, err)
}

func TestParseMultipart_EmptyProjectName_ReturnsError(t *testing.T) {
	_, _, err := newUploadRequest(t, map[string]string{
		LogPart:       stepsJSON,
		ExtraInfoPart: `{"machineName": "mymac"}`,
	})
	require.Error(t, err)
}

func TestParseMultipart_UnknownPart_Ignored(t *testing.T) {
	_, facts, err := newUploadRequest(t, map[string]string{
		LogPart:       stepsJSON,
		ExtraInfoPart: `{"projectName": "App"}`,
		"futurePart":  `{"x": 1}`,
	})
	require.NoError(t, err)
	require.Equal(t, "App", facts.ExtraInfo.ProjectName)
}

func TestParseSteps_ValidSequence_Success(t *testing.T) {
	steps, err := ParseSteps([]byte(stepsJSON))
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, types.BuildStepTypeBuild, steps[0].Type)
	require.Equal(t, "mymac_1", steps[0].Identifier)
}

func TestParseSteps_EmptySequence_ReturnsError(t *testing.T) {
	_, err := ParseSteps([]byte(`[]`))
	require.Error(t, err)
}

func TestParseSteps_FirstStepNotBuild_ReturnsError(t *testing.T) {
	_, err := ParseSteps([]byte(`[{"type": "target", "identifier": "T1"}]`))
	require.Error(t, err)
}

func TestParseSteps_MalformedJSON_ReturnsError(t *testing.T) {
	_, err := ParseSteps([]byte(`{not json`))
	require.Error(t, err)
}

func TestExtractorFacts_HashesUser(t *testing.T) {
	facts := RequestFacts{
		ExtraInfo: ExtraInfo{
			ProjectName: "App",
			User:        "alice",
		},
	}
	ef := facts.ExtractorFacts()
	// MD5 of "alice"; the raw name never leaves this function.
	require.Equal(t, "6384e2b2184bcbf58eccf10ca7a6563c", ef.UserID)
	// SHA-256 of "alice".
	require.Equal(t, "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90", ef.UserID256)
	require.NotEqual(t, "alice", ef.UserID)
	require.Nil(t, ef.SleepTime)
}

func TestExtractorFacts_EmptyUser_NoDigests(t *testing.T) {
	facts := RequestFacts{
		ExtraInfo: ExtraInfo{ProjectName: "App"},
	}
	ef := facts.ExtractorFacts()
	require.Empty(t, ef.UserID)
	require.Empty(t, ef.UserID256)
}

func TestExtractorFacts_SleepTimeConverted(t *testing.T) {
	ts := 1686570000.5
	facts := RequestFacts{
		ExtraInfo: ExtraInfo{
			ProjectName: "App",
			SleepTime:   &ts,
		},
	}
	ef := facts.ExtractorFacts()
	require.NotNil(t, ef.SleepTime)
	require.Equal(t, types.TimestampToTime(ts), *ef.SleepTime)
}

func TestDecorate_AttachesRecordsKeyedByBuild(t *testing.T) {
	agg := &types.Aggregate{
		Build: types.Build{
			ID:  "mymac_1",
			Day: types.DayOf(types.TimestampToTime(1686570000.5)),
		},
	}
	facts := RequestFacts{
		Host:         &HostInfo{HostOS: "macOS"},
		XcodeVersion: &XcodeVersionInfo{Version: "14.3"},
		Metadata:     map[string]string{"branch": "main"},
	}
	facts.Decorate(agg)

	require.NotNil(t, agg.Host)
	require.Equal(t, "mymac_1", agg.Host.BuildIdentifier)
	require.Equal(t, agg.Build.Day, agg.Host.Day)
	require.NotEmpty(t, agg.Host.ID)
	require.Equal(t, "mymac_1", agg.XcodeVersion.BuildIdentifier)
	require.Equal(t, "mymac_1", agg.Metadata.BuildIdentifier)
}

func TestDecorate_NoOptionalParts_LeavesAggregateUntouched(t *testing.T) {
	agg := &types.Aggregate{
		Build: types.Build{ID: "mymac_1"},
	}
	RequestFacts{}.Decorate(agg)
	require.Nil(t, agg.Host)
	require.Nil(t, agg.XcodeVersion)
	require.Nil(t, agg.Metadata)
}

package ai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_SetThenGetParameter(t *testing.T) {
	exec := newTestExecutor(t)

	setResult := exec.Dispatch(context.Background(), ToolCall{
		ID: "1", Name: ToolSetParameter, InputJSON: `{"name":"patch_name_slot0","value":64}`,
	})
	require.NotContains(t, setResult.Text, "error")

	getResult := exec.Dispatch(context.Background(), ToolCall{
		ID: "2", Name: ToolGetParameter, InputJSON: `{"name":"patch_name_slot0"}`,
	})
	var decoded struct {
		Value int `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(getResult.Text), &decoded))
	assert.Equal(t, 64, decoded.Value)
}

func TestExecutor_UnknownParameterReturnsErrorJSONNotPanic(t *testing.T) {
	exec := newTestExecutor(t)
	result := exec.Dispatch(context.Background(), ToolCall{
		ID: "1", Name: ToolGetParameter, InputJSON: `{"name":"does_not_exist"}`,
	})
	var decoded struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Text), &decoded))
	assert.NotEmpty(t, decoded.Error)
}

func TestExecutor_ListParametersReturnsSortedCatalog(t *testing.T) {
	exec := newTestExecutor(t)
	result := exec.Dispatch(context.Background(), ToolCall{ID: "1", Name: ToolListParameters, InputJSON: "{}"})

	var params []parameterSummary
	require.NoError(t, json.Unmarshal([]byte(result.Text), &params))
	require.NotEmpty(t, params)
	for i := 1; i < len(params); i++ {
		assert.LessOrEqual(t, params[i-1].Name, params[i].Name)
	}
}

type fakeNoteSender struct {
	onCalls, offCalls int
}

func (f *fakeNoteSender) SendNoteOn(channel int, note, velocity int) error  { f.onCalls++; return nil }
func (f *fakeNoteSender) SendNoteOff(channel int, note, velocity int) error { f.offCalls++; return nil }

func TestExecutor_TriggerNoteSendsOnThenOff(t *testing.T) {
	exec := newTestExecutor(t)
	notes := &fakeNoteSender{}
	exec.Notes = notes

	result := exec.Dispatch(context.Background(), ToolCall{
		ID: "1", Name: ToolTriggerNote, InputJSON: `{"note":60,"duration_ms":200}`,
	})
	require.NotContains(t, result.Text, "error")
	assert.Equal(t, 1, notes.onCalls)
	assert.Equal(t, 1, notes.offCalls)
}

func TestExecutor_AnalyzeAudioWithoutRecordingErrors(t *testing.T) {
	exec := newTestExecutor(t)
	result := exec.Dispatch(context.Background(), ToolCall{ID: "1", Name: ToolAnalyzeAudio, InputJSON: "{}"})
	var decoded struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Text), &decoded))
	assert.Contains(t, decoded.Error, "record_audio")
}

func TestExecutor_RecordThenAnalyzeSucceeds(t *testing.T) {
	exec := newTestExecutor(t)
	exec.Rec = &fakeRecorderAI{samples: make([]float32, 4410), rate: 44100}

	recResult := exec.Dispatch(context.Background(), ToolCall{ID: "1", Name: ToolRecordAudio, InputJSON: `{"seconds":0.1}`})
	require.NotContains(t, recResult.Text, "error")

	analyzeResult := exec.Dispatch(context.Background(), ToolCall{ID: "2", Name: ToolAnalyzeAudio, InputJSON: "{}"})
	var report struct {
		DurationS float64 `json:"DurationS"`
	}
	require.NoError(t, json.Unmarshal([]byte(analyzeResult.Text), &report))
	assert.InDelta(t, 0.1, report.DurationS, 1e-9)
}

func TestExecutor_UnknownToolNameProducesErrorResult(t *testing.T) {
	exec := newTestExecutor(t)
	result := exec.Dispatch(context.Background(), ToolCall{ID: "1", Name: "not_a_real_tool", InputJSON: "{}"})
	var decoded struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Text), &decoded))
	assert.Contains(t, decoded.Error, "unknown tool")
}

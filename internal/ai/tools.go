package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rk100s/patchmasta/internal/audio"
	"github.com/rk100s/patchmasta/internal/patch"
	"github.com/rk100s/patchmasta/internal/registry"
)

// Names of the seven tools the driver exposes to a backend (spec §4.6).
const (
	ToolSetParameter   = "set_parameter"
	ToolGetParameter   = "get_parameter"
	ToolListParameters = "list_parameters"
	ToolTriggerNote    = "trigger_note"
	ToolRecordAudio    = "record_audio"
	ToolAnalyzeAudio   = "analyze_audio"
	ToolCompareAudio   = "compare_audio"
)

// NoteSender plays a note for audition, independent of the patch buffer.
type NoteSender interface {
	SendNoteOn(channel int, note, velocity int) error
	SendNoteOff(channel int, note, velocity int) error
}

// Recorder captures a mono signal from the configured audio input, used by
// record_audio. The real implementation wraps github.com/gordonklaus/portaudio;
// tests substitute a canned in-memory fake.
type Recorder interface {
	Record(ctx context.Context, seconds float64) (samples []float32, sampleRate int, err error)
}

// Executor binds the seven tools to a live Patch, note sender, and recorder.
// It holds no conversation state — the Driver owns the loop and history.
type Executor struct {
	Patch      *patch.Patch
	Reg        *registry.Registry
	Notes      NoteSender
	Rec        Recorder
	SampleRate int

	lastRecording []float32
	target        []float32
	lastCompare   *audio.CompareReport
}

// LastCompare returns the most recent compare_audio result, or nil if
// compare_audio has not yet succeeded. MatchSound reads this to fill in
// MatchResult.Converged and Distance.
func (e *Executor) LastCompare() *audio.CompareReport { return e.lastCompare }

// SetTarget installs the reference recording compare_audio measures against
// (spec §4.6 — loaded by the host, e.g. from a target WAV file, before
// match_sound starts, never by a tool call itself).
func (e *Executor) SetTarget(samples []float32) { e.target = samples }

// Dispatch executes one ToolCall and returns its ToolResult. It never
// returns a Go error for a tool-domain failure — those are encoded as
// {"error": "..."} JSON in the result text, per spec §4.6/§7, so the
// conversation loop can feed them back to the model instead of aborting.
func (e *Executor) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	text, err := e.dispatch(ctx, call)
	if err != nil {
		text = errJSON(err)
	}
	return ToolResult{ToolCallID: call.ID, Name: call.Name, Text: text}
}

func (e *Executor) dispatch(ctx context.Context, call ToolCall) (string, error) {
	switch call.Name {
	case ToolSetParameter:
		return e.setParameter(call.InputJSON)
	case ToolGetParameter:
		return e.getParameter(call.InputJSON)
	case ToolListParameters:
		return e.listParameters()
	case ToolTriggerNote:
		return e.triggerNote(ctx, call.InputJSON)
	case ToolRecordAudio:
		return e.recordAudio(ctx, call.InputJSON)
	case ToolAnalyzeAudio:
		return e.analyzeAudio(call.InputJSON)
	case ToolCompareAudio:
		return e.compareAudio()
	default:
		return "", fmt.Errorf("ai: unknown tool %q", call.Name)
	}
}

func errJSON(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

type setParameterArgs struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func (e *Executor) setParameter(argsJSON string) (string, error) {
	var a setParameterArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return "", fmt.Errorf("ai: %s: %w", ToolSetParameter, err)
	}
	if err := e.Patch.WriteParam(a.Name, a.Value); err != nil {
		return "", err
	}
	b, _ := json.Marshal(map[string]any{"name": a.Name, "value": a.Value})
	return string(b), nil
}

type getParameterArgs struct {
	Name string `json:"name"`
}

func (e *Executor) getParameter(argsJSON string) (string, error) {
	var a getParameterArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return "", fmt.Errorf("ai: %s: %w", ToolGetParameter, err)
	}
	v, err := e.Patch.ReadParam(a.Name)
	if err != nil {
		return "", err
	}
	b, _ := json.Marshal(map[string]any{"name": a.Name, "value": v})
	return string(b), nil
}

type parameterSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
}

func (e *Executor) listParameters() (string, error) {
	defs := e.Reg.ListAll()
	out := make([]parameterSummary, len(defs))
	for i, d := range defs {
		out[i] = parameterSummary{Name: d.Name, Description: d.Description, Min: d.Min, Max: d.Max}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	b, _ := json.Marshal(out)
	return string(b), nil
}

type triggerNoteArgs struct {
	Note       int `json:"note"`
	Velocity   int `json:"velocity"`
	DurationMs int `json:"duration_ms"`
	Channel    int `json:"channel"`
}

// defaultNoteDurationMs is how long trigger_note holds a note when the
// caller doesn't specify duration_ms.
const defaultNoteDurationMs = 250

func (e *Executor) triggerNote(ctx context.Context, argsJSON string) (string, error) {
	var a triggerNoteArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return "", fmt.Errorf("ai: %s: %w", ToolTriggerNote, err)
	}
	if a.Velocity == 0 {
		a.Velocity = 100
	}
	if a.Channel == 0 {
		a.Channel = 1
	}
	if a.DurationMs <= 0 {
		a.DurationMs = defaultNoteDurationMs
	}
	if e.Notes == nil {
		return "", fmt.Errorf("ai: %s: no note sender configured", ToolTriggerNote)
	}
	if err := e.Notes.SendNoteOn(a.Channel, a.Note, a.Velocity); err != nil {
		return "", err
	}

	timer := time.NewTimer(time.Duration(a.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		_ = e.Notes.SendNoteOff(a.Channel, a.Note, a.Velocity)
		return "", ctx.Err()
	}

	if err := e.Notes.SendNoteOff(a.Channel, a.Note, a.Velocity); err != nil {
		return "", err
	}
	b, _ := json.Marshal(map[string]any{"note": a.Note, "duration_ms": a.DurationMs})
	return string(b), nil
}

type recordAudioArgs struct {
	Seconds float64 `json:"seconds"`
}

func (e *Executor) recordAudio(ctx context.Context, argsJSON string) (string, error) {
	var a recordAudioArgs
	if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
		return "", fmt.Errorf("ai: %s: %w", ToolRecordAudio, err)
	}
	if a.Seconds <= 0 {
		a.Seconds = 2.0
	}
	if e.Rec == nil {
		return "", fmt.Errorf("ai: %s: no recorder configured", ToolRecordAudio)
	}
	samples, rate, err := e.Rec.Record(ctx, a.Seconds)
	if err != nil {
		return "", err
	}
	e.lastRecording = samples
	e.SampleRate = rate
	b, _ := json.Marshal(map[string]any{"samples_captured": len(samples), "sample_rate": rate})
	return string(b), nil
}

func (e *Executor) analyzeAudio(argsJSON string) (string, error) {
	if len(e.lastRecording) == 0 {
		return "", fmt.Errorf("ai: %s: no recording available, call %s first", ToolAnalyzeAudio, ToolRecordAudio)
	}
	report := audio.Analyze(e.lastRecording, e.SampleRate)
	b, _ := json.Marshal(report)
	return string(b), nil
}

func (e *Executor) compareAudio() (string, error) {
	if len(e.target) == 0 {
		return "", fmt.Errorf("ai: %s: no target recording loaded", ToolCompareAudio)
	}
	if len(e.lastRecording) == 0 {
		return "", fmt.Errorf("ai: %s: no recording available, call %s first", ToolCompareAudio, ToolRecordAudio)
	}
	cmp := audio.Compare(e.target, e.lastRecording, e.SampleRate)
	e.lastCompare = &cmp
	b, _ := json.Marshal(cmp)
	return string(b), nil
}

// Specs returns the ToolSpec catalog for the seven tools, to pass to a
// Backend on every Chat call.
func Specs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolSetParameter,
			Description: "Set a named synth parameter to a value, writing it live to the connected device.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"name", "value"},
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"value": map[string]any{"type": "integer"},
				},
			},
		},
		{
			Name:        ToolGetParameter,
			Description: "Read the current value of a named synth parameter.",
			InputSchema: map[string]any{
				"type":       "object",
				"required":   []string{"name"},
				"properties": map[string]any{"name": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        ToolListParameters,
			Description: "List the registry's named synth parameters (effect parameters of the selected effect types are not included), each with its description and valid range.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        ToolTriggerNote,
			Description: "Play a single note on the connected device for auditioning the current patch.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"note"},
				"properties": map[string]any{
					"note":        map[string]any{"type": "integer"},
					"velocity":    map[string]any{"type": "integer"},
					"duration_ms": map[string]any{"type": "integer"},
					"channel":     map[string]any{"type": "integer"},
				},
			},
		},
		{
			Name:        ToolRecordAudio,
			Description: "Record audio from the configured input for the given duration in seconds.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"seconds": map[string]any{"type": "number"}},
			},
		},
		{
			Name:        ToolAnalyzeAudio,
			Description: "Extract spectral features (fundamental, centroid, harmonic ratio, envelope) from the most recent recording.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        ToolCompareAudio,
			Description: "Compute a convergence distance between the most recent recording and the loaded target sound.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

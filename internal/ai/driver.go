package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// maxTurnsPerRun bounds a single Run call's chat/tool round-trips — a
// safety backstop against a misbehaving backend that never stops calling
// tools, not a feature a caller tunes (spec §7).
const maxTurnsPerRun = 25

// ErrStopRequested is returned by Run/MatchSound when RequestStop was
// observed between iterations, not a failure.
var ErrStopRequested = errors.New("ai: stop requested")

// Driver runs the multi-turn tool-use loop described in spec §4.6: it
// repeatedly calls a Backend, executes whatever tool calls come back
// through an Executor, and feeds the results back in until the model
// stops asking for tools. It is safe to run in a background goroutine via
// RunAsync and to cancel mid-flight with RequestStop, independent of ctx
// cancellation (which aborts immediately rather than after the current
// turn).
type Driver struct {
	backend Backend
	exec    *Executor
	log     *log.Logger

	mu            sync.Mutex
	stopRequested bool
}

// NewDriver constructs a Driver bound to one backend and one tool executor.
func NewDriver(backend Backend, exec *Executor, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Driver{backend: backend, exec: exec, log: logger}
}

// RequestStop asks the current or next Run to return after its
// in-flight chat call completes, before any further tool calls execute.
// Safe to call from any goroutine.
func (d *Driver) RequestStop() {
	d.mu.Lock()
	d.stopRequested = true
	d.mu.Unlock()
}

// resetStop clears stopRequested. Run calls it once it has acted on a stop,
// so a stop that already halted one run can't abort the next; MatchSound
// calls it on entry.
func (d *Driver) resetStop() {
	d.mu.Lock()
	d.stopRequested = false
	d.mu.Unlock()
}

func (d *Driver) stopWasRequested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopRequested
}

// Result is what Run and RunAsync produce: the extended conversation
// history and the number of chat/tool round-trips taken.
type Result struct {
	History []Message
	Turns   int
}

// Run drives the loop to completion: call the backend, execute any tool
// calls it returns, append both to history, and repeat until a turn
// returns no tool calls, RequestStop is observed, ctx is cancelled, or
// maxTurnsPerRun is reached (spec §8 property 9).
func (d *Driver) Run(ctx context.Context, systemPrompt string, history []Message, tools []ToolSpec) (Result, error) {
	h := append([]Message(nil), history...)

	for turn := 1; turn <= maxTurnsPerRun; turn++ {
		if err := ctx.Err(); err != nil {
			return Result{History: h, Turns: turn - 1}, err
		}

		assistantTurn, err := d.backend.Chat(ctx, h, systemPrompt, tools)
		if err != nil {
			return Result{History: h, Turns: turn - 1}, &BackendError{Backend: d.backend.Name(), Cause: err}
		}
		h = append(h, Message{Role: RoleAssistant, Text: assistantTurn.Text, ToolCalls: assistantTurn.ToolCalls})

		if len(assistantTurn.ToolCalls) == 0 {
			return Result{History: h, Turns: turn}, nil
		}
		if d.stopWasRequested() {
			d.resetStop()
			return Result{History: h, Turns: turn}, ErrStopRequested
		}

		results := make([]ToolResult, len(assistantTurn.ToolCalls))
		for i, call := range assistantTurn.ToolCalls {
			d.log.Debug("executing tool", "name", call.Name, "id", call.ID)
			results[i] = d.exec.Dispatch(ctx, call)
		}
		h = append(h, Message{Role: RoleUser, ToolResults: results})
	}

	return Result{History: h, Turns: maxTurnsPerRun}, fmt.Errorf("ai: exceeded %d turns without the model stopping", maxTurnsPerRun)
}

// RunAsync runs Run on a background goroutine and delivers its outcome on
// the returned channel, which is closed after the single send. Matches
// the teacher's pattern of a results channel paired with an external stop
// signal rather than a context-only cancellation path, since RequestStop
// lets a caller stop gracefully after the current tool batch rather than
// aborting mid-call.
func (d *Driver) RunAsync(ctx context.Context, systemPrompt string, history []Message, tools []ToolSpec) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		res, err := d.Run(ctx, systemPrompt, history, tools)
		out <- AsyncResult{Result: res, Err: err}
		close(out)
	}()
	return out
}

// AsyncResult is what RunAsync delivers once Run returns.
type AsyncResult struct {
	Result Result
	Err    error
}

// MatchResult summarizes one MatchSound run. Converged reports only
// whether compare_audio was invoked during the round that ended the
// loop, not an orchestrator-enforced distance judgment — spec §4.6
// leaves deciding whether a patch matches to the model.
type MatchResult struct {
	Iterations int
	Converged  bool
	Distance   float64
	History    []Message
}

// MatchSound drives the sound-matching loop: it nudges the model to
// record, analyze, and compare against the target loaded into the
// executor via Executor.SetTarget, adjust parameters, and try again. It
// runs a single round: one prompt followed by one full Run call, in which
// the model may make many tool calls, bounded by maxTurnsPerRun. That
// round always ends MatchSound, whether Run returns cleanly (the model's
// last reply made no tool calls), with ErrStopRequested, or with another
// error, so Iterations is at most 1.
// maxIterations is not a cap on backend turns or rounds; it only appears
// in the prompt text. The orchestrator applies no convergence threshold
// of its own.
func (d *Driver) MatchSound(ctx context.Context, systemPrompt string, history []Message, tools []ToolSpec, maxIterations int) (MatchResult, error) {
	if maxIterations <= 0 {
		maxIterations = 1
	}
	d.resetStop()

	h := append([]Message(nil), history...)
	var last float64 = -1

	for i := 1; i <= maxIterations; i++ {
		if d.stopWasRequested() {
			return MatchResult{Iterations: i - 1, Distance: last, History: h}, ErrStopRequested
		}

		prevCmp := d.exec.LastCompare()
		h = append(h, Message{Role: RoleUser, Text: matchSoundPrompt(i, maxIterations)})
		res, err := d.Run(ctx, systemPrompt, h, tools)
		h = res.History

		if errors.Is(err, ErrStopRequested) {
			return MatchResult{Iterations: i, Distance: last, History: h}, ErrStopRequested
		}
		if err != nil {
			return MatchResult{Iterations: i, Distance: last, History: h}, err
		}

		compared := false
		if cmp := d.exec.LastCompare(); cmp != nil && cmp != prevCmp {
			last = cmp.Distance
			compared = true
			d.log.Info("match_sound iteration", "iteration", i, "distance", last)
		}

		return MatchResult{Iterations: i, Converged: compared, Distance: last, History: h}, nil
	}

	return MatchResult{Iterations: maxIterations, Distance: last, History: h}, nil
}

func matchSoundPrompt(iteration, max int) string {
	return fmt.Sprintf(
		"Iteration %d of %d: record the current patch, analyze it, and compare it against the target sound. "+
			"If the comparison distance is not yet small, adjust one or more parameters and explain your reasoning briefly.",
		iteration, max,
	)
}

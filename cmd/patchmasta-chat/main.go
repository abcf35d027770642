// Command patchmasta-chat is an interactive CLI harness for the AI
// tool-execution loop: it connects to a device, loads (or pulls) a patch,
// and lets an AI backend adjust it through conversation, optionally
// driving the full sound-matching loop against a target WAV file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/rk100s/patchmasta/internal/ai"
	"github.com/rk100s/patchmasta/internal/audio"
	"github.com/rk100s/patchmasta/internal/config"
	"github.com/rk100s/patchmasta/internal/patch"
	"github.com/rk100s/patchmasta/internal/registry"
	"github.com/rk100s/patchmasta/internal/session"
	"github.com/rk100s/patchmasta/internal/session/midiport"
	"github.com/rk100s/patchmasta/internal/sysex"
)

const systemPrompt = `You are a sound-design assistant for the Korg RK-100S 2 keytar synthesizer.
Use the provided tools to inspect and adjust the currently loaded patch. Make
small, explainable parameter changes, audition them with trigger_note, and
when asked to match a target sound, use record_audio, analyze_audio, and
compare_audio to judge your progress.`

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "", "Path to config.json (defaults to ~/.patchmasta/config.json).")
		model       = pflag.StringP("model", "m", "", "Override the backend's default model name.")
		portIndex   = pflag.IntP("port", "p", -1, "MIDI port index (defaults to auto-detecting the RK-100S 2).")
		channel     = pflag.IntP("channel", "n", 1, "MIDI channel (1-16).")
		slot        = pflag.IntP("slot", "s", 0, "Program slot to load as the starting patch.")
		targetWAV   = pflag.StringP("target", "t", "", "Path to a target WAV file; enables the /match command.")
		maxIters    = pflag.IntP("max-iterations", "i", 8, "Iteration count named in the /match prompt; /match runs a single round.")
	)
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})

	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			logger.Fatal("resolving config path", "err", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal("loading config", "path", path, "err", err)
	}

	backend, err := ai.NewBackend(cfg, *model)
	if err != nil {
		logger.Fatal("constructing AI backend", "err", err)
	}

	reg, err := registry.Load()
	if err != nil {
		logger.Fatal("loading parameter registry", "err", err)
	}

	lister, err := midiport.NewLister()
	if err != nil {
		logger.Fatal("opening MIDI backend", "err", err)
	}
	defer lister.Close()

	ports, err := lister.ListPorts()
	if err != nil {
		logger.Fatal("listing MIDI ports", "err", err)
	}
	index := *portIndex
	if index < 0 {
		found, ok := session.FindDevice(ports)
		if !ok {
			logger.Fatal("no RK-100S 2 found; pass --port explicitly", "ports", ports)
		}
		index = found
	}

	sess := session.New(lister, sysex.DefaultModelID, logger)
	if err := sess.Connect(index, ports[index]); err != nil {
		logger.Fatal("connecting", "err", err)
	}
	defer sess.Disconnect()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	payload, ok, err := sess.PullSlot(ctx, *channel, *slot, 0)
	if err != nil {
		logger.Fatal("pulling starting patch", "err", err)
	}
	if !ok {
		logger.Fatal("device did not respond to program dump request", "slot", *slot)
	}

	p, err := patch.New(reg, payload, *slot, *channel, sess, logger)
	if err != nil {
		logger.Fatal("loading patch buffer", "err", err)
	}
	logger.Info("loaded starting patch", "name", p.Name, "slot", p.Slot)

	exec := &ai.Executor{Patch: p, Reg: reg, Notes: sess}
	recorder, err := audio.NewPortaudioRecorder()
	if err != nil {
		logger.Warn("audio capture unavailable; record_audio/analyze_audio/compare_audio will fail", "err", err)
	} else {
		defer recorder.Close()
		exec.Rec = recorder
	}

	if *targetWAV != "" {
		samples, rate, err := audio.LoadWAV(*targetWAV)
		if err != nil {
			logger.Fatal("loading target WAV", "path", *targetWAV, "err", err)
		}
		exec.SetTarget(samples)
		exec.SampleRate = rate
	}

	driver := ai.NewDriver(backend, exec, logger)
	tools := ai.Specs()
	var history []ai.Message

	fmt.Println("patchmasta-chat — type a message, or /match to run the sound-matching loop, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/match":
			if *targetWAV == "" {
				fmt.Println("no --target WAV configured; restart with --target to enable /match")
				continue
			}
			result, err := driver.MatchSound(ctx, systemPrompt, history, tools, *maxIters)
			history = result.History
			if err != nil {
				fmt.Printf("match_sound error: %v\n", err)
				continue
			}
			fmt.Printf("match_sound: converged=%v distance=%.4f iterations=%d\n", result.Converged, result.Distance, result.Iterations)
			continue
		}

		history = append(history, ai.Message{Role: ai.RoleUser, Text: line})
		result, err := driver.Run(ctx, systemPrompt, history, tools)
		history = result.History
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printAssistantReplies(result.History)
	}
}

// printAssistantReplies prints the text of the last assistant message in
// history, the model's final reply of the most recent Run call. Text the
// model sent alongside earlier tool calls in that Run is not printed.
func printAssistantReplies(history []ai.Message) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != ai.RoleAssistant {
			continue
		}
		if m.Text != "" {
			fmt.Println(m.Text)
		}
		return
	}
}

// Command patchmasta-pull bulk-pulls program dumps off a connected RK-100S 2
// and saves them into a library directory, one .json/.syx pair per slot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/rk100s/patchmasta/internal/library"
	"github.com/rk100s/patchmasta/internal/session"
	"github.com/rk100s/patchmasta/internal/session/midiport"
	"github.com/rk100s/patchmasta/internal/sysex"
)

func main() {
	var (
		listPorts   = pflag.BoolP("list-ports", "l", false, "List available MIDI ports and exit.")
		portIndex   = pflag.IntP("port", "p", -1, "MIDI port index to connect to (see --list-ports). Defaults to auto-detecting the RK-100S 2.")
		channel     = pflag.IntP("channel", "c", 1, "MIDI channel (1-16).")
		start       = pflag.IntP("start", "s", 0, "First program slot to pull.")
		end         = pflag.IntP("end", "e", 127, "Last program slot to pull.")
		deadlineMs  = pflag.IntP("deadline", "d", 2000, "Per-slot response timeout in milliseconds.")
		outDir      = pflag.StringP("out", "o", "./library", "Directory to write pulled patches into.")
		modelIDHex  = pflag.StringP("model-id", "m", "", "Override the SysEx model ID byte (hex, e.g. 57). Defaults to the built-in placeholder.")
		verbose     = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "patchmasta-pull - bulk-pull RK-100S 2 program dumps into a library directory.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: patchmasta-pull [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	level := log.InfoLevel
	if *verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: level})

	lister, err := midiport.NewLister()
	if err != nil {
		logger.Fatal("opening MIDI backend", "err", err)
	}
	defer lister.Close()

	ports, err := lister.ListPorts()
	if err != nil {
		logger.Fatal("listing MIDI ports", "err", err)
	}
	if *listPorts {
		for i, name := range ports {
			fmt.Printf("%d: %s\n", i, name)
		}
		return
	}
	if len(ports) == 0 {
		logger.Fatal("no MIDI ports found")
	}

	index := *portIndex
	if index < 0 {
		found, ok := session.FindDevice(ports)
		if !ok {
			logger.Fatal("no RK-100S 2 found; pass --port explicitly", "ports", ports)
		}
		index = found
	}

	model := sysex.DefaultModelID
	if *modelIDHex != "" {
		var raw uint64
		if _, err := fmt.Sscanf(*modelIDHex, "%x", &raw); err != nil {
			logger.Fatal("invalid --model-id", "value", *modelIDHex, "err", err)
		}
		model = sysex.ModelID(raw)
	}

	sess := session.New(lister, model, logger)
	if err := sess.Connect(index, ports[index]); err != nil {
		logger.Fatal("connecting", "err", err)
	}
	defer sess.Disconnect()

	store, err := library.NewStore(*outDir)
	if err != nil {
		logger.Fatal("opening library", "dir", *outDir, "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deadline := time.Duration(*deadlineMs) * time.Millisecond
	results, err := sess.PullRange(ctx, *channel, *start, *end, deadline)
	if err != nil {
		logger.Error("pull range aborted early", "err", err)
	}

	pulled, missing := 0, 0
	for _, r := range results {
		if !r.OK {
			missing++
			continue
		}
		name, _ := sysex.ExtractName(r.Payload)
		if name == "" {
			name = fmt.Sprintf("slot_%03d", r.Slot)
		}
		rec := library.PatchRecord{Name: name, ProgramNumber: r.Slot}
		slug := fmt.Sprintf("%03d_%s", r.Slot, sanitizeSlug(name))
		if err := store.SavePatch(slug, rec, r.Payload); err != nil {
			logger.Error("saving patch", "slot", r.Slot, "err", err)
			continue
		}
		pulled++
	}

	logger.Info("pull complete", "pulled", pulled, "missing", missing, "dir", *outDir)
}

func sanitizeSlug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == '-' || r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "patch"
	}
	return string(out)
}

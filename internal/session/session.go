// Package session owns the device's MIDI port pair, demuxes unsolicited
// inbound SysEx into a single-holder pending-response cell, and exposes a
// synchronous request/response facade with a bounded wait (spec §4.4).
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rk100s/patchmasta/internal/sysex"
)

// Errors surfaced by Session operations (spec §7).
var (
	ErrNotConnected     = errors.New("session: not connected")
	ErrPullInProgress   = errors.New("session: a pull_slot call is already pending")
)

// DeviceIoError wraps an I/O failure from the underlying transport. It
// terminates the current operation; the session itself remains open
// unless the failure was a disconnect event (spec §7).
type DeviceIoError struct {
	Cause error
}

func (e *DeviceIoError) Error() string { return fmt.Sprintf("session: device I/O error: %v", e.Cause) }
func (e *DeviceIoError) Unwrap() error { return e.Cause }

// defaultDeadline is pull_slot's default wait when the caller passes 0.
const defaultDeadline = 2000 * time.Millisecond

// deviceNameFragment is what FindDevice matches against port names.
const deviceNameFragment = "RK-100S"

// Transport is the narrow port abstraction a Session drives. The real
// implementation (internal/session/midiport) wraps
// gitlab.com/gomidi/midi/v2; tests substitute a pty- or channel-backed fake
// (spec §8, property 8 and 10).
type Transport interface {
	// Send writes a fully framed MIDI message to the output port.
	Send(msg []byte) error
	// Listen installs the single inbound-message callback, replacing any
	// previous one, and returns a function that uninstalls it.
	Listen(onMessage func(msg []byte)) (unlisten func(), err error)
	// Close releases the port pair.
	Close() error
}

// PortLister enumerates available MIDI port names and opens a Transport
// for a chosen index. The real implementation lives in
// internal/session/midiport; it is a separate interface from Transport
// because port *discovery* commonly needs no open connection at all.
type PortLister interface {
	ListPorts() ([]string, error)
	Open(index int) (Transport, error)
}

type pendingRequest struct {
	collector func(payload []byte) bool
	result    chan []byte
}

// Session owns at most one open device connection at a time. Connect
// replaces any prior connection. All methods are safe for concurrent use
// except that multiple concurrent PullSlot calls are not supported — the
// pending-response cell is single-holder (spec §5).
type Session struct {
	lister PortLister
	model  sysex.ModelID
	log    *log.Logger

	mu        sync.Mutex
	transport Transport
	unlisten  func()
	portName  string
	pending   *pendingRequest
}

// New constructs a Session bound to a port lister/opener and a SysEx model
// ID (configurable per spec §9 — never hardcoded past this injection point).
func New(lister PortLister, model sysex.ModelID, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Session{lister: lister, model: model, log: logger}
}

// ListPorts enumerates available MIDI port names.
func (s *Session) ListPorts() ([]string, error) {
	return s.lister.ListPorts()
}

// FindDevice returns the index of the first port name matching the fixed
// RK-100S 2 name fragment, or ok=false if none match.
func FindDevice(ports []string) (index int, ok bool) {
	for i, name := range ports {
		if strings.Contains(name, deviceNameFragment) {
			return i, true
		}
	}
	return 0, false
}

// Connect opens the port at index, replacing any existing connection.
func (s *Session) Connect(index int, name string) error {
	transport, err := s.lister.Open(index)
	if err != nil {
		return &DeviceIoError{Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	unlisten, err := transport.Listen(s.handleInbound)
	if err != nil {
		_ = transport.Close()
		return &DeviceIoError{Cause: err}
	}
	s.transport = transport
	s.unlisten = unlisten
	s.portName = name
	s.log.Info("connected", "port", name)
	return nil
}

// Disconnect closes the current connection, if any. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.transport == nil {
		return nil
	}
	if s.unlisten != nil {
		s.unlisten()
	}
	err := s.transport.Close()
	s.transport = nil
	s.unlisten = nil
	if s.pending != nil {
		close(s.pending.result)
		s.pending = nil
	}
	s.log.Info("disconnected", "port", s.portName)
	s.portName = ""
	if err != nil {
		return &DeviceIoError{Cause: err}
	}
	return nil
}

// IsConnected reports whether a transport is currently open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// Send writes a fully framed message, failing with ErrNotConnected if no
// port is open.
func (s *Session) Send(msg []byte) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	if err := t.Send(msg); err != nil {
		return &DeviceIoError{Cause: err}
	}
	return nil
}

func mask7(v int) byte { return byte(v) & 0x7F }

// SendNRPN sends the three-message NRPN sequence for channel, msb/lsb, value.
func (s *Session) SendNRPN(channel int, msb, lsb byte, value int) error {
	status := byte(0xB0) | byte((channel-1)&0x0F)
	v := mask7(value)
	return s.Send([]byte{
		status, 99, mask7(int(msb)),
		status, 98, mask7(int(lsb)),
		status, 6, v,
	})
}

// SendCC sends a single control-change message.
func (s *Session) SendCC(channel int, cc byte, value int) error {
	status := byte(0xB0) | byte((channel-1)&0x0F)
	return s.Send([]byte{status, mask7(int(cc)), mask7(value)})
}

// SendNoteOn sends a note-on message.
func (s *Session) SendNoteOn(channel int, note, velocity int) error {
	status := byte(0x90) | byte((channel-1)&0x0F)
	return s.Send([]byte{status, mask7(note), mask7(velocity)})
}

// SendNoteOff sends a note-off message.
func (s *Session) SendNoteOff(channel int, note, velocity int) error {
	status := byte(0x80) | byte((channel-1)&0x0F)
	return s.Send([]byte{status, mask7(note), mask7(velocity)})
}

// SendProgramDump writes a full program dump to the device live.
func (s *Session) SendProgramDump(channel int, payload []byte) error {
	msg, err := sysex.BuildProgramDump(channel, s.model, payload)
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// handleInbound is the single transport-level callback. It is invoked from
// whatever goroutine the Transport implementation delivers messages on;
// all it does is hand the message to the currently installed pending
// collector, if any, preserving arrival order because Transport
// implementations deliver one message at a time.
func (s *Session) handleInbound(msg []byte) {
	s.mu.Lock()
	p := s.pending
	s.mu.Unlock()
	if p == nil {
		return
	}
	if p.collector(msg) {
		select {
		case p.result <- msg:
		default:
		}
	}
}

// PullSlot is the core correlation primitive: it installs a collector for
// inbound SysEx that parses as a program dump, transmits a program-dump
// request for slot, waits up to deadline (default 2000ms if deadline<=0),
// and returns the first matching payload, or ok=false on timeout. The
// collector is uninstalled before return regardless of outcome. Only one
// PullSlot may be in flight at a time; a concurrent call returns
// ErrPullInProgress immediately rather than silently interleaving results.
func (s *Session) PullSlot(ctx context.Context, channel, slot int, deadline time.Duration) (payload []byte, ok bool, err error) {
	if deadline <= 0 {
		deadline = defaultDeadline
	}

	s.mu.Lock()
	if s.transport == nil {
		s.mu.Unlock()
		return nil, false, ErrNotConnected
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, false, ErrPullInProgress
	}
	result := make(chan []byte, 1)
	s.pending = &pendingRequest{
		result: result,
		collector: func(msg []byte) bool {
			_, perr := sysex.ParseProgramDump(msg, s.model)
			return perr == nil
		},
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
	}()

	req, err := sysex.BuildProgramDumpRequest(channel, s.model, slot)
	if err != nil {
		return nil, false, err
	}
	if err := s.Send(req); err != nil {
		return nil, false, err
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case msg, open := <-result:
		if !open {
			return nil, false, nil
		}
		payload, perr := sysex.ParseProgramDump(msg, s.model)
		if perr != nil {
			return nil, false, nil
		}
		return payload, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// SlotResult is one element of a PullRange sequence.
type SlotResult struct {
	Slot    int
	Payload []byte
	OK      bool
}

// PullRange drives PullSlot for each slot in [start, end], never aborting
// on an individual timeout, and returns results in slot order. PullSlot's
// single-holder requirement makes this effectively serial by construction.
func (s *Session) PullRange(ctx context.Context, channel, start, end int, deadlineEach time.Duration) ([]SlotResult, error) {
	out := make([]SlotResult, 0, end-start+1)
	for slot := start; slot <= end; slot++ {
		payload, ok, err := s.PullSlot(ctx, channel, slot, deadlineEach)
		if err != nil {
			var dioErr *DeviceIoError
			if errors.As(err, &dioErr) || errors.Is(err, ErrNotConnected) {
				return out, err
			}
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
		}
		out = append(out, SlotResult{Slot: slot, Payload: payload, OK: ok})
	}
	return out, nil
}

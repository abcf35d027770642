// Package midiport wraps gitlab.com/gomidi/midi/v2 as a
// session.PortLister/session.Transport pair, the real USB-MIDI transport
// the Device Session drives outside of tests.
package midiport

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/rk100s/patchmasta/internal/session"
)

// Lister opens RK-100S 2 ports via the system's rtmidi backend.
type Lister struct {
	driver *rtmididrv.Driver
}

// NewLister initializes the rtmidi backend.
func NewLister() (*Lister, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midiport: opening rtmidi driver: %w", err)
	}
	return &Lister{driver: drv}, nil
}

// Close releases the underlying rtmidi driver.
func (l *Lister) Close() error {
	return l.driver.Close()
}

// ListPorts returns the names of available MIDI output ports (in/out pairs
// share a name on a USB-MIDI class-compliant device like the RK-100S 2).
func (l *Lister) ListPorts() ([]string, error) {
	outs, err := l.driver.Outs()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(outs))
	for i, o := range outs {
		names[i] = o.String()
	}
	return names, nil
}

// Open opens the in/out port pair at index for exclusive use by one
// session.Transport.
func (l *Lister) Open(index int) (session.Transport, error) {
	ins, err := l.driver.Ins()
	if err != nil {
		return nil, err
	}
	outs, err := l.driver.Outs()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(outs) || index >= len(ins) {
		return nil, fmt.Errorf("midiport: port index %d out of range", index)
	}

	in, out := ins[index], outs[index]
	if err := in.Open(); err != nil {
		return nil, err
	}
	if err := out.Open(); err != nil {
		_ = in.Close()
		return nil, err
	}

	send, err := midi.SendTo(out)
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		return nil, err
	}

	return &transport{in: in, out: out, send: send}, nil
}

type transport struct {
	in   drivers.In
	out  drivers.Out
	send func(midi.Message) error
	stop func()
}

func (t *transport) Send(msg []byte) error {
	return t.send(midi.Message(msg))
}

func (t *transport) Listen(onMessage func(msg []byte)) (func(), error) {
	stop, err := midi.ListenTo(t.in, func(msg midi.Message, timestampms int32) {
		onMessage([]byte(msg))
	}, midi.UseSysEx())
	if err != nil {
		return nil, err
	}
	t.stop = stop
	return stop, nil
}

func (t *transport) Close() error {
	if t.stop != nil {
		t.stop()
	}
	if err := t.in.Close(); err != nil {
		return err
	}
	return t.out.Close()
}

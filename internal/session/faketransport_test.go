package session

import (
	"os"
	"sync"

	"github.com/creack/pty"
)

// ptyTransport stands in for a real MIDI port when testing a Session's
// correlation logic (spec §8, properties 8 and 10). Send writes each
// outbound message to the slave end of a pseudo-terminal pair, which
// nothing reads; replies produced by respond are handed to the installed
// listener by a direct in-process call.
type ptyTransport struct {
	master *os.File
	slave  *os.File

	mu       sync.Mutex
	listener func([]byte)
	stopCh   chan struct{}

	// respond, if set, is invoked on the "device side" for every message
	// written by the session, and its return value (if non-nil) is
	// delivered back as an inbound message.
	respond func(msg []byte) []byte
}

func newPtyTransport() (*ptyTransport, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &ptyTransport{master: master, slave: slave}, nil
}

func (t *ptyTransport) Send(msg []byte) error {
	if _, err := t.slave.Write(msg); err != nil {
		return err
	}
	if t.respond != nil {
		if reply := t.respond(msg); reply != nil {
			t.deliver(reply)
		}
	}
	return nil
}

func (t *ptyTransport) deliver(msg []byte) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l(msg)
	}
}

func (t *ptyTransport) Listen(onMessage func([]byte)) (func(), error) {
	t.mu.Lock()
	t.listener = onMessage
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.listener = nil
		t.mu.Unlock()
	}, nil
}

func (t *ptyTransport) Close() error {
	_ = t.master.Close()
	return t.slave.Close()
}

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk100s/patchmasta/internal/sysex"
)

type fakeLister struct {
	names     []string
	transport *ptyTransport
	openErr   error
}

func (f *fakeLister) ListPorts() ([]string, error) { return f.names, nil }

func (f *fakeLister) Open(index int) (Transport, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.transport, nil
}

func newConnectedSession(t *testing.T) (*Session, *ptyTransport) {
	t.Helper()
	pt, err := newPtyTransport()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pt.Close() })

	lister := &fakeLister{names: []string{"Korg RK-100S 2"}, transport: pt}
	s := New(lister, sysex.DefaultModelID, nil)
	require.NoError(t, s.Connect(0, "Korg RK-100S 2"))
	return s, pt
}

func TestFindDevice(t *testing.T) {
	idx, ok := FindDevice([]string{"Midi Through", "Korg RK-100S 2", "Other"})
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = FindDevice([]string{"Midi Through"})
	assert.False(t, ok)
}

func TestPullSlot_CannedResponse(t *testing.T) {
	s, pt := newConnectedSession(t)

	canned, err := sysex.BuildProgramDump(1, sysex.DefaultModelID, []byte("CannedPatch "+string(make([]byte, 20))))
	require.NoError(t, err)

	pt.respond = func(msg []byte) []byte {
		return canned
	}

	payload, ok, err := s.PullSlot(context.Background(), 1, 5, 2000*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	name, nameOK := sysex.ExtractName(payload)
	assert.True(t, nameOK)
	assert.Equal(t, "CannedPatch", name)
}

func TestPullSlot_TimeoutWithoutResponse(t *testing.T) {
	s, _ := newConnectedSession(t)

	start := time.Now()
	_, ok, err := s.PullSlot(context.Background(), 1, 5, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPullSlot_NotConnected(t *testing.T) {
	s := New(&fakeLister{names: nil}, sysex.DefaultModelID, nil)
	_, _, err := s.PullSlot(context.Background(), 1, 0, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPullSlot_ConcurrentCallsDoNotInterleave(t *testing.T) {
	s, pt := newConnectedSession(t)
	canned, err := sysex.BuildProgramDump(1, sysex.DefaultModelID, []byte("X"))
	require.NoError(t, err)

	firstSendSeen := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	pt.respond = func(msg []byte) []byte {
		once.Do(func() {
			close(firstSendSeen)
			<-release // hold the first request open so the second observes s.pending != nil
		})
		return canned
	}

	type res struct {
		ok  bool
		err error
	}
	results := make(chan res, 2)
	go func() {
		_, ok, err := s.PullSlot(context.Background(), 1, 1, 2*time.Second)
		results <- res{ok, err}
	}()

	<-firstSendSeen
	go func() {
		_, ok, err := s.PullSlot(context.Background(), 1, 2, 2*time.Second)
		results <- res{ok, err}
	}()
	time.Sleep(20 * time.Millisecond) // give the second call time to observe the pending cell
	close(release)

	a := <-results
	b := <-results

	successes := 0
	inProgress := 0
	for _, r := range []res{a, b} {
		switch {
		case r.err == ErrPullInProgress:
			inProgress++
		case r.err == nil && r.ok:
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, inProgress)
}

func TestSendNRPN_MasksAndFramesCorrectly(t *testing.T) {
	s, pt := newConnectedSession(t)
	var got []byte
	pt.respond = func(msg []byte) []byte {
		got = append(got, msg...)
		return nil
	}
	require.NoError(t, s.SendNRPN(1, 0x05, 0x00, 200)) // 200 masks to 0x48
	assert.Equal(t, []byte{0xB0, 99, 5, 0xB0, 98, 0, 0xB0, 6, 0x48}, got)
}

func TestDisconnect_Idempotent(t *testing.T) {
	s, _ := newConnectedSession(t)
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.False(t, s.IsConnected())
}

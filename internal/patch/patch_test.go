package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rk100s/patchmasta/internal/registry"
	"github.com/rk100s/patchmasta/internal/sysex"
)

type fakeLiveWriter struct {
	nrpnCalls   []int
	ccCalls     []int
	dumps       int
	lastPayload []byte
}

func (f *fakeLiveWriter) SendNRPN(channel int, msb, lsb byte, value int) error {
	f.nrpnCalls = append(f.nrpnCalls, value)
	return nil
}

func (f *fakeLiveWriter) SendCC(channel int, cc byte, value int) error {
	f.ccCalls = append(f.ccCalls, value)
	return nil
}

func (f *fakeLiveWriter) SendProgramDump(channel int, payload []byte) error {
	f.dumps++
	f.lastPayload = append([]byte(nil), payload...)
	return nil
}

func newTestBuffer(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 400)
	copy(buf, []byte("TestPatch   "))
	buf[sysex.FX1Type] = 1          // Compressor
	buf[sysex.FX1RibbonAssign] = 0  // sensitivity
	buf[sysex.FX2Type] = 0          // Off
	buf[sysex.FX2RibbonAssign] = sysex.RibbonOff
	return buf
}

func newTestPatch(t *testing.T, live LiveWriter) *Patch {
	t.Helper()
	reg, err := registry.Load()
	require.NoError(t, err)
	p, err := New(reg, newTestBuffer(t), 5, 1, live, nil)
	require.NoError(t, err)
	return p
}

func TestNew_ExtractsNameAndFXTypes(t *testing.T) {
	p := newTestPatch(t, nil)
	assert.Equal(t, "TestPatch", p.Name)
	assert.Equal(t, 1, p.fx1Type)
	assert.Equal(t, 0, p.fx2Type)
}

func TestNew_RejectsCorruptFXType(t *testing.T) {
	reg, err := registry.Load()
	require.NoError(t, err)
	buf := newTestBuffer(t)
	buf[sysex.FX1Type] = 200
	_, err = New(reg, buf, 0, 1, nil, nil)
	assert.ErrorIs(t, err, ErrBufferCorrupt)
}

func TestWriteParam_NRPNDoesNotTouchBuffer(t *testing.T) {
	live := &fakeLiveWriter{}
	p := newTestPatch(t, live)
	before := append([]byte(nil), p.Buffer...)

	err := p.WriteParam("filter_cutoff", 80)
	require.NoError(t, err)

	assert.Equal(t, before, p.Buffer)
	assert.Equal(t, []int{80}, live.nrpnCalls)
	assert.Equal(t, 0, live.dumps)
}

func TestWriteParam_SysexOffsetWritesBufferAndSendsLive(t *testing.T) {
	live := &fakeLiveWriter{}
	p := newTestPatch(t, live)

	err := p.WriteParam("patch_name_slot0", 65)
	require.NoError(t, err)

	assert.Equal(t, byte(65), p.Buffer[0])
	assert.Equal(t, 1, live.dumps)
}

func TestWriteParam_EffectParamResolvesAgainstCurrentType(t *testing.T) {
	live := &fakeLiveWriter{}
	p := newTestPatch(t, live)

	err := p.WriteParam("sensitivity", 99) // Compressor slot 0, currently in FX1
	require.NoError(t, err)

	offset, err := sysex.FXParamPacked(1, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(99), p.Buffer[offset])
}

func TestWriteFXType_ResetsStaleRibbonAssign(t *testing.T) {
	live := &fakeLiveWriter{}
	p := newTestPatch(t, live)
	// Compressor (type 1) has slot_index 0,1,2; ribbon currently = 0 (valid).
	// Switch FX1 to Ring Modulator (type 16), which has slot_index 0,1 -- still valid.
	// Then switch to an effect where the old ribbon value is invalid.
	require.NoError(t, p.WriteParam("fx_1_type", 16)) // Ring Modulator: slots 0 only ribbon-assignable at slot 0
	ribbonByte := p.Buffer[sysex.FX1RibbonAssign]
	assert.Equal(t, byte(0), ribbonByte) // slot_index 0 still exists in Ring Modulator

	// Now set ribbon to slot_index 1 manually via buffer (simulating prior state), then
	// switch to an effect type with no slot_index 1.
	p.Buffer[sysex.FX1RibbonAssign] = 1
	p.fx1Type = 16
	require.NoError(t, p.WriteParam("fx_1_type", 0)) // Off: no params at all
	assert.Equal(t, byte(sysex.RibbonOff), p.Buffer[sysex.FX1RibbonAssign])
}

func TestReadParam_UnknownName(t *testing.T) {
	p := newTestPatch(t, nil)
	_, err := p.ReadParam("does_not_exist")
	assert.Error(t, err)
}

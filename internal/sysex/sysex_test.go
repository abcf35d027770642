package sysex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFramingRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		channel := rapid.IntRange(1, 16).Draw(t, "channel")
		program := rapid.IntRange(0, 127).Draw(t, "program")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload")

		msg, err := BuildProgramDump(channel, DefaultModelID, payload)
		require.NoError(t, err)

		got, err := ParseProgramDump(msg, DefaultModelID)
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		_ = program
	})
}

func TestParseProgramDump_WrongManufacturer(t *testing.T) {
	msg, err := BuildProgramDump(1, DefaultModelID, []byte{1, 2, 3})
	require.NoError(t, err)
	msg[1] = 0x41 // not Korg

	_, err = ParseProgramDump(msg, DefaultModelID)
	assert.ErrorIs(t, err, ErrNotAKorgDump)
}

func TestParseProgramDump_ShortAndMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{0xF0, 0x42, 0x30, 0x57, 0x40}, // len 5 < 6
		{0x00, 0x42, 0x30, 0x57, 0x40, 0xF7},
		{0xF0, 0x42, 0x30, 0x99, 0x40, 0xF7}, // wrong model
		{0xF0, 0x42, 0x30, 0x57, 0x10, 0xF7}, // wrong func
	}
	for _, c := range cases {
		_, err := ParseProgramDump(c, DefaultModelID)
		assert.ErrorIs(t, err, ErrNotAKorgDump)
	}
}

func TestExtractName(t *testing.T) {
	payload := append([]byte("BrassLead   "), make([]byte, 20)...)
	name, ok := ExtractName(payload)
	assert.True(t, ok)
	assert.Equal(t, "BrassLead", name)

	payload2 := append([]byte("Pad         "), make([]byte, 20)...)
	name2, ok := ExtractName(payload2)
	assert.True(t, ok)
	assert.Equal(t, "Pad", name2)

	_, ok = ExtractName(nil)
	assert.False(t, ok)

	blank := append([]byte("            "), make([]byte, 20)...)
	_, ok = ExtractName(blank)
	assert.False(t, ok)
}

func TestPackedOffsetFormula(t *testing.T) {
	p, err := FXParamPacked(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 332, p)

	p, err = FXParamPacked(1, 17)
	require.NoError(t, err)
	assert.Equal(t, 351, p)

	p, err = FXParamPacked(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 359, p)

	p, err = FXParamPacked(2, 17)
	require.NoError(t, err)
	assert.Equal(t, 379, p)

	assert.Equal(t, 327, FX1Type)
	assert.Equal(t, 330, FX1RibbonAssign)
	assert.Equal(t, 331, FX1RibbonPolarity)
	assert.Equal(t, 355, FX2Type)
	assert.Equal(t, 357, FX2RibbonAssign)
	assert.Equal(t, 358, FX2RibbonPolarity)
}

func TestFXParamPacked_InvalidSlot(t *testing.T) {
	_, err := FXParamPacked(3, 0)
	assert.Error(t, err)
	_, err = FXParamPacked(1, 23)
	assert.Error(t, err)
}

func TestByteAt_PayloadTooShort(t *testing.T) {
	_, err := ByteAt([]byte{1, 2, 3}, 10)
	assert.ErrorIs(t, err, ErrPayloadTooShort)
}

func TestWriteByteAt_Clamps(t *testing.T) {
	buf := make([]byte, 5)
	require.NoError(t, WriteByteAt(buf, 2, 999, 0, 17))
	assert.Equal(t, byte(17), buf[2])

	require.NoError(t, WriteByteAt(buf, 2, -5, 0, 17))
	assert.Equal(t, byte(0), buf[2])
}

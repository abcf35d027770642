// Package patch mediates reads and writes against a program's in-memory
// byte buffer, coordinating logical-offset resolution with whichever
// effect type is currently selected in slots 1 and 2 (spec §4.3).
package patch

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/rk100s/patchmasta/internal/registry"
	"github.com/rk100s/patchmasta/internal/sysex"
)

// ErrBufferCorrupt is returned when a loaded buffer's effect-type bytes are
// outside [0,17] — the only invariant violation New rejects outright.
var ErrBufferCorrupt = errors.New("patch: fx type byte out of range, buffer is corrupt")

// LiveWriter sends a parameter value live to a connected device. Patch
// never imports the session package directly — it depends on this narrow
// interface so it can be tested without a real or fake MIDI port.
type LiveWriter interface {
	SendNRPN(channel int, msb, lsb byte, value int) error
	SendCC(channel int, cc byte, value int) error
	SendProgramDump(channel int, payload []byte) error
}

// Patch is a mutable in-memory program: display metadata plus a raw
// program-dump payload (the "patch buffer"). It is exclusively owned by
// whichever view currently edits it — the library store only holds
// serialized copies.
type Patch struct {
	mu sync.Mutex

	Name     string
	Slot     int
	Category string
	Notes    string
	Buffer   []byte

	reg     *registry.Registry
	fx1Type int
	fx2Type int
	live    LiveWriter
	channel int
	log     *log.Logger
}

// New constructs a Patch from a raw program-dump payload already decoded
// from a SysEx program dump (see sysex.ParseProgramDump). slot is the
// device program index the payload was pulled from (or will be written to).
func New(reg *registry.Registry, buffer []byte, slot int, channel int, live LiveWriter, logger *log.Logger) (*Patch, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &Patch{
		Buffer:  append([]byte(nil), buffer...),
		Slot:    slot,
		reg:     reg,
		live:    live,
		channel: channel,
		log:     logger,
	}
	if name, ok := sysex.ExtractName(buffer); ok {
		p.Name = name
	} else {
		p.Name = fmt.Sprintf("Program %03d", slot)
	}
	if err := p.reloadFXTypes(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Patch) reloadFXTypes() error {
	t1, err := sysex.ByteAt(p.Buffer, sysex.FX1Type)
	if err != nil {
		return err
	}
	t2, err := sysex.ByteAt(p.Buffer, sysex.FX2Type)
	if err != nil {
		return err
	}
	if int(t1) > 17 || int(t2) > 17 {
		return ErrBufferCorrupt
	}
	p.fx1Type = int(t1)
	p.fx2Type = int(t2)
	return nil
}

// effectSlotFor returns which physical effect slot (1 or 2) currently hosts
// the named effect parameter, and that slot's currently selected effect
// type, or ok=false if name does not belong to either slot's active type.
func (p *Patch) effectSlotFor(name string) (slot int, et registry.EffectType, epd registry.EffectParamDef, ok bool) {
	if et1, found := p.reg.EffectType(p.fx1Type); found {
		for _, epd := range et1.Params {
			if epd.Name == name {
				return 1, et1, epd, true
			}
		}
	}
	if et2, found := p.reg.EffectType(p.fx2Type); found {
		for _, epd := range et2.Params {
			if epd.Name == name {
				return 2, et2, epd, true
			}
		}
	}
	return 0, registry.EffectType{}, registry.EffectParamDef{}, false
}

// ReadParam returns the current value of a named parameter, resolving
// effect-region parameters against whichever effect type is presently
// selected.
func (p *Patch) ReadParam(name string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if def, ok := p.reg.Get(name); ok {
		switch def.Kind {
		case registry.AddressSysexOffset:
			b, err := sysex.ByteAt(p.Buffer, def.SysexOffset)
			if err != nil {
				return 0, err
			}
			return int(b), nil
		default:
			return 0, fmt.Errorf("patch: %q is a live-only parameter with no stored buffer value", name)
		}
	}

	if slot, _, epd, ok := p.effectSlotFor(name); ok {
		offset, err := sysex.FXParamPacked(slot, epd.SlotIndex)
		if err != nil {
			return 0, err
		}
		b, err := sysex.ByteAt(p.Buffer, offset)
		if err != nil {
			return 0, err
		}
		return int(b), nil
	}

	return 0, fmt.Errorf("%w: %s", registry.ErrUnknownParameter, name)
}

// WriteParam writes a value to a named parameter. NRPN/CC-addressed
// parameters are sent live only and never touch the buffer. SysEx-offset
// parameters (including effect parameters) write the buffer and, if a
// LiveWriter is configured, also send the value live.
func (p *Patch) WriteParam(name string, value int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if def, ok := p.reg.Get(name); ok {
		switch def.Kind {
		case registry.AddressNRPN:
			if p.live == nil {
				return nil
			}
			return p.live.SendNRPN(p.channel, def.NRPN.MSB, def.NRPN.LSB, def.Clamp(value))
		case registry.AddressCC:
			if p.live == nil {
				return nil
			}
			return p.live.SendCC(p.channel, def.CC, def.Clamp(value))
		case registry.AddressSysexOffset:
			if err := sysex.WriteByteAt(p.Buffer, def.SysexOffset, value, def.Min, def.Max); err != nil {
				return err
			}
			return p.sendLiveProgram()
		}
	}

	if name == "fx_1_type" || name == "fx_2_type" {
		return p.writeFXType(name, value)
	}

	if slot, _, epd, ok := p.effectSlotFor(name); ok {
		offset, err := sysex.FXParamPacked(slot, epd.SlotIndex)
		if err != nil {
			return err
		}
		if err := sysex.WriteByteAt(p.Buffer, offset, value, epd.Min, epd.Max); err != nil {
			return err
		}
		return p.sendLiveProgram()
	}

	return fmt.Errorf("%w: %s", registry.ErrUnknownParameter, name)
}

// writeFXType changes the effect type for slot 1 or 2 in place. Per spec
// §4.3, the buffer bytes are preserved byte-wise, but subsequent
// name-based reads resolve against the new type's parameter set, and any
// ribbon-assign byte that no longer names a valid slot_index of the new
// type is reset to sysex.RibbonOff.
func (p *Patch) writeFXType(name string, value int) error {
	var slot int
	switch name {
	case "fx_1_type":
		slot = 1
	case "fx_2_type":
		slot = 2
	}

	typeOffset := sysex.FX1Type
	ribbonOffset := sysex.FX1RibbonAssign
	if slot == 2 {
		typeOffset = sysex.FX2Type
		ribbonOffset = sysex.FX2RibbonAssign
	}

	newType := value
	if newType < 0 {
		newType = 0
	}
	if newType > 17 {
		newType = 17
	}
	if err := sysex.WriteByteAt(p.Buffer, typeOffset, newType, 0, 17); err != nil {
		return err
	}

	et, ok := p.reg.EffectType(newType)
	if !ok {
		return fmt.Errorf("patch: unknown effect type %d", newType)
	}
	ribbonByte, err := sysex.ByteAt(p.Buffer, ribbonOffset)
	if err != nil {
		return err
	}
	if ribbonByte != sysex.RibbonOff {
		if _, stillValid := et.ParamBySlotIndex(int(ribbonByte)); !stillValid {
			if werr := sysex.WriteByteAt(p.Buffer, ribbonOffset, sysex.RibbonOff, 0, 31); werr != nil {
				return werr
			}
			p.log.Debug("ribbon assign reset to off after effect type change", "slot", slot, "new_type", newType)
		}
	}

	if slot == 1 {
		p.fx1Type = newType
	} else {
		p.fx2Type = newType
	}
	return p.sendLiveProgram()
}

// sendLiveProgram re-sends the full program dump live, per spec §9: the
// per-parameter write SysEx was never documented, so any effect-parameter
// change re-transmits the whole program rather than guessing at a finer
// message.
func (p *Patch) sendLiveProgram() error {
	if p.live == nil {
		return nil
	}
	return p.live.SendProgramDump(p.channel, p.Buffer)
}

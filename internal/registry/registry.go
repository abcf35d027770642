// Package registry holds the static, name-indexed catalog of RK-100S 2
// synth parameters and the 18 insert-effect type definitions. Data lives in
// embedded YAML assets (internal/registry/data) decoded by Load on each
// call, the same pattern the teacher uses for its tocalls.yaml device
// table — keeps a large device-specific table out of Go source.
package registry

import (
	"embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/parameters.yaml data/effects.yaml
var dataFS embed.FS

// NRPNAddress addresses a parameter via a Non-Registered Parameter Number.
type NRPNAddress struct {
	MSB byte
	LSB byte
}

// MIDI addressing kinds. A ParamDef carries exactly one.
type AddressKind int

const (
	AddressNone AddressKind = iota
	AddressNRPN
	AddressCC
	AddressSysexOffset
)

// ParamDef is an immutable record describing one user-addressable
// parameter: its range, description, and MIDI encoding.
type ParamDef struct {
	Name               string
	Description        string
	EffectDescription  string
	Min, Max           int
	Kind               AddressKind
	NRPN               NRPNAddress
	CC                 byte
	SysexOffset        int
	SlotIndex          int // effect-region parameters only
	RibbonAssignable   bool
	IsEffectParam      bool
}

// Clamp restricts v to the parameter's declared range.
func (p ParamDef) Clamp(v int) int {
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

// ErrNoMidiAddress is raised for a parameter lacking both NRPN and CC
// addressing when a live MIDI message is requested — a programming error,
// not a runtime condition a caller should retry.
var ErrNoMidiAddress = errors.New("registry: parameter has no NRPN or CC address")

// ErrUnknownParameter is wrapped in the error the patch package's
// ReadParam/WriteParam return for an unrecognized name. Get reports a
// miss with ok=false instead.
var ErrUnknownParameter = errors.New("registry: unknown parameter")

// BuildMessage returns the MIDI byte sequence (1 or 3 concatenated 3-byte
// messages) for writing value to this parameter on channel. The value is
// clamped to [Min, Max] first.
func (p ParamDef) BuildMessage(channel int, value int) ([]byte, error) {
	v := byte(p.Clamp(value)) & 0x7F
	status := byte(0xB0) | byte((channel-1)&0x0F)
	switch p.Kind {
	case AddressNRPN:
		return []byte{
			status, 99, p.NRPN.MSB,
			status, 98, p.NRPN.LSB,
			status, 6, v,
		}, nil
	case AddressCC:
		return []byte{status, p.CC, v}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoMidiAddress, p.Name)
	}
}

// EffectParamDef describes one parameter within an effect type's data area.
// Its packed buffer offset depends on which physical effect slot (1 or 2)
// it is currently mapped into; resolving that is the Patch Buffer's job
// (internal/patch), not the registry's.
type EffectParamDef struct {
	Name             string
	SlotIndex        int
	Min, Max         int
	RibbonAssignable bool
}

// EffectType is an immutable record: a numeric id in [0,17] (0 = off), a
// name, and its ordered, slot_index-unique parameter list.
type EffectType struct {
	ID     int
	Name   string
	Params []EffectParamDef
}

// RibbonAssignableParams returns the subset of Params with
// RibbonAssignable == true, in declaration order.
func (e EffectType) RibbonAssignableParams() []EffectParamDef {
	out := make([]EffectParamDef, 0, len(e.Params))
	for _, p := range e.Params {
		if p.RibbonAssignable {
			out = append(out, p)
		}
	}
	return out
}

// ParamBySlotIndex looks up a parameter of this effect type by its
// slot_index, returning ok=false if none matches (including RibbonOff=31,
// which never corresponds to a declared parameter).
func (e EffectType) ParamBySlotIndex(slotIndex int) (EffectParamDef, bool) {
	for _, p := range e.Params {
		if p.SlotIndex == slotIndex {
			return p, true
		}
	}
	return EffectParamDef{}, false
}

// Registry is the loaded, immutable parameter and effect-type catalog.
type Registry struct {
	params     []ParamDef
	byName     map[string]int
	effects    [18]EffectType
}

// yaml document shapes, unexported — the decoded form never escapes Load.
type yamlParam struct {
	Name              string `yaml:"name"`
	Description       string `yaml:"description"`
	EffectDescription string `yaml:"effect_description"`
	Min               int    `yaml:"min"`
	Max               int    `yaml:"max"`
	NRPN              *struct {
		MSB int `yaml:"msb"`
		LSB int `yaml:"lsb"`
	} `yaml:"nrpn"`
	CC          *int `yaml:"cc"`
	SysexOffset *int `yaml:"sysex_offset"`
}

type yamlEffectParam struct {
	Name             string `yaml:"name"`
	SlotIndex        int    `yaml:"slot_index"`
	Min              int    `yaml:"min"`
	Max              int    `yaml:"max"`
	RibbonAssignable bool   `yaml:"ribbon_assignable"`
}

type yamlEffect struct {
	ID     int               `yaml:"id"`
	Name   string            `yaml:"name"`
	Params []yamlEffectParam `yaml:"params"`
}

// Load decodes the embedded YAML catalogs into a Registry, validating the
// effect-type invariants from spec §4.2 (18 types, ids 0..17 in order,
// unique contiguous-from-0 slot_index per type, no slot_index of 31).
func Load() (*Registry, error) {
	paramBytes, err := dataFS.ReadFile("data/parameters.yaml")
	if err != nil {
		return nil, err
	}
	var yparams []yamlParam
	if err := yaml.Unmarshal(paramBytes, &yparams); err != nil {
		return nil, fmt.Errorf("registry: decoding parameters.yaml: %w", err)
	}

	effectBytes, err := dataFS.ReadFile("data/effects.yaml")
	if err != nil {
		return nil, err
	}
	var yeffects []yamlEffect
	if err := yaml.Unmarshal(effectBytes, &yeffects); err != nil {
		return nil, fmt.Errorf("registry: decoding effects.yaml: %w", err)
	}

	r := &Registry{byName: make(map[string]int, len(yparams))}
	for _, yp := range yparams {
		def := ParamDef{
			Name:              yp.Name,
			Description:       yp.Description,
			EffectDescription: yp.EffectDescription,
			Min:               yp.Min,
			Max:               yp.Max,
		}
		switch {
		case yp.NRPN != nil:
			def.Kind = AddressNRPN
			def.NRPN = NRPNAddress{MSB: byte(yp.NRPN.MSB), LSB: byte(yp.NRPN.LSB)}
		case yp.CC != nil:
			def.Kind = AddressCC
			def.CC = byte(*yp.CC)
		case yp.SysexOffset != nil:
			def.Kind = AddressSysexOffset
			def.SysexOffset = *yp.SysexOffset
		default:
			return nil, fmt.Errorf("registry: parameter %q has no MIDI address", yp.Name)
		}
		r.byName[def.Name] = len(r.params)
		r.params = append(r.params, def)
	}

	if len(yeffects) != 18 {
		return nil, fmt.Errorf("registry: expected 18 effect types, got %d", len(yeffects))
	}
	for i, ye := range yeffects {
		if ye.ID != i {
			return nil, fmt.Errorf("registry: effect types must be ordered 0..17, got id %d at index %d", ye.ID, i)
		}
		et := EffectType{ID: ye.ID, Name: ye.Name}
		seen := make(map[int]bool, len(ye.Params))
		maxSlot := -1
		for _, yp := range ye.Params {
			if yp.SlotIndex == 31 {
				return nil, fmt.Errorf("registry: effect %q declares reserved slot_index 31", ye.Name)
			}
			if seen[yp.SlotIndex] {
				return nil, fmt.Errorf("registry: effect %q has duplicate slot_index %d", ye.Name, yp.SlotIndex)
			}
			seen[yp.SlotIndex] = true
			if yp.SlotIndex > maxSlot {
				maxSlot = yp.SlotIndex
			}
			et.Params = append(et.Params, EffectParamDef{
				Name:             yp.Name,
				SlotIndex:        yp.SlotIndex,
				Min:              yp.Min,
				Max:              yp.Max,
				RibbonAssignable: yp.RibbonAssignable,
			})
		}
		if ye.ID == 0 && len(et.Params) != 0 {
			return nil, errors.New("registry: effect type 0 (off) must have no parameters")
		}
		if len(et.Params) > 0 {
			for s := 0; s <= maxSlot; s++ {
				if !seen[s] {
					return nil, fmt.Errorf("registry: effect %q slot_index values are not contiguous from 0 (missing %d)", ye.Name, s)
				}
			}
			if maxSlot > 22 {
				return nil, fmt.Errorf("registry: effect %q slot_index %d exceeds maximum 22", ye.Name, maxSlot)
			}
		}
		r.effects[i] = et
	}

	return r, nil
}

// Get performs an O(1) lookup of a named parameter.
func (r *Registry) Get(name string) (ParamDef, bool) {
	i, ok := r.byName[name]
	if !ok {
		return ParamDef{}, false
	}
	return r.params[i], true
}

// ListAll returns every parameter in stable (insertion) order.
func (r *Registry) ListAll() []ParamDef {
	out := make([]ParamDef, len(r.params))
	copy(out, r.params)
	return out
}

// EffectTypes returns all 18 effect-type definitions, ids 0..17 in order.
func (r *Registry) EffectTypes() [18]EffectType {
	return r.effects
}

// EffectType looks up a single effect type by id.
func (r *Registry) EffectType(id int) (EffectType, bool) {
	if id < 0 || id > 17 {
		return EffectType{}, false
	}
	return r.effects[id], true
}

// Package library is the on-disk patch/bank store named as glue in spec
// §6: a plain key→file persistence layer, explicitly out of scope for the
// protocol/session/AI core but implemented here as the concrete consumer
// of the patch-sidecar file format.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lestrrat-go/strftime"
)

// PatchRecord is the JSON sidecar for one stored patch (spec §6).
type PatchRecord struct {
	Name          string `json:"name"`
	ProgramNumber int    `json:"program_number"`
	Category      string `json:"category"`
	Notes         string `json:"notes"`
	Created       string `json:"created"`
	SysexFile     string `json:"sysex_file,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// BankSlot is one assigned program slot in a bank.
type BankSlot struct {
	Slot      int    `json:"slot"`
	PatchFile string `json:"patch_file"`
}

// BankRecord is the JSON document for one bank (spec §6).
type BankRecord struct {
	Name  string     `json:"name"`
	Slots []BankSlot `json:"slots"`
}

var createdFormatter = mustFormatter("%Y-%m-%d")

func mustFormatter(layout string) *strftime.Strftime {
	f, err := strftime.New(layout)
	if err != nil {
		panic(err) // layout is a compile-time constant
	}
	return f
}

// Store is a directory-backed key→file patch/bank library.
type Store struct {
	dir string
}

// NewStore opens (creating if necessary) a library rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// SavePatch writes slug.json and, if payload is non-nil, slug.syx.
func (s *Store) SavePatch(slug string, rec PatchRecord, payload []byte) error {
	if rec.Created == "" {
		rec.Created = createdFormatter.FormatString(time.Now())
	}

	if payload != nil {
		rec.SysexFile = slug + ".syx"
		if err := os.WriteFile(filepath.Join(s.dir, rec.SysexFile), payload, 0o644); err != nil {
			return err
		}
	}

	return writeJSON(filepath.Join(s.dir, slug+".json"), rec, rec.Extra)
}

// LoadPatch reads slug.json and, if present, slug.syx.
func (s *Store) LoadPatch(slug string) (PatchRecord, []byte, error) {
	var rec PatchRecord
	raw, extra, err := readJSONWithExtra(filepath.Join(s.dir, slug+".json"), &rec)
	if err != nil {
		return PatchRecord{}, nil, err
	}
	_ = raw
	rec.Extra = extra

	if rec.Created == "" {
		rec.Created = createdFormatter.FormatString(time.Now())
	}

	var payload []byte
	if rec.SysexFile != "" {
		payload, err = os.ReadFile(filepath.Join(s.dir, rec.SysexFile))
		if err != nil {
			return rec, nil, err
		}
	}
	return rec, payload, nil
}

// SaveBank writes slug.json for a bank, emitting slots in ascending order
// and omitting unassigned ones.
func (s *Store) SaveBank(slug string, rec BankRecord) error {
	sort.Slice(rec.Slots, func(i, j int) bool { return rec.Slots[i].Slot < rec.Slots[j].Slot })
	return writeJSON(filepath.Join(s.dir, slug+".json"), rec, nil)
}

// LoadBank reads slug.json for a bank. Referenced patch files that don't
// exist are returned as warnings, not errors.
func (s *Store) LoadBank(slug string) (BankRecord, []string, error) {
	var rec BankRecord
	if _, _, err := readJSONWithExtra(filepath.Join(s.dir, slug+".json"), &rec); err != nil {
		return BankRecord{}, nil, err
	}

	var warnings []string
	for _, slot := range rec.Slots {
		if _, err := os.Stat(filepath.Join(s.dir, slot.PatchFile+".json")); err != nil {
			warnings = append(warnings, fmt.Sprintf("bank %s: slot %d references missing patch %q", slug, slot.Slot, slot.PatchFile))
		}
	}
	return rec, warnings, nil
}

func writeJSON(path string, v any, extra map[string]json.RawMessage) error {
	base, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(extra) == 0 {
		return os.WriteFile(path, append(base, '\n'), 0o644)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

// readJSONWithExtra decodes path into v and returns any top-level fields v
// doesn't recognize as "extra", keyed by JSON field name.
func readJSONWithExtra(path string, v any) (json.RawMessage, map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	known, err := fieldNamesOf(v)
	if err != nil {
		return data, nil, err
	}
	extra := make(map[string]json.RawMessage)
	for k, val := range raw {
		if !known[k] {
			extra[k] = val
		}
	}
	return data, extra, nil
}

// fieldNamesOf returns the set of JSON field names the encoder emits for
// v as currently populated; an omitempty field that is empty in v is not
// included.
func fieldNamesOf(v any) (map[string]bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(m))
	for k := range m {
		known[k] = true
	}
	return known, nil
}

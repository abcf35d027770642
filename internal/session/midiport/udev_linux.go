//go:build linux

package midiport

import (
	"fmt"
	"strings"

	"github.com/jochenvg/go-udev"
)

// USBPaths maps the udev ID_MODEL name of each sound device whose sysfs
// path mentions "midi" to its /dev/snd/midiC*D*... device node.
// session.FindDevice does not consult it; it matches rtmidi port names only.
func USBPaths() (map[string]string, error) {
	u := udev.Udev{}
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("sound"); err != nil {
		return nil, fmt.Errorf("midiport: udev match subsystem: %w", err)
	}
	devices, err := enum.Devices()
	if err != nil {
		return nil, fmt.Errorf("midiport: udev enumerate: %w", err)
	}

	paths := make(map[string]string)
	for _, d := range devices {
		name := d.PropertyValue("ID_MODEL")
		if name == "" || !strings.Contains(d.Syspath(), "midi") {
			continue
		}
		paths[name] = d.Devnode()
	}
	return paths, nil
}

// Package tags holds the fixed table of trace domains and the bitmask used to
// enable them.
package tags

import (
	"errors"
	"fmt"
	"strings"
)

// Mask is a set of enabled trace domains.
type Mask uint32

// Tag bit values
const (
	TagOff  Mask = 0
	TagApps Mask = 1 << 0
	TagLibs Mask = 1 << 1
	TagLock Mask = 1 << 2
	TagTask Mask = 1 << 3
	TagIPC  Mask = 1 << 4

	TagAll = TagApps | TagLibs | TagLock | TagTask | TagIPC
)

// ErrUnknownTag is returned when a tag name is not in the registry
var ErrUnknownTag = errors.New("unknown tag")

// Descriptor describes one named trace domain
type Descriptor struct {
	Name     string `json:"name"`
	LongName string `json:"longName"`
	Bit      Mask   `json:"bit"`
}

// The order of this table is the order tags are listed to users.
var registry = [...]Descriptor{
	{"none", "None", TagOff},
	{"apps", "Applications", TagApps},
	{"libs", "Libraries", TagLibs},
	{"lock", "Lock", TagLock},
	{"task", "TASK", TagTask},
	{"ipc", "IPC", TagIPC},
}

// Lookup finds a descriptor by its short name.
func Lookup(name string) (Descriptor, bool) {
	for _, d := range registry {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// All returns every descriptor in declaration order. The returned slice is a
// copy and may be modified by the caller.
func All() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry[:])
	return out
}

// Has reports whether the descriptor's bit is set in m. The "none" tag is
// never enabled.
func (m Mask) Has(d Descriptor) bool {
	return d.Bit != TagOff && m&d.Bit == d.Bit
}

// Enable returns m with the given bits set.
func (m Mask) Enable(bits Mask) Mask {
	return m | bits
}

// Disable returns m with the given bits cleared.
func (m Mask) Disable(bits Mask) Mask {
	return m &^ bits
}

// Enabled returns the descriptors whose bits are set in m, in registry order.
func (m Mask) Enabled() []Descriptor {
	var out []Descriptor
	for _, d := range registry {
		if m.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (m Mask) String() string {
	enabled := m.Enabled()
	if len(enabled) == 0 {
		return "none"
	}
	names := make([]string, len(enabled))
	for i, d := range enabled {
		names[i] = d.Name
	}
	return strings.Join(names, ",")
}

// ParseMask converts a comma separated list of tag names into a mask.
// An empty string and "none" both yield TagOff.
func ParseMask(s string) (Mask, error) {
	var m Mask
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		d, ok := Lookup(name)
		if !ok {
			return TagOff, fmt.Errorf("%w: %s", ErrUnknownTag, name)
		}
		m = m.Enable(d.Bit)
	}
	return m, nil
}

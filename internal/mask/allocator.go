package mask

import (
	"slices"
	"strings"
)

// Policy decides how IDs are spread over the ID space.
type Policy uint8

const (
	Sequential Policy = iota
	SpreadEvenly
)

// ParsePolicy maps a config string to a Policy, defaulting to SpreadEvenly.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), "sequential") {
		return Sequential
	}
	return SpreadEvenly
}

func (p Policy) String() string {
	if p == Sequential {
		return "sequential"
	}
	return "spread_evenly"
}

const (
	// StencilSpace is the number of usable values of the 8-bit stencil channel.
	StencilSpace uint32 = 255
	// MaxVertexColorID is the largest ID representable as a 24-bit RGB color.
	MaxVertexColorID uint32 = 0xFFFFFF
)

// Assignment is the result of one allocation: sorted unique names and
// their IDs. ID 0 is never assigned and means "unmasked".
type Assignment struct {
	names     []string
	ids       map[string]uint32
	truncated []string
}

// Allocate sorts names and assigns IDs within space under policy. Names
// past the first space entries (in sorted order) stay unmapped.
func Allocate(names []string, space uint32, policy Policy) *Assignment {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if len(sorted) > 0 && sorted[0] == "" {
		sorted = sorted[1:]
	}

	a := &Assignment{
		names: sorted,
		ids:   make(map[string]uint32, len(sorted)),
	}

	valid := uint32(len(sorted))
	if valid > space {
		a.truncated = sorted[space:]
		valid = space
	}

	for i := uint32(0); i < valid; i++ {
		a.ids[sorted[i]] = idFor(policy, i, valid, space)
	}
	return a
}

func idFor(policy Policy, i, valid, space uint32) uint32 {
	if policy == SpreadEvenly {
		return (space / valid) * (i + 1)
	}
	return min(i+1, space)
}

// Lookup returns the ID of name, or 0 for unknown and empty names.
func (a *Assignment) Lookup(name string) uint32 {
	if a == nil || name == "" {
		return 0
	}
	return a.ids[name]
}

// Names returns the sorted unique names, including truncated ones.
func (a *Assignment) Names() []string {
	if a == nil {
		return nil
	}
	return a.names
}

// Truncated returns the names that did not fit into the ID space.
func (a *Assignment) Truncated() []string {
	if a == nil {
		return nil
	}
	return a.truncated
}

// Len returns the number of mapped names.
func (a *Assignment) Len() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}

// IDs returns a copy of the name to ID map.
func (a *Assignment) IDs() map[string]uint32 {
	out := make(map[string]uint32, a.Len())
	if a == nil {
		return out
	}
	for k, v := range a.ids {
		out[k] = v
	}
	return out
}

// Package persona defines the fixed coordination roster and the status
// state machine every other package agrees on.
package persona

import "sort"

// Key identifies one persona in the closed coordination group.
type Key string

const (
	PM     Key = "pm"
	Impl   Key = "impl"
	Review Key = "review"
	Docs   Key = "docs"
)

// EnvVar names the persona a pane process runs as. The REPL launch
// line exports it; ask uses it to skip mirroring a prompt back into
// the pane that issued it.
const EnvVar = "PERSONAMUX_PERSONA"

var displayNames = map[Key]string{
	PM:     "Project Manager",
	Impl:   "Implementation Engineer",
	Review: "Code Review Engineer",
	Docs:   "Technical Writer / Documentor",
}

// Keys returns every persona key in stable (sorted) order.
func Keys() []Key {
	keys := make([]Key, 0, len(displayNames))
	for key := range displayNames {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// LayoutOrder returns personas in pane-assignment order for the 2x2
// window: pm top-left, impl, review, docs.
func LayoutOrder() []Key {
	return []Key{PM, Impl, Review, Docs}
}

// Valid reports whether key names a known persona.
func Valid(key Key) bool {
	_, ok := displayNames[key]
	return ok
}

// DisplayName returns the human-readable role name, or the key itself
// for unknown values.
func DisplayName(key Key) string {
	if name, ok := displayNames[key]; ok {
		return name
	}
	return string(key)
}

// KeyStrings returns the keys as plain strings, sorted.
func KeyStrings() []string {
	keys := Keys()
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = string(key)
	}
	return out
}

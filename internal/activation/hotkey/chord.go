package hotkey

import (
	"fmt"
	"strings"
)

// Chord is a parsed key combination such as "ctrl+alt+space".
type Chord struct {
	Modifiers []string
	Key       string
}

func (c Chord) String() string {
	return strings.Join(append(append([]string(nil), c.Modifiers...), c.Key), "+")
}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"shift":   "shift",
	"alt":     "alt",
	"option":  "alt",
	"super":   "super",
	"win":     "super",
	"meta":    "super",
	"cmd":     "super",
}

var keyAliases = map[string]string{
	"space":  "space",
	"enter":  "return",
	"return": "return",
	"esc":    "escape",
	"escape": "escape",
	"tab":    "tab",
	"del":    "delete",
	"delete": "delete",
}

// ParseChord accepts modifiers and exactly one key joined by '+'. Letters,
// digits, f1 to f12 and the names in keyAliases are valid keys.
func ParseChord(s string) (Chord, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) < 2 {
		return Chord{}, fmt.Errorf("hotkey %q needs at least one modifier and a key", s)
	}
	var chord Chord
	seen := make(map[string]bool)
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifierAliases[strings.TrimSpace(p)]
		if !ok {
			return Chord{}, fmt.Errorf("hotkey %q: unknown modifier %q", s, p)
		}
		if seen[mod] {
			return Chord{}, fmt.Errorf("hotkey %q: duplicate modifier %q", s, p)
		}
		seen[mod] = true
		chord.Modifiers = append(chord.Modifiers, mod)
	}
	key := strings.TrimSpace(parts[len(parts)-1])
	switch {
	case keyAliases[key] != "":
		chord.Key = keyAliases[key]
	case len(key) == 1 && (key[0] >= 'a' && key[0] <= 'z' || key[0] >= '0' && key[0] <= '9'):
		chord.Key = key
	case isFunctionKey(key):
		chord.Key = key
	default:
		return Chord{}, fmt.Errorf("hotkey %q: unsupported key %q", s, key)
	}
	return chord, nil
}

func isFunctionKey(key string) bool {
	var n int
	if _, err := fmt.Sscanf(key, "f%d", &n); err != nil {
		return false
	}
	return key == fmt.Sprintf("f%d", n) && n >= 1 && n <= 12
}

// Package edit computes the keystroke edits that move emitted text to a new
// transcript. Counts are in grapheme clusters, so one Delete unit is one
// backspace in the target application.
package edit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
)

// ErrPlanMismatch is returned when a plan does not fit the text it is applied to.
var ErrPlanMismatch = errors.New("edit plan does not match text")

// Op keeps Retain clusters, removes the next Delete clusters, then types Insert.
type Op struct {
	Retain int    `json:"retain"`
	Delete int    `json:"delete"`
	Insert string `json:"insert,omitempty"`
}

// Plan is an ordered list of ops. Retain and Delete walk the source text;
// inserted text is not counted by later ops.
type Plan struct {
	Ops []Op `json:"ops"`
}

// Compute returns the plan that turns prev into next by keeping their longest
// common grapheme prefix, deleting the rest of prev and inserting the rest of next.
func Compute(prev, next string) Plan {
	a, b := clusters(prev), clusters(next)
	k, prefixBytes := 0, 0
	for k < len(a) && k < len(b) && a[k] == b[k] {
		prefixBytes += len(a[k])
		k++
	}
	return Plan{Ops: []Op{{
		Retain: k,
		Delete: len(a) - k,
		Insert: next[prefixBytes:],
	}}}
}

// Apply executes the plan against s.
func (p Plan) Apply(s string) (string, error) {
	cs := clusters(s)
	var b strings.Builder
	pos := 0
	for i, op := range p.Ops {
		if op.Retain < 0 || op.Delete < 0 {
			return "", fmt.Errorf("%w: op %d has negative counts", ErrPlanMismatch, i)
		}
		if pos+op.Retain+op.Delete > len(cs) {
			return "", fmt.Errorf("%w: op %d reaches cluster %d of %d", ErrPlanMismatch, i, pos+op.Retain+op.Delete, len(cs))
		}
		for _, c := range cs[pos : pos+op.Retain] {
			b.WriteString(c)
		}
		pos += op.Retain + op.Delete
		b.WriteString(op.Insert)
	}
	for _, c := range cs[pos:] {
		b.WriteString(c)
	}
	return b.String(), nil
}

// IsNoop reports whether applying the plan changes nothing.
func (p Plan) IsNoop() bool {
	for _, op := range p.Ops {
		if op.Delete > 0 || op.Insert != "" {
			return false
		}
	}
	return true
}

// Deleted is the total number of clusters removed.
func (p Plan) Deleted() int {
	n := 0
	for _, op := range p.Ops {
		n += op.Delete
	}
	return n
}

// Inserted is the concatenated inserted text.
func (p Plan) Inserted() string {
	var b strings.Builder
	for _, op := range p.Ops {
		b.WriteString(op.Insert)
	}
	return b.String()
}

func (p Plan) String() string {
	parts := make([]string, 0, len(p.Ops))
	for _, op := range p.Ops {
		parts = append(parts, fmt.Sprintf("retain=%d delete=%d insert=%q", op.Retain, op.Delete, op.Insert))
	}
	return strings.Join(parts, "; ")
}

// Len counts grapheme clusters.
func Len(s string) int {
	return len(clusters(s))
}

// TrimEnd drops the last n grapheme clusters of s.
func TrimEnd(s string, n int) string {
	if n <= 0 {
		return s
	}
	cs := clusters(s)
	if n >= len(cs) {
		return ""
	}
	return strings.Join(cs[:len(cs)-n], "")
}

func clusters(s string) []string {
	var out []string
	state := -1
	for len(s) > 0 {
		var c string
		c, s, _, state = uniseg.FirstGraphemeClusterInString(s, state)
		out = append(out, c)
	}
	return out
}

package edit

import (
	"errors"
	"testing"
	"testing/quick"
)

func TestComputeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		prev string
		next string
		want Op
	}{
		{"empty to text", "", "hello wor", Op{Retain: 0, Delete: 0, Insert: "hello wor"}},
		{"extend", "hello wor", "hello world", Op{Retain: 9, Delete: 0, Insert: "ld"}},
		{"punctuate", "hello world", "hello world.", Op{Retain: 11, Delete: 0, Insert: "."}},
		{"mid-word correction", "their going", "they're going", Op{Retain: 3, Delete: 8, Insert: "y're going"}},
		{"retract all", "speculative", "", Op{Retain: 0, Delete: 11, Insert: ""}},
		{"shrink", "testing one", "testing", Op{Retain: 7, Delete: 4, Insert: ""}},
		{"combining accent", "cafe", "café", Op{Retain: 3, Delete: 1, Insert: "é"}},
		{"emoji family", "hi 👨‍👩‍👧", "hi 👍", Op{Retain: 3, Delete: 1, Insert: "👍"}},
		{"flags", "🇺🇸🇬🇧", "🇺🇸🇫🇷", Op{Retain: 1, Delete: 1, Insert: "🇫🇷"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Compute(tc.prev, tc.next)
			if len(plan.Ops) != 1 || plan.Ops[0] != tc.want {
				t.Fatalf("expected %+v, got %s", tc.want, plan)
			}
			got, err := plan.Apply(tc.prev)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if got != tc.next {
				t.Fatalf("round trip produced %q, want %q", got, tc.next)
			}
		})
	}
}

func TestComputeIdempotent(t *testing.T) {
	for _, s := range []string{"", "a", "hello world.", "naïve 👋🏽"} {
		plan := Compute(s, s)
		if !plan.IsNoop() {
			t.Fatalf("plan(%q,%q) should be a no-op, got %s", s, s, plan)
		}
		if plan.Deleted() != 0 || plan.Inserted() != "" {
			t.Fatalf("no-op plan must not delete or insert")
		}
	}
}

func TestEmptyNextStillEmitted(t *testing.T) {
	plan := Compute("abc", "")
	if plan.IsNoop() {
		t.Fatalf("retracting text must not be a no-op")
	}
	if plan.Deleted() != 3 {
		t.Fatalf("expected 3 deletions, got %d", plan.Deleted())
	}
}

func TestRoundTripQuick(t *testing.T) {
	prop := func(a, b string) bool {
		got, err := Compute(a, b).Apply(a)
		return err == nil && got == b
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatalf("round trip property failed: %v", err)
	}
}

func TestApplyRejectsMismatch(t *testing.T) {
	plan := Compute("hello", "help")
	if _, err := plan.Apply("he"); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("expected ErrPlanMismatch, got %v", err)
	}
	bad := Plan{Ops: []Op{{Retain: -1}}}
	if _, err := bad.Apply("x"); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("expected ErrPlanMismatch for negative counts, got %v", err)
	}
}

func TestApplyMultipleOps(t *testing.T) {
	plan := Plan{Ops: []Op{
		{Retain: 1, Delete: 1, Insert: "E"},
		{Retain: 2, Delete: 1, Insert: "0"},
	}}
	got, err := plan.Apply("hello")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "hEll0" {
		t.Fatalf("expected hEll0, got %q", got)
	}
}

func TestLen(t *testing.T) {
	if n := Len("é👨‍👩‍👧x"); n != 3 {
		t.Fatalf("expected 3 clusters, got %d", n)
	}
}

func FuzzComputeRoundTrip(f *testing.F) {
	f.Add("hello wor", "hello world.")
	f.Add("", "")
	f.Add("🇺🇸🇬🇧", "🇺🇸")
	f.Add("\xff\xfe", "á")
	f.Fuzz(func(t *testing.T, a, b string) {
		got, err := Compute(a, b).Apply(a)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if got != b {
			t.Fatalf("round trip %q -> %q produced %q", a, b, got)
		}
	})
}

func TestTrimEnd(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"their", 2, "the"},
		{"naïve", 3, "na"},
		{"ab", 5, ""},
		{"ab", 0, "ab"},
	}
	for _, tc := range cases {
		if got := TrimEnd(tc.in, tc.n); got != tc.want {
			t.Fatalf("TrimEnd(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

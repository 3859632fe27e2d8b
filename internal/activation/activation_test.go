package activation

import (
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, src Source) []Kind {
	t.Helper()
	var kinds []Kind
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-src.Events():
			if !ok {
				return kinds
			}
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("source did not close, got %v", kinds)
		}
	}
}

func TestManualEmitsInOrder(t *testing.T) {
	m := NewManual(4)
	if !m.Press() || !m.Release() {
		t.Fatalf("emit failed on open source")
	}
	_ = m.Close()
	if m.Press() {
		t.Fatalf("press after close must report false")
	}
	got := collect(t, m)
	if len(got) != 2 || got[0] != Press || got[1] != Release {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestManualCloseUnblocksFullBuffer(t *testing.T) {
	m := NewManual(1)
	if !m.Press() {
		t.Fatalf("first press should fit the buffer")
	}
	blocked := make(chan bool, 1)
	go func() { blocked <- m.Release() }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close deadlocked behind a blocked emit")
	}
	select {
	case ok := <-blocked:
		if ok {
			t.Fatal("emit unblocked by close must report false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked emit never returned")
	}
}

func TestToggleAlternatesAndReleasesOnEOF(t *testing.T) {
	src := NewToggle(strings.NewReader("\n\n\n"))
	got := collect(t, src)
	want := []Kind{Press, Release, Press, Release}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestToggleQuit(t *testing.T) {
	src := NewToggle(strings.NewReader("\nq\n\n"))
	got := collect(t, src)
	if len(got) != 2 || got[0] != Press || got[1] != Release {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestKindString(t *testing.T) {
	if Press.String() != "press" || Release.String() != "release" || Kind(0).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
}

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/actuator"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeToneWAV(t *testing.T, seconds int) string {
	t.Helper()
	format := audio.Format{SampleRate: 16000, Channels: 1}
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	pcm := audio.Encode(audio.Tone(format, seconds*1000, 440, 0.3))
	if err := audio.WriteWAV(f, pcm, format.SampleRate, format.Channels); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestReplayTypesMockTranscript(t *testing.T) {
	cfg := config.Default()
	cfg.Segmenter.ChunkDurationMS = 500
	var out bytes.Buffer

	res, err := Replay(context.Background(), cfg, ReplayOptions{Path: writeToneWAV(t, 2), Out: &out}, testLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Outcome != session.OutcomeCommitted {
		t.Fatalf("unexpected outcome %s (%s)", res.Outcome, res.Reason)
	}
	if res.Emitted != "the quick brown fox." || !res.Transcript.Final {
		t.Fatalf("unexpected transcript %+v emitted %q", res.Transcript, res.Emitted)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if lines[len(lines)-1] != "the quick brown fox." {
		t.Fatalf("echo should end with the final text, got %q", out.String())
	}
	if res.Audio.Chunks != 4 || res.Audio.SpeechChunks != 4 {
		t.Fatalf("unexpected audio stats %+v", res.Audio)
	}
}

func TestReplayMissingFile(t *testing.T) {
	_, err := Replay(context.Background(), config.Default(), ReplayOptions{Path: filepath.Join(t.TempDir(), "none.wav")}, testLogger())
	if err == nil {
		t.Fatal("expected error for missing wav")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type httpFixture struct {
	server *httptest.Server
	src    *audio.ChannelSource
	act    *actuator.Recorder
	ctrl   *session.Controller
	store  *eventstore.Store
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Segmenter.ChunkDurationMS = 100
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "dictation.db")

	store, err := eventstore.Open(context.Background(), cfg.EventStore, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &httpFixture{
		src:   audio.NewChannelSource(audio.Format{SampleRate: 16000, Channels: 1}, 16),
		act:   actuator.NewRecorder(nil),
		store: store,
	}
	ctrl, err := session.NewController(context.Background(), session.SettingsFrom(cfg), session.Deps{
		Source:   f.src,
		Engine:   stt.NewEngine(stt.NewScriptedRecognizer(stt.Texts("over http")...), testLogger()),
		Actuator: f.act,
		Sinks:    []session.Sink{store},
	}, testLogger())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	f.ctrl = ctrl

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	f.server = httptest.NewServer(newHandler(ctrl, store, metrics, func() bool { return true }, testLogger()))
	t.Cleanup(f.server.Close)
	return f
}

func (f *httpFixture) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *httpFixture) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPPressReleaseAndHistory(t *testing.T) {
	f := newHTTPFixture(t)

	resp := f.post(t, "/v1/press")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("press status %d", resp.StatusCode)
	}
	var started map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil || started["session_id"] == "" {
		t.Fatalf("press response missing session id: %v", err)
	}
	if resp := f.post(t, "/v1/press"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second press should conflict, got %d", resp.StatusCode)
	}

	var status session.Status
	if code := f.getJSON(t, "/v1/status", &status); code != http.StatusOK || status.SessionID != started["session_id"] {
		t.Fatalf("unexpected status %d %+v", code, status)
	}

	f.src.Push(audio.Tone(f.src.Format(), 100, 440, 0.3))
	time.Sleep(200 * time.Millisecond)
	if resp := f.post(t, "/v1/release"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("release status %d", resp.StatusCode)
	}

	select {
	case res := <-f.ctrl.Results():
		if res.Outcome != session.OutcomeCommitted || f.act.Text() != "over http" {
			t.Fatalf("unexpected result %s text %q", res.Outcome, f.act.Text())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	if resp := f.post(t, "/v1/release"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("release without session should conflict, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	var sessions []eventstore.Session
	for {
		sessions = nil
		f.getJSON(t, "/v1/sessions?limit=5", &sessions)
		if len(sessions) == 1 && sessions[0].Outcome != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session history not recorded: %+v", sessions)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sessions[0].ID != started["session_id"] || sessions[0].Outcome != string(session.OutcomeCommitted) {
		t.Fatalf("unexpected history %+v", sessions[0])
	}

	var detail sessionDetail
	if code := f.getJSON(t, "/v1/sessions/"+started["session_id"], &detail); code != http.StatusOK {
		t.Fatalf("session detail status %d", code)
	}
	if len(detail.Events) < 3 || detail.Text != "over http" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if code := f.getJSON(t, "/v1/sessions/unknown", nil); code != http.StatusNotFound {
		t.Fatalf("unknown session should 404, got %d", code)
	}
	if code := f.getJSON(t, "/v1/sessions?limit=zero", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit should 400, got %d", code)
	}
}

func TestHTTPHealthAndMetrics(t *testing.T) {
	f := newHTTPFixture(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(f.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
	}
}

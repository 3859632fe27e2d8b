package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

type controller interface {
	Press() (string, error)
	Release() error
	Status() session.Status
}

type api struct {
	ctrl   controller
	store  *eventstore.Store
	ready  func() bool
	logger *slog.Logger
}

// newHandler serves health, metrics, status, history and press/release
// control. store and metrics may be nil.
func newHandler(ctrl controller, store *eventstore.Store, metrics http.Handler, ready func() bool, logger *slog.Logger) http.Handler {
	a := &api{ctrl: ctrl, store: store, ready: ready, logger: logger.With(slog.String("component", "http"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /v1/status", a.handleStatus)
	mux.HandleFunc("POST /v1/press", a.handlePress)
	mux.HandleFunc("POST /v1/release", a.handleRelease)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleSession)
	return mux
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *api) handlePress(w http.ResponseWriter, _ *http.Request) {
	id, err := a.ctrl.Press()
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
	case errors.Is(err, session.ErrSessionActive):
		a.writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrClosed):
		a.writeError(w, http.StatusServiceUnavailable, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *api) handleRelease(w http.ResponseWriter, _ *http.Request) {
	if err := a.ctrl.Release(); err != nil {
		a.writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) handleSessions(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		a.writeJSON(w, http.StatusOK, []eventstore.Session{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	sessions, err := a.store.ListSessions(r.Context(), limit)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	a.writeJSON(w, http.StatusOK, sessions)
}

type sessionDetail struct {
	eventstore.Session
	Events []protocol.Event `json:"events"`
}

func (a *api) handleSession(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		a.writeError(w, http.StatusNotFound, eventstore.ErrNotFound)
		return
	}
	id := r.PathValue("id")
	sess, err := a.store.GetSession(r.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	stored, err := a.store.ListSessionEvents(r.Context(), id, 1000)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	detail := sessionDetail{Session: sess, Events: make([]protocol.Event, 0, len(stored))}
	for _, e := range stored {
		ev, err := e.Decode()
		if err != nil {
			a.logger.Warn("skipping undecodable event", slog.Int64("id", e.ID), slog.String("error", err.Error()))
			continue
		}
		detail.Events = append(detail.Events, ev)
	}
	a.writeJSON(w, http.StatusOK, detail)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classcast/go/internal/broadcast"
	"github.com/mcdev12/classcast/go/internal/protocol"
	"github.com/mcdev12/classcast/go/internal/session"
	"github.com/mcdev12/classcast/go/internal/student"
)

// Device is what the HTTP API drives.
type Device interface {
	Snapshot() student.Snapshot
	SubmitName(ctx context.Context, name string) error
	SelectAnswer(ctx context.Context, answer protocol.Answer) error
}

// actionTimeout bounds how long an HTTP request waits on the device loop.
const actionTimeout = 5 * time.Second

// Handler serves the UI API for one device.
type Handler struct {
	device Device
	hub    *Hub
}

func NewHandler(device Device, hub *Hub) *Handler {
	return &Handler{device: device, hub: hub}
}

// NewRouter wires the UI routes.
func NewRouter(device Device, hub *Hub) http.Handler {
	h := NewHandler(device, hub)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/ws", h.handleWebSocket)
	r.Route("/api", h.RegisterRoutes)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// RegisterRoutes registers the JSON API under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Post("/name", h.handleName)
	r.Post("/answer", h.handleAnswer)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.device.Snapshot())
}

func (h *Handler) handleName(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()
	h.finishAction(w, h.device.SubmitName(ctx, payload.Name))
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	answer, ok := protocol.ParseAnswer(payload.Answer)
	if !ok || !answer.IsChoice() {
		respondError(w, http.StatusBadRequest, "answer must be one of A, B, C, D")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()
	h.finishAction(w, h.device.SelectAnswer(ctx, answer))
}

func (h *Handler) finishAction(w http.ResponseWriter, err error) {
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	snap := h.device.Snapshot()
	if h.hub != nil {
		h.hub.Broadcast(StateEvent(snap))
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	// On failure the upgrader has already replied to the client.
	if err := h.hub.Upgrade(w, r, StateEvent(h.device.Snapshot())); err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidName), errors.Is(err, session.ErrInvalidAnswer),
		errors.Is(err, broadcast.ErrPayloadTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrWrongPhase), errors.Is(err, session.ErrNotRegistered):
		return http.StatusConflict
	case errors.Is(err, broadcast.ErrRadioUnavailable), errors.Is(err, student.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write json response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

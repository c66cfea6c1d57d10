package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/geowarp/geowarp/internal/core"
	"github.com/geowarp/geowarp/internal/engine"
)

type handlers struct {
	svc    *engine.Service
	logger *zap.Logger
}

type resolveResponse struct {
	RequestID string               `json:"request_id"`
	Place     *core.ResolvedPlace  `json:"place"`
	World     core.WorldCoordinate `json:"world"`
}

type cooldownResponse struct {
	Actor         string `json:"actor"`
	CanTeleport   bool   `json:"can_teleport"`
	RemainingDays int    `json:"remaining_days"`
	LastPlace     string `json:"last_place,omitempty"`
	LastDay       string `json:"last_day,omitempty"`
}

type teleportRequest struct {
	Actor string `json:"actor"`
	Place string `json:"place"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolve answers GET /v1/resolve?q=<name>&actor=<id>. The actor is
// optional; when present the search rate check applies.
func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	actor := r.URL.Query().Get("actor")

	if actor != "" {
		if err := h.svc.RateCheck(actor, core.OpSearch); err != nil {
			h.writeError(w, err)
			return
		}
	}

	place, err := h.svc.Resolve(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		RequestID: uuid.New().String(),
		Place:     place,
		World:     h.svc.WorldCoordinate(place),
	})
}

func (h *handlers) cooldown(w http.ResponseWriter, r *http.Request) {
	actor := chi.URLParam(r, "actor")

	place := r.URL.Query().Get("place")
	remaining, err := h.svc.RemainingCooldownDays(r.Context(), actor, place)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := cooldownResponse{
		Actor:         actor,
		CanTeleport:   remaining == 0,
		RemainingDays: remaining,
	}

	if last, err := h.svc.LastTeleport(r.Context(), actor); err == nil && last != nil {
		resp.LastPlace = last.Place
		resp.LastDay = last.Day.Format("2006-01-02")
	}

	writeJSON(w, http.StatusOK, resp)
}

// teleport runs the full teleport flow: rate check, cooldown check,
// resolve, record.
func (h *handlers) teleport(w http.ResponseWriter, r *http.Request) {
	var req teleportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, core.InvalidInput("malformed request body"))
		return
	}

	if err := h.svc.RateCheck(req.Actor, core.OpTeleport); err != nil {
		h.writeError(w, err)
		return
	}

	place, err := h.svc.Resolve(r.Context(), req.Place)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Cooldown check and record both key on the resolved name, so query
	// aliases of one place share a single cooldown.
	ok, err := h.svc.CanTeleport(r.Context(), req.Actor, place.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		remaining, _ := h.svc.RemainingCooldownDays(r.Context(), req.Actor, place.Name)
		h.writeError(w, core.RateLimited("teleport cooldown active",
			time.Duration(remaining)*24*time.Hour))
		return
	}

	if err := h.svc.RecordTeleport(r.Context(), req.Actor, place.Name); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		RequestID: uuid.New().String(),
		Place:     place,
		World:     h.svc.WorldCoordinate(place),
	})
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)

	resp := errorResponse{Error: err.Error(), Kind: string(kind)}

	var failure *core.Failure
	if errors.As(err, &failure) && failure.RetryAfter > 0 {
		seconds := int(failure.RetryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		resp.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	writeJSON(w, statusFor(kind), resp)
}

func statusFor(kind core.FailureKind) int {
	switch kind {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindUpstreamDenied:
		return http.StatusBadGateway
	case core.KindMalformedResponse:
		return http.StatusBadGateway
	case core.KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

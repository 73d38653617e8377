package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"delayboard/internal/delays"
	"delayboard/internal/domain"
)

type Board interface {
	Resolve(ctx context.Context, sel domain.TripSelection) (delays.Resolution, error)
	StopView(ctx context.Context, sel domain.TripSelection, rng domain.StopRange) (*delays.TripView, error)
	TripStops(ctx context.Context, tripID string, rng domain.StopRange) (*delays.TripView, error)
	Freshness(ctx context.Context) (delays.Freshness, error)
}

type Catalog interface {
	Routes(ctx context.Context) ([]string, error)
	Directions(ctx context.Context, route string) ([]string, error)
	Stops(ctx context.Context, route, headsign string) ([]string, error)
	DepartureTimes(ctx context.Context, route, headsign, stop string) ([]string, error)
}

type HTTPHandler struct {
	board   Board
	catalog Catalog
	logger  *slog.Logger
}

func NewHTTPHandler(board Board, catalog Catalog, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		board:   board,
		catalog: catalog,
		logger:  logger.With("component", "http"),
	}
}

type OptionsResponse struct {
	Options []string `json:"options"`
	Count   int      `json:"count"`
}

func (h *HTTPHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	h.respondOptions(w, r, "routes", func() ([]string, error) {
		return h.catalog.Routes(r.Context())
	})
}

func (h *HTTPHandler) ListDirections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.respondOptions(w, r, "directions", func() ([]string, error) {
		return h.catalog.Directions(r.Context(), q.Get("route"))
	})
}

func (h *HTTPHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.respondOptions(w, r, "stops", func() ([]string, error) {
		return h.catalog.Stops(r.Context(), q.Get("route"), q.Get("direction"))
	})
}

func (h *HTTPHandler) ListDepartures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.respondOptions(w, r, "departures", func() ([]string, error) {
		return h.catalog.DepartureTimes(r.Context(), q.Get("route"), q.Get("direction"), q.Get("stop"))
	})
}

func (h *HTTPHandler) respondOptions(w http.ResponseWriter, r *http.Request, what string, list func() ([]string, error)) {
	options, err := list()
	if err != nil {
		h.respondFailure(w, r, "list "+what, err)
		return
	}
	respondJSON(w, http.StatusOK, OptionsResponse{Options: options, Count: len(options)})
}

type ResolveResponse struct {
	TripIDs   []string `json:"trip_ids"`
	TripID    string   `json:"trip_id,omitempty"`
	Ambiguous bool     `json:"ambiguous"`
}

func (h *HTTPHandler) ResolveTrip(w http.ResponseWriter, r *http.Request) {
	sel := selectionFromQuery(r)
	if !sel.Complete() {
		respondJSON(w, http.StatusOK, ResolveResponse{TripIDs: []string{}})
		return
	}

	res, err := h.board.Resolve(r.Context(), sel)
	if err != nil {
		h.respondFailure(w, r, "resolve trip", err)
		return
	}
	ids := res.TripIDs
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, ResolveResponse{
		TripIDs:   ids,
		TripID:    res.TripID,
		Ambiguous: res.Ambiguous(),
	})
}

func (h *HTTPHandler) GetView(w http.ResponseWriter, r *http.Request) {
	view, err := h.board.StopView(r.Context(), selectionFromQuery(r), rangeFromQuery(r))
	if err != nil {
		h.respondFailure(w, r, "build view", err)
		return
	}
	respondView(w, r, view)
}

func (h *HTTPHandler) GetTripStops(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripID")
	if tripID == "" {
		respondError(w, http.StatusBadRequest, "missing trip id")
		return
	}

	view, err := h.board.TripStops(r.Context(), tripID, rangeFromQuery(r))
	if err != nil {
		h.respondFailure(w, r, "build trip stops", err)
		return
	}
	respondView(w, r, view)
}

type FreshnessResponse struct {
	delays.Freshness
	ServerTime time.Time `json:"server_time"`
}

func (h *HTTPHandler) GetFreshness(w http.ResponseWriter, r *http.Request) {
	f, err := h.board.Freshness(r.Context())
	if err != nil {
		h.respondFailure(w, r, "freshness", err)
		return
	}
	respondJSON(w, http.StatusOK, FreshnessResponse{Freshness: f, ServerTime: time.Now().UTC()})
}

func selectionFromQuery(r *http.Request) domain.TripSelection {
	q := r.URL.Query()
	return domain.TripSelection{
		RouteShortName:         q.Get("route"),
		TripHeadsign:           q.Get("direction"),
		DepartureStop:          q.Get("stop"),
		ScheduledDepartureTime: q.Get("departure"),
	}
}

func rangeFromQuery(r *http.Request) domain.StopRange {
	q := r.URL.Query()
	return domain.StopRange{From: q.Get("from"), To: q.Get("to")}
}

// respondView writes view with an ETag over its displayed content.
func respondView(w http.ResponseWriter, r *http.Request, view *delays.TripView) {
	etag := `"` + view.Fingerprint()[:16] + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// respondFailure maps core and backend errors to HTTP statuses.
func (h *HTTPHandler) respondFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, delays.ErrStopNotInSeries) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	respondError(w, http.StatusBadGateway, "data source unavailable")
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

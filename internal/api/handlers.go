// Package api exposes HTTP handlers for the walk service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/walks/internal/auth"
	"example.com/walks/internal/domain"
	"example.com/walks/internal/repository"
	"example.com/walks/internal/tracker"
)

// Handler coordinates HTTP requests with the live trackers and the sync
// engine.
type Handler struct {
	registry *tracker.Registry
	store    *repository.Engine
}

// NewHandler builds a Handler.
func NewHandler(registry *tracker.Registry, store *repository.Engine) *Handler {
	return &Handler{registry: registry, store: store}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/walks", h.walks)
	mux.HandleFunc("/v1/walks/start", h.start)
	mux.HandleFunc("/v1/walks/pause", h.pause)
	mux.HandleFunc("/v1/walks/resume", h.resume)
	mux.HandleFunc("/v1/walks/complete", h.complete)
	mux.HandleFunc("/v1/walks/cancel", h.cancel)
	mux.HandleFunc("/v1/walks/current", h.current)
	mux.HandleFunc("/v1/walks/current/samples", h.addSample)
	mux.HandleFunc("/v1/walks/current/steps", h.addSteps)
	mux.HandleFunc("/v1/walks/", h.walkByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) walks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksRead, auth.ScopeWalksWrite) {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	cursor, err := repository.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	walks, err := h.store.FetchAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	page, next := repository.Page(walks, cursor, limit)

	items := make([]WalkView, 0, len(page))
	for _, walk := range page {
		items = append(items, toWalkView(walk))
	}
	writeJSON(w, http.StatusOK, ListWalksResponse{
		Items:      items,
		NextCursor: repository.EncodeCursor(next),
	})
}

func (h *Handler) walkByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/walks/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing walk id")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/thumbnail"); ok {
		h.attachThumbnail(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getWalk(w, r, rest)
	case http.MethodDelete:
		h.deleteWalk(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	var req StartWalkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	walk, err := h.registry.Start(r.Context(), req.Title, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalkView(walk))
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Pause)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Resume)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.registry.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	if err := op(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	walk, err := h.registry.Complete(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalkView(walk))
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksRead, auth.ScopeWalksWrite) {
		return
	}

	tr, _, err := h.registry.ForCurrentUser(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, ok := tr.Snapshot()
	if !ok {
		writeDomainError(w, domain.ErrNoActiveWalk)
		return
	}

	resp := CurrentWalkResponse{
		Walk:           toWalkView(snap),
		ElapsedSeconds: tr.Elapsed().Seconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	var req SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Timestamp.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "ts is required")
		return
	}

	tr, _, err := h.registry.ForCurrentUser(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	accepted, err := tr.AddSample(r.Context(), domain.Sample{
		Lat:       req.Lat,
		Lon:       req.Lon,
		AccuracyM: req.AccuracyM,
		SpeedMPS:  req.SpeedMPS,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SampleResponse{Accepted: accepted})
}

func (h *Handler) addSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Raw < 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "raw must be >= 0")
		return
	}

	tr, _, err := h.registry.ForCurrentUser(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	steps, err := tr.OnStepReading(req.Raw)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StepResponse{Steps: steps})
}

func (h *Handler) getWalk(w http.ResponseWriter, r *http.Request, id string) {
	if !requireScope(w, r, auth.ScopeWalksRead, auth.ScopeWalksWrite) {
		return
	}

	walk, err := h.store.FetchOne(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalkView(*walk))
}

func (h *Handler) deleteWalk(w http.ResponseWriter, r *http.Request, id string) {
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) attachThumbnail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeWalksWrite) {
		return
	}

	var req AttachThumbnailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.ThumbnailRef) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "thumbnail_ref is required")
		return
	}

	walk, err := h.store.FetchOne(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := walk.AttachThumbnail(req.ThumbnailRef); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.Save(r.Context(), *walk); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalkView(*walk))
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return false
}

// StartWalkRequest is the payload for POST /v1/walks/start. Both fields are
// optional; a missing title gets a date-based default.
type StartWalkRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SampleRequest is the payload for POST /v1/walks/current/samples.
type SampleRequest struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy"`
	SpeedMPS  float64   `json:"speed"`
	Timestamp time.Time `json:"ts"`
}

// SampleResponse reports whether the sample was folded into the route.
type SampleResponse struct {
	Accepted bool `json:"accepted"`
}

// StepRequest carries one cumulative step-counter reading.
type StepRequest struct {
	Raw int64     `json:"raw"`
	At  time.Time `json:"at"`
}

// StepResponse reports the session step delta after the reading.
type StepResponse struct {
	Steps int64 `json:"steps"`
}

// AttachThumbnailRequest is the payload for POST /v1/walks/{id}/thumbnail.
type AttachThumbnailRequest struct {
	ThumbnailRef string `json:"thumbnail_ref"`
}

// WalkView exposes full details about a walk.
type WalkView struct {
	WalkID              string          `json:"walk_id"`
	OwnerID             string          `json:"owner_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Status              string          `json:"status"`
	StartedAt           time.Time       `json:"started_at"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
	Route               []domain.Sample `json:"route"`
	TotalDistanceMeters float64         `json:"total_distance_m"`
	TotalSteps          int64           `json:"total_steps"`
	ThumbnailRef        string          `json:"thumbnail_ref,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CurrentWalkResponse pairs the live snapshot with its elapsed time.
type CurrentWalkResponse struct {
	Walk           WalkView `json:"walk"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
}

// ListWalksResponse packages list results, newest first.
type ListWalksResponse struct {
	Items      []WalkView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func toWalkView(walk domain.Walk) WalkView {
	route := walk.Route
	if route == nil {
		route = []domain.Sample{}
	}
	return WalkView{
		WalkID:              walk.ID,
		OwnerID:             walk.OwnerID,
		Title:               walk.Title,
		Description:         walk.Description,
		Status:              string(walk.Status),
		StartedAt:           walk.StartedAt,
		EndedAt:             walk.EndedAt,
		Route:               route,
		TotalDistanceMeters: walk.TotalDistanceMeters,
		TotalSteps:          walk.TotalSteps,
		ThumbnailRef:        walk.ThumbnailRef,
		CreatedAt:           walk.CreatedAt,
		UpdatedAt:           walk.UpdatedAt,
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindUnauthenticated:
		status = http.StatusUnauthorized
	case domain.KindUnauthorized:
		status = http.StatusForbidden
	case domain.KindInvalidState:
		status = http.StatusConflict
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindInvalidData:
		status = http.StatusUnprocessableEntity
	case domain.KindNetwork:
		status = http.StatusBadGateway
	}

	detail := err.Error()
	var typed *domain.Error
	if errors.As(err, &typed) {
		detail = typed.Msg
	}
	writeError(w, status, string(kind), detail)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

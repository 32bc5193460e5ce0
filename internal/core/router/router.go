// Package router maps the HTTP API onto the execution service.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/geosandbox/internal/bridge"
	"github.com/mohammed-shakir/geosandbox/internal/core/executor"
	"github.com/mohammed-shakir/geosandbox/internal/core/model"
	"github.com/mohammed-shakir/geosandbox/internal/layerstore"
	"github.com/mohammed-shakir/geosandbox/internal/sessions"
)

const DefaultMaxBodyBytes = 16 << 20

var validate = validator.New()

type ExecuteBody struct {
	Script           string          `json:"script" validate:"required"`
	LayerIDs         []string        `json:"layerIds" validate:"omitempty,max=64,dive,required,max=256"`
	Layers           []model.Layer   `json:"layers" validate:"omitempty,max=64"`
	SelectedFeatures []model.Feature `json:"selectedFeatures" validate:"omitempty,max=10000"`
	MapBounds        *model.BBox     `json:"mapBounds"`
}

type AdoptBody struct {
	Name   string          `json:"name" validate:"required,max=200"`
	Output json.RawMessage `json:"output" validate:"required"`
	Style  map[string]any  `json:"style"`
}

type Handlers struct {
	exec    executor.Interface
	logger  *slog.Logger
	maxBody int64
}

func New(exec executor.Interface, logger *slog.Logger, maxBody int64) *Handlers {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handlers{exec: exec, logger: logger, maxBody: maxBody}
}

// Mount registers the /v1 routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/{session}/execute", h.Execute)
		r.Post("/sessions/{session}/cancel", h.Cancel)
		r.Delete("/sessions/{session}", h.EndSession)
		r.Post("/layers", h.Adopt)
		r.Get("/layers/{id}", h.Layer)
	})
}

func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	var body ExecuteBody
	if err := h.decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.exec.Execute(r.Context(), chi.URLParam(r, "session"), executor.Request{
		Script:           body.Script,
		LayerRefs:        body.LayerIDs,
		Layers:           body.Layers,
		SelectedFeatures: body.SelectedFeatures,
		MapBounds:        body.MapBounds,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel is a no-op for idle sessions, so it always answers 204.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.exec.Cancel(chi.URLParam(r, "session"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	h.exec.EndSession(chi.URLParam(r, "session"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Adopt(w http.ResponseWriter, r *http.Request) {
	var body AdoptBody
	if err := h.decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.exec.Adopt(r.Context(), body.Output, body.Name, body.Style)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/layers/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) Layer(w http.ResponseWriter, r *http.Request) {
	rec, err := h.exec.Layer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validate body: %w", err)
	}
	return nil
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "err", err)
	}
	writeError(w, code, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, executor.ErrInvalidRequest), errors.Is(err, sessions.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, layerstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, layerstore.ErrInvalidOutput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bridge.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

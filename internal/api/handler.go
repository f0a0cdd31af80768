package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/observability"
)

const maxBodyBytes = 1 << 20

type GenerationHandler struct {
	Eng *engine.Engine
}

func NewGenerationHandler(eng *engine.Engine) *GenerationHandler {
	return &GenerationHandler{Eng: eng}
}

type errorBody struct {
	Error engine.Error `json:"error"`
}

// writeJSON encodes v before touching the response so an unencodable body
// still becomes a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("encode response")
		observability.RequestErrors.WithLabelValues("ENCODE").Inc()
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorBody{Error: engine.Error{Code: "INTERNAL", Message: "internal error"}})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	var e *engine.Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("generation failed")
		observability.RequestErrors.WithLabelValues("INTERNAL").Inc()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: engine.Error{Code: "INTERNAL", Message: "internal error"}})
		return
	}
	observability.RequestErrors.WithLabelValues(e.Code).Inc()
	status := http.StatusBadRequest
	if e.Code == engine.CodeDataSourceNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: *e})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, &engine.Error{Code: engine.CodeInvalidRequest, Message: fmt.Sprintf("malformed request body: %v", err)})
		return false
	}
	return true
}

func (h *GenerationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req engine.PreviewRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	resp, err := h.Eng.Preview(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.ObserveRun("preview", resp.RowsProcessed, resp.AdCount, resp.SkippedAdCount, len(resp.Warnings), time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req engine.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	resp, err := h.Eng.Generate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.ObserveRun("generate", resp.Stats.RowsProcessed, resp.Stats.TotalAds, resp.Stats.SkippedAds, len(resp.Warnings), time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (h *GenerationHandler) ValidateField(w http.ResponseWriter, r *http.Request) {
	var req engine.ValidateFieldRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	resp, err := h.Eng.ValidateField(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.ObserveRun("validate", resp.TotalRows, 0, resp.InvalidRows, 0, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

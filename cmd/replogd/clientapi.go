package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/replogio/replog/coordinator"
	"github.com/replogio/replog/log"
	"github.com/replogio/replog/wire"
)

// clientAPI is the operator-facing surface replogctl talks to: append,
// read, truncate and status, layered over the log façade rather than the
// inter-replica network.Peer routes network/httptransport.Server exposes
// (those are for other replicas, not clients).
type clientAPI struct {
	co     *coordinator.Coordinator
	writer *log.Writer
	reader *log.Reader
	log    *zap.Logger
}

func newClientAPI(co *coordinator.Coordinator, writer *log.Writer, reader *log.Reader, logger *zap.Logger) *clientAPI {
	return &clientAPI{co: co, writer: writer, reader: reader, log: logger}
}

func (a *clientAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/append", a.handleAppend)
	r.Post("/truncate", a.handleTruncate)
	r.Get("/read", a.handleRead)
	r.Get("/status", a.handleStatus)
	return r
}

func (a *clientAPI) ensureElected(r *http.Request) bool {
	if a.co.Elected() {
		return true
	}
	_, ok := a.writer.Start(r.Context())
	return ok
}

type appendRequest struct {
	Data []byte `json:"data"`
}

type positionResponse struct {
	Position wire.Position `json:"position"`
}

func (a *clientAPI) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !a.ensureElected(r) {
		writeJSON(w, http.StatusServiceUnavailable, errBody("not elected"))
		return
	}
	pos, ok := a.writer.Append(r.Context(), req.Data)
	if !ok {
		writeJSON(w, http.StatusConflict, errBody("lost leadership, retry"))
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: pos})
}

type truncateRequest struct {
	To wire.Position `json:"to"`
}

func (a *clientAPI) handleTruncate(w http.ResponseWriter, r *http.Request) {
	var req truncateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !a.ensureElected(r) {
		writeJSON(w, http.StatusServiceUnavailable, errBody("not elected"))
		return
	}
	pos, ok := a.writer.Truncate(r.Context(), req.To)
	if !ok {
		writeJSON(w, http.StatusConflict, errBody("lost leadership, retry"))
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: pos})
}

func (a *clientAPI) handleRead(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, errBody("from and to must be positions"))
		return
	}

	entries, err := a.reader.Read(wire.Position(from), wire.Position(to))
	if err != nil {
		a.log.Debug("clientapi: read failed", zap.Error(err))
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *clientAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"elected":          a.co.Elected(),
		"current_position": a.co.CurrentPosition(),
	})
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

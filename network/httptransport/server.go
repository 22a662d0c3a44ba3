// Package httptransport exposes one network.Peer over HTTP using
// github.com/go-chi/chi/v5 for routing and encoding/json for request and
// response bodies, grounded on the teacher pack's internal/http.Server
// (chi router, writeJSON helper, http.Server with ReadHeaderTimeout).
package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/replogio/replog/network"
	"github.com/replogio/replog/wire"
)

const readHeaderTimeout = time.Second

// Server exposes one local network.Peer (typically a *replica.Replica)
// over HTTP for other replicas to reach via Client.
type Server struct {
	target network.Peer
	log    *zap.Logger

	httpServer *http.Server
}

// NewServer wraps target for HTTP delivery on addr (e.g. ":8080").
func NewServer(addr string, target network.Peer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{target: target, log: log}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the chi router directly, for tests that want to drive
// it with httptest.NewServer instead of binding a real port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/promise", s.handlePromise)
	r.Post("/write", s.handleWrite)
	r.Post("/learned", s.handleLearned)
	r.Post("/recover", s.handleRecover)
	return r
}

// ListenAndServe blocks serving until the listener is closed.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the HTTP listener down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePromise(w http.ResponseWriter, r *http.Request) {
	var req wire.PromiseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.target.Promise(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req wire.WriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.target.Write(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLearned(w http.ResponseWriter, r *http.Request) {
	var msg wire.LearnedMessage
	if !decodeJSON(w, r, &msg) {
		return
	}
	s.target.Learned(r.Context(), msg)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req wire.RecoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.target.Recover(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Debug("httptransport: request rejected", zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

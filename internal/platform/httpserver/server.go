package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	boostengine "acorn/contexts/savings-incentives/boost-engine"
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	boosts boostengine.Module
}

func New(boosts boostengine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		boosts: boosts,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the routing mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/boosts/events", s.handleBoostEvent)
	s.mux.HandleFunc("POST /v1/boosts", s.handleCreateBoost)
	s.mux.HandleFunc("GET /v1/users/{user_id}/boosts", s.handleListUserBoosts)
	s.mux.HandleFunc("GET /v1/boosts/{boost_id}/accounts/{account_id}", s.handleGetAccountStatus)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/schedule"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse reports operation capacity and scheduler state.
type StatusResponse struct {
	Uptime           string                   `json:"uptime"`
	Limiter          core.LimiterStatus       `json:"limiter"`
	ActiveOperations int                      `json:"activeOperations"`
	Entities         int                      `json:"entities"`
	Scheduler        *schedule.RegistryStatus `json:"scheduler,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		Limiter:          s.service.Limiter().Status(),
		ActiveOperations: s.service.ActiveOperations(),
		Entities:         len(s.service.Entities()),
	}
	if s.schedules != nil {
		st := s.schedules.Status()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

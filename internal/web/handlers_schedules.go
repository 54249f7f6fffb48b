package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/schedule"
	"github.com/JonMunkholm/bulkio/internal/tabular"
)

// scheduler returns the registry or answers 503 when scheduling is off.
func (s *Server) scheduler(w http.ResponseWriter, r *http.Request) (*schedule.Registry, bool) {
	if s.schedules == nil {
		respondError(w, r, errSchedulerDisabled)
		return nil, false
	}
	return s.schedules, true
}

func decodeConfig(r *http.Request) (schedule.Config, error) {
	var cfg schedule.Config
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return cfg, nil
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reg.List())
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	cfg, err := decodeConfig(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	created, err := reg.Create(r.Context(), cfg)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	cfg, err := reg.Get(chi.URLParam(r, "configID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	cfg, err := decodeConfig(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	updated, err := reg.Update(r.Context(), chi.URLParam(r, "configID"), cfg)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	if err := reg.Delete(r.Context(), chi.URLParam(r, "configID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetScheduleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, ok := s.scheduler(w, r)
		if !ok {
			return
		}
		cfg, err := reg.SetEnabled(r.Context(), chi.URLParam(r, "configID"), enabled)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

// handleTriggerSchedule starts a manual run. With ?wait=true the request
// blocks until the job finishes; otherwise the pending job is returned.
func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "configID")

	if r.URL.Query().Get("wait") == "true" {
		job, err := reg.Trigger(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	job, err := reg.TriggerAsync(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	jobs, err := reg.Jobs(chi.URLParam(r, "configID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	job, err := reg.Job(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobProgress streams job transitions via Server-Sent Events until the
// job is terminal.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")

	updates := make(chan schedule.Job, 8)
	unsubscribe, err := reg.SubscribeJob(jobID, func(j schedule.Job) {
		select {
		case updates <- j:
		default:
		}
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer unsubscribe()

	current, err := reg.Job(jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sse, ok := startSSE(w)
	if !ok {
		respondErrorJSON(w, core.MapError(errors.New("streaming not supported")), http.StatusInternalServerError)
		return
	}

	seq := 0
	sse.event("job", seq, current)
	if current.Status.Terminal() {
		sse.event("complete", seq, struct{}{})
		return
	}

	for {
		select {
		case j := <-updates:
			seq++
			sse.event("job", seq, j)
			if j.Status.Terminal() {
				sse.event("complete", seq, struct{}{})
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleArtifactDownload serves a delivered artifact from the download
// store.
func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		respondError(w, r, errSchedulerDisabled)
		return
	}
	name := path.Base(chi.URLParam(r, "filename"))

	data, err := s.downloads.Open(name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	format := core.Format(strings.TrimPrefix(path.Ext(name), "."))
	writeArtifact(w, name, tabular.ContentType(format), data)
}

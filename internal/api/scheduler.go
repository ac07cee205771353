package api

import (
	"net/http"

	"github.com/omerix/offline-sync/internal/scheduler"
)

// handleSchedulerStatus returns scheduler statistics
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	sched := s.deps.Scheduler
	if sched == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
			"message": "Scheduler not enabled",
		})
		return
	}

	writeJSON(w, http.StatusOK, sched.GetStats())
}

// handleSchedulerListJobs returns all jobs
func (s *Server) handleSchedulerListJobs(w http.ResponseWriter, _ *http.Request) {
	sched := s.deps.Scheduler
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	jobs := sched.ListJobs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleSchedulerGetJob returns a specific job
func (s *Server) handleSchedulerGetJob(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Scheduler
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	job, err := sched.GetJob(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleSchedulerRunJob runs a job now and waits for it to finish
func (s *Server) handleSchedulerRunJob(w http.ResponseWriter, r *http.Request) {
	sched := s.deps.Scheduler
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	jobID := r.PathValue("id")
	if err := sched.RunJobNow(r.Context(), jobID); err != nil {
		writeErr(w, err)
		return
	}

	job, err := sched.GetJob(jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleSchedulerUpdateJob enables or disables a job until the next reload
func (s *Server) handleSchedulerUpdateJob(w http.ResponseWriter, r *http.Request) {
	var update struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &update); err != nil {
		writeErr(w, err)
		return
	}

	sched := s.deps.Scheduler
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	id := r.PathValue("id")
	var (
		job *scheduler.Job
		err error
	)
	if update.Enabled != nil {
		job, err = sched.SetEnabled(id, *update.Enabled)
	} else {
		job, err = sched.GetJob(id)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

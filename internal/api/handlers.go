package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/omerix/offline-sync/internal/connectivity"
	"github.com/omerix/offline-sync/internal/syncer"
)

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	ops, err := s.deps.Queue.GetAll(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueList{Operations: ops, Stats: stats})
}

// handleQueueAdd enqueues without attempting delivery.
func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.deps.Queue.Enqueue(r.Context(), req.request())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id})
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Dequeue(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueueRequeue revives a dead operation and nudges the sync loop.
func (s *Server) handleQueueRequeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Queue.Requeue(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	if s.deps.Manager != nil {
		s.deps.Manager.Trigger("requeue")
	}
	op, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// handleWrite sends a write upstream, queueing it when that is not possible.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}

	res, err := s.deps.Writer.Submit(r.Context(), req.request(), s.sessionToken(r.Context()))
	switch {
	case errors.Is(err, syncer.ErrRejected):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Status: res.Status})
	case err != nil:
		writeErr(w, err)
	case res.Delivered:
		writeJSON(w, http.StatusOK, res)
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

// handleSync replays the whole queue before answering, so it runs without
// the server write deadline and stops when the caller goes away.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("cannot lift write deadline", "error", err)
	}
	res, err := s.deps.Manager.FlushNow(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTokenSet stores the session token and flushes if the link is up.
func (s *Server) handleTokenSet(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if err := s.deps.Session.Set(req.Token); err != nil {
		writeErr(w, err)
		return
	}
	if s.deps.Manager != nil && (s.deps.Monitor == nil || s.deps.Monitor.Online()) {
		s.deps.Manager.Trigger("session")
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Info())
}

func (s *Server) handleTokenClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Session.Clear(); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnectivity accepts online/offline reports from the front end.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var rep ConnectivityReport
	if err := decodeJSON(w, r, &rep); err != nil {
		writeErr(w, err)
		return
	}
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "connectivity monitor not running")
		return
	}
	s.deps.Monitor.Report(connectivity.Event{
		Online: rep.Online,
		Source: "frontend",
		Reason: rep.Reason,
		At:     time.Now(),
	})
	w.WriteHeader(http.StatusAccepted)
}

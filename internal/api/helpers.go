package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/scheduler"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// headers are already sent, nothing useful to do on failure
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps known errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, opqueue.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, opqueue.ErrNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, opqueue.ErrNotDead), errors.Is(err, syncer.ErrFlushInProgress):
		return http.StatusConflict
	case errors.Is(err, opqueue.ErrQueueFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, syncer.ErrNoToken):
		return http.StatusPreconditionFailed
	case errors.Is(err, security.ErrExpiredToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", opqueue.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %v", opqueue.ErrInvalidRequest, err)
	}
	return nil
}

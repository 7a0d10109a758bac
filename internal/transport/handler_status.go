package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleStatus serves the session status snapshot. It always returns 200:
// an unknown session ID yields a default all-pending snapshot, because the
// poller may race the session's first durable write.
func (d *Dependencies) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		WriteBadRequest(w, "session id is required")
		return
	}

	session := d.Status.Snapshot(r.Context(), sessionID)
	WriteJSON(w, http.StatusOK, session)
}

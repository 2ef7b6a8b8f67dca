package handler

import (
	"encoding/json"
	"net/http"

	"github.com/arborhq/arbor/internal/model"
)

// writeJSON serializes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope. Messages are static
// strings chosen by the handler; internal error detail never reaches the
// client.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: message},
	})
}

// readJSON decodes the request body as JSON into v, closing the body.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryBool reports whether a query flag is set ("1" or "true").
func queryBool(r *http.Request, key string) bool {
	val := r.URL.Query().Get(key)
	return val == "true" || val == "1"
}

// writeDispatched writes the response for a dispatched task: a 202 with a
// polling handle when the work was queued, or the given status when it ran
// inline and already completed.
func writeDispatched(w http.ResponseWriter, inlineStatus int, ref *model.TaskRef) {
	if ref == nil {
		w.WriteHeader(inlineStatus)
		return
	}
	writeJSON(w, http.StatusAccepted, model.TaskResponse{Task: *ref})
}

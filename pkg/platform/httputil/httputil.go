// Package httputil holds the JSON response helpers shared by every handler.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "ampel/pkg/domain-errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded error into the JSON error envelope.
// Internal errors never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.Message(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Redirect issues a 302 to location.
func Redirect(w http.ResponseWriter, r *http.Request, location string) {
	http.Redirect(w, r, location, http.StatusFound)
}

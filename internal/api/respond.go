package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/catalog"
	"github.com/bbernstein/netboot-go/internal/services/fleet"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
)

// Error codes carried in the envelope.
const (
	CodeConflict    = "conflict"
	CodeNotFound    = "not_found"
	CodeInvalid     = "invalid"
	CodeForbidden   = "forbidden"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// ErrorBody is the envelope of a failed request.
type ErrorBody struct {
	Error   bool              `json:"error"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Field   string            `json:"field,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// writeOK writes payload with "error": false merged into its top level.
// payload must encode as a JSON object.
func writeOK(w http.ResponseWriter, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &body); err != nil {
		writeError(w, err)
		return
	}
	body["error"] = json.RawMessage("false")

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("⚠️  Failed to write response: %v", err)
	}
}

// writeError maps a service error onto the envelope.
func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		log.Printf("❌ Request failed: %v", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, ErrorBody) {
	body := ErrorBody{Error: true, Message: err.Error()}

	var verrs netboot.ValidationErrors
	var ferrs outlet.FieldErrors
	switch {
	case errors.As(err, &verrs):
		body.Code = CodeInvalid
		body.Fields = verrs
		body.Field = firstField(verrs)
		return http.StatusBadRequest, body
	case errors.As(err, &ferrs):
		body.Code = CodeInvalid
		body.Fields = ferrs
		body.Field = firstField(ferrs)
		return http.StatusBadRequest, body
	case errors.Is(err, fleet.ErrExists):
		body.Code = CodeConflict
		body.Field = "ip"
		return http.StatusConflict, body
	case errors.Is(err, fleet.ErrNotFound), errors.Is(err, catalog.ErrUnknownGame):
		body.Code = CodeNotFound
		return http.StatusNotFound, body
	case errors.Is(err, outlet.ErrNotControllable):
		body.Code = CodeForbidden
		return http.StatusForbidden, body
	case errors.Is(err, outlet.ErrNotConfigured):
		body.Code = CodeInvalid
		body.Field = "outlet"
		return http.StatusBadRequest, body
	case errors.Is(err, errForbidden):
		body.Code = CodeForbidden
		return http.StatusForbidden, body
	case errors.Is(err, errOutletFailed):
		body.Code = CodeUnavailable
		return http.StatusBadGateway, body
	}

	body.Code = CodeInternal
	return http.StatusInternalServerError, body
}

func firstField(m map[string]string) string {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// decode reads a JSON request body.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return netboot.ValidationErrors{"body": "expected JSON data in request: " + err.Error()}
	}
	return nil
}

// noCache marks every response as uncacheable; clients poll these endpoints.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

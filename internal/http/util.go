package httpapi

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// formList reads a field that may arrive either as JSON array text or
// as repeated form values.
func formList(r *http.Request, field string) []string {
	values := r.PostForm[field]
	if len(values) == 1 {
		var parsed []string
		if err := json.Unmarshal([]byte(values[0]), &parsed); err == nil {
			return parsed
		}
	}
	return values
}

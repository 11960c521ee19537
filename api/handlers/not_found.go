package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	model := huma.ErrorModel{
		Title:  http.StatusText(http.StatusNotFound),
		Status: http.StatusNotFound,
		Detail: fmt.Sprintf("Path '%s' not found", r.URL.Path),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusNotFound)
	if err := json.NewEncoder(w).Encode(model); err != nil {
		http.Error(w, "Failed to encode JSON", http.StatusInternalServerError)
	}
}

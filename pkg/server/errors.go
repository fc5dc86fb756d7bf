// Copyright 2025 Certen Protocol

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/certen/isafe-indexer/pkg/database"
)

// apiError is the JSON shape every error response takes.
type apiError struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:     kind,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, "bad_request", message)
}

func writeNotFound(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusNotFound, "not_found", message)
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
}

// writeStoreError maps a projection store error to the right HTTP status,
// folding the package's not-found sentinels into 404s and anything else
// into a 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrAccountNotFound):
		writeNotFound(w, r, "account not found")
	case errors.Is(err, database.ErrMemberNotFound):
		writeNotFound(w, r, "member not found")
	case errors.Is(err, database.ErrTransactionNotFound):
		writeNotFound(w, r, "transaction not found")
	default:
		writeInternal(w, r, err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

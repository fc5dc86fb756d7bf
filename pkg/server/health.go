// Copyright 2025 Certen Protocol

package server

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.db.Health(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if !status.Healthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, status)
		return
	}
	writeJSON(w, status)
}

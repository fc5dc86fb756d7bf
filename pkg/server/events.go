// Copyright 2025 Certen Protocol

package server

import (
	"encoding/base64"
	"net/http"
	"strings"
)

type eventResponse struct {
	AccountAddress string `json:"accountAddress"`
	FiringTxDigest string `json:"firingTxDigest"`
	EventType      string `json:"eventType"`
	EventData      string `json:"eventData"`
	Timestamp      int64  `json:"timestamp"`
}

type getEventsResponse struct {
	Events []eventResponse `json:"events"`
}

// handleEventsForAccount serves GET /events/{account_address}: the raw
// event log for an account, newest first (descending logical timestamp).
// EventData is the event's canonical binary encoding, base64'd for JSON
// transport.
func (s *Server) handleEventsForAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	accountAddress := strings.TrimPrefix(r.URL.Path, "/events/")
	if accountAddress == "" || strings.Contains(accountAddress, "/") {
		writeBadRequest(w, r, "account address is required")
		return
	}

	store := s.db.ReadStore()
	rows, err := store.EventsForAccount(r.Context(), accountAddress)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := getEventsResponse{Events: make([]eventResponse, 0, len(rows))}
	// EventsForAccount returns ascending causal order; reverse it.
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		resp.Events = append(resp.Events, eventResponse{
			AccountAddress: row.AccountAddress,
			FiringTxDigest: row.FiringTxDigest,
			EventType:      row.EventType,
			EventData:      base64.StdEncoding.EncodeToString(row.Content),
			Timestamp:      row.LogicalTS,
		})
	}
	writeJSON(w, resp)
}

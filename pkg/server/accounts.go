// Copyright 2025 Certen Protocol

package server

import (
	"net/http"
	"strings"
)

type accountResponse struct {
	AccountAddress string `json:"accountAddress"`
	Threshold      uint64 `json:"threshold"`
	Authenticator  string `json:"authenticator"`
	CreatedAt      int64  `json:"createdAt"`
}

type getAccountsResponse struct {
	Accounts []accountResponse `json:"accounts"`
}

// handleAccountsForMember serves GET /accounts/{member_address}: every
// account the given address is a member of.
func (s *Server) handleAccountsForMember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	memberAddress := strings.TrimPrefix(r.URL.Path, "/accounts/")
	if memberAddress == "" || strings.Contains(memberAddress, "/") {
		writeBadRequest(w, r, "member address is required")
		return
	}

	store := s.db.ReadStore()
	accounts, err := store.AccountsForMember(r.Context(), memberAddress)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := getAccountsResponse{Accounts: make([]accountResponse, 0, len(accounts))}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, accountResponse{
			AccountAddress: a.AccountAddress,
			Threshold:      a.Threshold,
			Authenticator:  a.Authenticator,
			CreatedAt:      a.CreatedAt,
		})
	}
	writeJSON(w, resp)
}

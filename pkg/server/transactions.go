// Copyright 2025 Certen Protocol

package server

import (
	"net/http"
	"strings"
)

type transactionResponse struct {
	TransactionDigest  string   `json:"transactionDigest"`
	ProposerAddress    string   `json:"proposerAddress"`
	Status             string   `json:"status"`
	CurrentApprovals   uint64   `json:"currentApprovals"`
	Threshold          uint64   `json:"threshold"`
	TotalAccountWeight uint64   `json:"totalAccountWeight"`
	ApprovedBy         []string `json:"approvedBy"`
	CreatedAt          int64    `json:"createdAt"`
}

type getTransactionsResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

// handleTransactionsForAccount serves GET /transactions/{account_address}:
// every transaction proposed against the account, with its current
// approval standing.
func (s *Server) handleTransactionsForAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	accountAddress := strings.TrimPrefix(r.URL.Path, "/transactions/")
	if accountAddress == "" || strings.Contains(accountAddress, "/") {
		writeBadRequest(w, r, "account address is required")
		return
	}

	store := s.db.ReadStore()
	summaries, err := store.TransactionSummaries(r.Context(), accountAddress)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := getTransactionsResponse{Transactions: make([]transactionResponse, 0, len(summaries))}
	for _, t := range summaries {
		approvedBy := t.ApprovedBy
		if approvedBy == nil {
			approvedBy = []string{}
		}
		resp.Transactions = append(resp.Transactions, transactionResponse{
			TransactionDigest:  t.TransactionDigest,
			ProposerAddress:    t.ProposerAddress,
			Status:             string(t.Status),
			CurrentApprovals:   t.CurrentApprovals,
			Threshold:          t.Threshold,
			TotalAccountWeight: t.TotalAccountWeight,
			ApprovedBy:         approvedBy,
			CreatedAt:          t.CreatedAt,
		})
	}
	writeJSON(w, resp)
}

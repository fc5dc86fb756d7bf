// Copyright 2025 Certen Protocol
//
// Store implements the Projection Store's operation set over a Querier,
// so the same methods run either inside a Client.WithTx transaction (the
// Dispatcher's write path) or directly against the pool (the read API).

package database

import (
	"context"
	"database/sql"
	"errors"
)

// Store is the projection store's operation set, bound to whatever
// Querier it was constructed with.
type Store struct {
	q Querier
}

// NewStore wraps an arbitrary Querier (a *sql.DB or *sql.Tx) in a Store.
// Tests construct Stores directly against a *sql.DB; production code goes
// through Client.WithTx or Client.ReadStore.
func NewStore(q Querier) *Store {
	return &Store{q: q}
}

// ============================================================================
// ACCOUNTS
// ============================================================================

// AccountExists reports whether an account row is already present, used by
// the Dispatcher to make AccountCreated idempotent under replay.
func (s *Store) AccountExists(ctx context.Context, accountAddress string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_address = $1)`,
		accountAddress,
	).Scan(&exists)
	return exists, err
}

// InsertAccount creates the account row only. Callers insert the initial
// membership set via InsertMember for each entry.
func (s *Store) InsertAccount(ctx context.Context, acc Account) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (account_address, threshold, authenticator, created_at)
		 VALUES ($1, $2, $3, $4)`,
		acc.AccountAddress, acc.Threshold, acc.Authenticator, acc.CreatedAt,
	)
	return err
}

// UpdateAccountThreshold applies a ThresholdChanged event.
func (s *Store) UpdateAccountThreshold(ctx context.Context, accountAddress string, newThreshold uint64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET threshold = $1 WHERE account_address = $2`,
		newThreshold, accountAddress,
	)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, ErrAccountNotFound)
}

// GetAccount fetches a single account row.
func (s *Store) GetAccount(ctx context.Context, accountAddress string) (Account, error) {
	var acc Account
	err := s.q.QueryRowContext(ctx,
		`SELECT account_address, threshold, authenticator, created_at
		 FROM accounts WHERE account_address = $1`,
		accountAddress,
	).Scan(&acc.AccountAddress, &acc.Threshold, &acc.Authenticator, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return acc, err
}

// ============================================================================
// MEMBERS
// ============================================================================

// InsertMember adds a member to an account.
func (s *Store) InsertMember(ctx context.Context, m Member) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO members (account_address, member_address, weight, added_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_address, member_address) DO UPDATE SET weight = EXCLUDED.weight`,
		m.AccountAddress, m.MemberAddress, m.Weight, m.AddedAt,
	)
	return err
}

// UpdateMemberWeight applies a MemberWeightUpdated event.
func (s *Store) UpdateMemberWeight(ctx context.Context, accountAddress, memberAddress string, newWeight uint64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE members SET weight = $1 WHERE account_address = $2 AND member_address = $3`,
		newWeight, accountAddress, memberAddress,
	)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, ErrMemberNotFound)
}

// DeleteMember removes a member from an account.
func (s *Store) DeleteMember(ctx context.Context, accountAddress, memberAddress string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM members WHERE account_address = $1 AND member_address = $2`,
		accountAddress, memberAddress,
	)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, ErrMemberNotFound)
}

// MembersForAccount lists every member of an account.
func (s *Store) MembersForAccount(ctx context.Context, accountAddress string) ([]Member, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT account_address, member_address, weight, added_at
		 FROM members WHERE account_address = $1 ORDER BY member_address`,
		accountAddress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.AccountAddress, &m.MemberAddress, &m.Weight, &m.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AccountsForMember lists every account a given address belongs to, backing
// GET /accounts/{member_address}.
func (s *Store) AccountsForMember(ctx context.Context, memberAddress string) ([]Account, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT a.account_address, a.threshold, a.authenticator, a.created_at
		 FROM accounts a
		 JOIN members m ON m.account_address = a.account_address
		 WHERE m.member_address = $1
		 ORDER BY a.account_address`,
		memberAddress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.AccountAddress, &a.Threshold, &a.Authenticator, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TotalWeight sums every member's weight for an account, reported as the
// total account weight in GetApprovalDetails and TransactionSummaries.
func (s *Store) TotalWeight(ctx context.Context, accountAddress string) (uint64, error) {
	var total uint64
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(weight), 0) FROM members WHERE account_address = $1`,
		accountAddress,
	).Scan(&total)
	return total, err
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// InsertTransaction creates a transaction row with the status t carries
// (the Dispatcher always passes Proposed).
func (s *Store) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (transaction_digest, account_address, proposer_address, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.TransactionDigest, t.AccountAddress, t.ProposerAddress, t.Status, t.CreatedAt,
	)
	return err
}

// UpdateTransactionStatus sets a transaction's status, filtering by digest
// alone: the reference implementation's single-column primary key on
// transactions means an account_address mismatch can never occur in
// practice, so it is not part of the WHERE clause.
func (s *Store) UpdateTransactionStatus(ctx context.Context, transactionDigest string, newStatus Status) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET status = $1 WHERE transaction_digest = $2`,
		newStatus, transactionDigest,
	)
	if err != nil {
		return err
	}
	return requireRowsAffected(res, ErrTransactionNotFound)
}

// GetTransaction fetches a single transaction row.
func (s *Store) GetTransaction(ctx context.Context, transactionDigest string) (Transaction, error) {
	var t Transaction
	err := s.q.QueryRowContext(ctx,
		`SELECT transaction_digest, account_address, proposer_address, status, created_at
		 FROM transactions WHERE transaction_digest = $1`,
		transactionDigest,
	).Scan(&t.TransactionDigest, &t.AccountAddress, &t.ProposerAddress, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

// ListTransactionsByStatus returns every transaction for an account in a
// given status, used by the Status Reconciler to find candidates for
// promotion or demotion after a membership or threshold change.
func (s *Store) ListTransactionsByStatus(ctx context.Context, accountAddress string, status Status) ([]Transaction, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT transaction_digest, account_address, proposer_address, status, created_at
		 FROM transactions WHERE account_address = $1 AND status = $2
		 ORDER BY created_at`,
		accountAddress, status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.TransactionDigest, &t.AccountAddress, &t.ProposerAddress, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionsForAccount lists every transaction for an account, backing
// GET /transactions/{account_address}.
func (s *Store) TransactionsForAccount(ctx context.Context, accountAddress string) ([]Transaction, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT transaction_digest, account_address, proposer_address, status, created_at
		 FROM transactions WHERE account_address = $1 ORDER BY created_at`,
		accountAddress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.TransactionDigest, &t.AccountAddress, &t.ProposerAddress, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ============================================================================
// APPROVALS
// ============================================================================

// InsertApproval records a member's approval of a transaction.
func (s *Store) InsertApproval(ctx context.Context, a Approval) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO approvals (transaction_digest, account_address, approver_address, approver_weight, approved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (transaction_digest, approver_address) DO NOTHING`,
		a.TransactionDigest, a.AccountAddress, a.ApproverAddress, a.ApproverWeight, a.ApprovedAt,
	)
	return err
}

// CurrentApprovedWeight sums the weight an in-force transaction currently
// carries: each approval counts only if its approver is still a member,
// and at that member's *current* weight rather than the weight recorded
// at approval time. This is what makes MemberRemoved and
// MemberWeightUpdated capable of shifting a transaction across threshold
// after the fact, instead of freezing its approval weight forever.
func (s *Store) CurrentApprovedWeight(ctx context.Context, accountAddress, transactionDigest string) (uint64, error) {
	var total uint64
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(m.weight), 0)
		 FROM approvals ap
		 JOIN members m ON m.account_address = $1 AND m.member_address = ap.approver_address
		 WHERE ap.transaction_digest = $2`,
		accountAddress, transactionDigest,
	).Scan(&total)
	return total, err
}

// DeleteApprovalsForNonExecuted clears every approval a member recorded
// against one of an account's non-executed transactions. Called when
// MemberRemoved fires, so a departed member's standing votes can never
// keep counting toward a Proposed or Approved transaction's weight; an
// Executed transaction's approval history is left untouched.
func (s *Store) DeleteApprovalsForNonExecuted(ctx context.Context, accountAddress, memberAddress string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM approvals
		 WHERE account_address = $1
		   AND approver_address = $2
		   AND transaction_digest IN (
		       SELECT transaction_digest FROM transactions
		       WHERE account_address = $1 AND status IN ($3, $4)
		   )`,
		accountAddress, memberAddress, StatusProposed, StatusApproved,
	)
	return err
}

// GetApprovalDetails aggregates a transaction's current approvers, their
// weights as recorded at approval time, the account's total weight, and
// its threshold, using three queries (approvals, account, members). It
// backs the read API's TransactionSummaries; the Status Reconciler uses
// CurrentApprovedWeight instead. A missing account row yields
// ErrAccountNotFound.
func (s *Store) GetApprovalDetails(ctx context.Context, accountAddress, transactionDigest string) (ApprovalDetails, error) {
	var details ApprovalDetails

	rows, err := s.q.QueryContext(ctx,
		`SELECT approver_address, approver_weight FROM approvals
		 WHERE transaction_digest = $1 ORDER BY approver_address`,
		transactionDigest,
	)
	if err != nil {
		return details, err
	}
	for rows.Next() {
		var addr string
		var weight uint64
		if err := rows.Scan(&addr, &weight); err != nil {
			rows.Close()
			return details, err
		}
		details.Approvers = append(details.Approvers, addr)
		details.ApproverWeights = append(details.ApproverWeights, weight)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return details, err
	}
	rows.Close()

	acc, err := s.GetAccount(ctx, accountAddress)
	if err != nil {
		return details, err
	}
	details.Threshold = acc.Threshold

	total, err := s.TotalWeight(ctx, accountAddress)
	if err != nil {
		return details, err
	}
	details.TotalAccountWeight = total

	return details, nil
}

// TransactionSummaries builds the read API's per-transaction view for an
// account, folding in approval details for each row.
func (s *Store) TransactionSummaries(ctx context.Context, accountAddress string) ([]TransactionSummary, error) {
	txs, err := s.TransactionsForAccount(ctx, accountAddress)
	if err != nil {
		return nil, err
	}

	total, err := s.TotalWeight(ctx, accountAddress)
	if err != nil {
		return nil, err
	}

	summaries := make([]TransactionSummary, 0, len(txs))
	for _, t := range txs {
		details, err := s.GetApprovalDetails(ctx, accountAddress, t.TransactionDigest)
		if err != nil {
			return nil, err
		}
		var current uint64
		for _, w := range details.ApproverWeights {
			current += w
		}
		summaries = append(summaries, TransactionSummary{
			TransactionDigest:  t.TransactionDigest,
			ProposerAddress:    t.ProposerAddress,
			Status:             t.Status,
			CurrentApprovals:   current,
			Threshold:          details.Threshold,
			TotalAccountWeight: total,
			ApprovedBy:         details.Approvers,
			CreatedAt:          t.CreatedAt,
		})
	}
	return summaries, nil
}

// ============================================================================
// EVENT LOG
// ============================================================================

// InsertEvent appends a causally-ordered entry to the event log.
func (s *Store) InsertEvent(ctx context.Context, row EventLogRow) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO event_log (account_address, firing_tx_digest, event_type, logical_ts, content)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.AccountAddress, row.FiringTxDigest, row.EventType, row.LogicalTS, row.Content,
	)
	return err
}

// EventsForAccount lists an account's event log in causal order, backing
// GET /events/{account_address}.
func (s *Store) EventsForAccount(ctx context.Context, accountAddress string) ([]EventLogRow, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, account_address, firing_tx_digest, event_type, logical_ts, content
		 FROM event_log WHERE account_address = $1 ORDER BY logical_ts, id`,
		accountAddress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventLogRow
	for rows.Next() {
		var r EventLogRow
		if err := rows.Scan(&r.ID, &r.AccountAddress, &r.FiringTxDigest, &r.EventType, &r.LogicalTS, &r.Content); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// requireRowsAffected returns notFound if res reports zero rows affected.
func requireRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

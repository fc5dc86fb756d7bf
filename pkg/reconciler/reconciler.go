// Copyright 2025 Certen Protocol
//
// Status Reconciler: after a membership or threshold mutation, re-checks
// every affected account's outstanding transactions against their new
// threshold and promotes or demotes them, synthesizing the events a
// status change without a direct on-chain cause still needs to leave in
// the log.

package reconciler

import (
	"context"
	"fmt"

	"github.com/certen/isafe-indexer/pkg/database"
	"github.com/certen/isafe-indexer/pkg/evaluator"
	"github.com/certen/isafe-indexer/pkg/isafe"
)

// Reconciler recomputes threshold-crossing state for an account's
// transactions against a Store bound to the Dispatcher's current
// transaction.
type Reconciler struct {
	store *database.Store
}

// New builds a Reconciler over store.
func New(store *database.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile is called after any event that can shift an account's total
// weight or threshold (MemberAdded, MemberRemoved, MemberWeightUpdated,
// ThresholdChanged). It walks every Proposed transaction looking for
// crossings up, and every Approved transaction looking for crossings down,
// applying the resulting status transition and returning the synthetic
// events the caller should append to the event log alongside the
// triggering event.
//
// Step order matters: Proposed transactions are evaluated first, so a
// transaction that both gains members this round and would otherwise
// still be Proposed resolves to Approved in the same pass rather than
// lagging a checkpoint behind.
func (r *Reconciler) Reconcile(ctx context.Context, accountAddress string) ([]isafe.Event, error) {
	var synthetic []isafe.Event

	acc, err := r.store.GetAccount(ctx, accountAddress)
	if err != nil {
		return nil, fmt.Errorf("reconciler: load account: %w", err)
	}

	reachedEvents, err := r.reconcileProposed(ctx, accountAddress, acc.Threshold)
	if err != nil {
		return nil, err
	}
	synthetic = append(synthetic, reachedEvents...)

	lostEvents, err := r.reconcileApproved(ctx, accountAddress, acc.Threshold)
	if err != nil {
		return nil, err
	}
	synthetic = append(synthetic, lostEvents...)

	return synthetic, nil
}

func (r *Reconciler) reconcileProposed(ctx context.Context, accountAddress string, threshold uint64) ([]isafe.Event, error) {
	txs, err := r.store.ListTransactionsByStatus(ctx, accountAddress, database.StatusProposed)
	if err != nil {
		return nil, fmt.Errorf("reconciler: list proposed: %w", err)
	}

	var events []isafe.Event
	for _, tx := range txs {
		approved, err := r.store.CurrentApprovedWeight(ctx, accountAddress, tx.TransactionDigest)
		if err != nil {
			return nil, fmt.Errorf("reconciler: approved weight for %s: %w", tx.TransactionDigest, err)
		}

		if evaluator.Evaluate(approved, threshold, false) != evaluator.Reached {
			continue
		}

		if err := r.store.UpdateTransactionStatus(ctx, tx.TransactionDigest, database.StatusApproved); err != nil {
			return nil, fmt.Errorf("reconciler: promote %s: %w", tx.TransactionDigest, err)
		}

		digest, err := isafe.ParseDigest(tx.TransactionDigest)
		if err != nil {
			return nil, fmt.Errorf("reconciler: parse digest %s: %w", tx.TransactionDigest, err)
		}
		account, err := isafe.ParseAddress(accountAddress)
		if err != nil {
			return nil, fmt.Errorf("reconciler: parse account %s: %w", accountAddress, err)
		}

		events = append(events, isafe.TransactionApprovalThresholdReached{
			Account:             account,
			Digest:              digest,
			TotalApprovedWeight: approved,
			Threshold:           threshold,
		})
	}
	return events, nil
}

func (r *Reconciler) reconcileApproved(ctx context.Context, accountAddress string, threshold uint64) ([]isafe.Event, error) {
	txs, err := r.store.ListTransactionsByStatus(ctx, accountAddress, database.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("reconciler: list approved: %w", err)
	}

	var events []isafe.Event
	for _, tx := range txs {
		approved, err := r.store.CurrentApprovedWeight(ctx, accountAddress, tx.TransactionDigest)
		if err != nil {
			return nil, fmt.Errorf("reconciler: approved weight for %s: %w", tx.TransactionDigest, err)
		}

		// An Approved row is, by construction, already at or above
		// threshold, so wasMet is unconditionally true here.
		if evaluator.Evaluate(approved, threshold, true) != evaluator.Lost {
			continue
		}

		if err := r.store.UpdateTransactionStatus(ctx, tx.TransactionDigest, database.StatusProposed); err != nil {
			return nil, fmt.Errorf("reconciler: demote %s: %w", tx.TransactionDigest, err)
		}

		digest, err := isafe.ParseDigest(tx.TransactionDigest)
		if err != nil {
			return nil, fmt.Errorf("reconciler: parse digest %s: %w", tx.TransactionDigest, err)
		}
		account, err := isafe.ParseAddress(accountAddress)
		if err != nil {
			return nil, fmt.Errorf("reconciler: parse account %s: %w", accountAddress, err)
		}

		events = append(events, isafe.TransactionApprovalThresholdLost{
			Account:             account,
			Digest:              digest,
			TotalApprovedWeight: approved,
			Threshold:           threshold,
		})
	}
	return events, nil
}

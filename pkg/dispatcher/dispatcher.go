// Copyright 2025 Certen Protocol
//
// Event Dispatcher: the per-event-type action table that turns a decoded
// iSafe event into projection-store mutations, appends it (and whatever
// synthetic events it provokes) to the event log, and drives the Status
// Reconciler when membership or threshold shifts.

package dispatcher

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/certen/isafe-indexer/pkg/database"
	"github.com/certen/isafe-indexer/pkg/isafe"
	"github.com/certen/isafe-indexer/pkg/reconciler"
)

// Dispatcher applies typed events to a Store within the Checkpoint
// Driver's outer transaction.
type Dispatcher struct {
	logger *log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the Dispatcher's logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New builds a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: log.New(os.Stderr, "[isafe-dispatcher] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch applies ev against store, appends it to the event log at
// logicalTS, and — for events that can shift an account's membership or
// threshold — runs the Status Reconciler and logs whatever synthetic
// events it produces, all within the same outer transaction. firingTxDigest
// is the chain transaction that produced ev, used only for the event
// log's audit trail; it is unrelated to a multisig TransactionProposed's
// own digest.
func (d *Dispatcher) Dispatch(ctx context.Context, store *database.Store, ev isafe.Event, firingTxDigest string, logicalTS int64) error {
	reconcileAccount, err := d.apply(ctx, store, ev)
	if err != nil {
		return err
	}
	if err := d.logEvent(ctx, store, ev, firingTxDigest, logicalTS); err != nil {
		return err
	}

	if reconcileAccount == "" {
		return nil
	}
	r := reconciler.New(store)
	synthetic, err := r.Reconcile(ctx, reconcileAccount)
	if err != nil {
		return fmt.Errorf("dispatcher: reconcile %s: %w", reconcileAccount, err)
	}
	for _, syn := range synthetic {
		if err := d.logEvent(ctx, store, syn, firingTxDigest, logicalTS); err != nil {
			return err
		}
	}
	return nil
}

// apply mutates the projection store for ev and returns the account
// address to reconcile afterward, or "" if ev cannot shift any
// transaction's threshold-crossing state.
func (d *Dispatcher) apply(ctx context.Context, store *database.Store, ev isafe.Event) (string, error) {
	switch e := ev.(type) {
	case isafe.AccountCreated:
		return "", d.applyAccountCreated(ctx, store, e)
	case isafe.AccountRotated:
		d.logger.Printf("warning: AccountRotated received for %s, full account reset is not applied (see DESIGN.md)", e.Account)
		return "", nil
	case isafe.MemberAdded:
		if err := store.InsertMember(ctx, database.Member{
			AccountAddress: e.Account.String(),
			MemberAddress:  e.Member.String(),
			Weight:         e.Weight,
		}); err != nil {
			return "", fmt.Errorf("dispatcher: insert member %s: %w", e.Member, err)
		}
		return e.Account.String(), nil
	case isafe.MemberRemoved:
		if err := store.DeleteMember(ctx, e.Account.String(), e.Member.String()); err != nil {
			return "", fmt.Errorf("dispatcher: delete member %s: %w", e.Member, err)
		}
		if err := store.DeleteApprovalsForNonExecuted(ctx, e.Account.String(), e.Member.String()); err != nil {
			return "", fmt.Errorf("dispatcher: delete approvals for removed member %s: %w", e.Member, err)
		}
		return e.Account.String(), nil
	case isafe.MemberWeightUpdated:
		if err := store.UpdateMemberWeight(ctx, e.Account.String(), e.Member.String(), e.NewWeight); err != nil {
			return "", fmt.Errorf("dispatcher: update member weight %s: %w", e.Member, err)
		}
		return e.Account.String(), nil
	case isafe.ThresholdChanged:
		if err := store.UpdateAccountThreshold(ctx, e.Account.String(), e.NewThreshold); err != nil {
			return "", fmt.Errorf("dispatcher: update threshold: %w", err)
		}
		return e.Account.String(), nil
	case isafe.GuardianChanged:
		return "", nil // no projected field for guardian today; the event log retains it
	case isafe.TransactionProposed:
		return "", d.applyTransactionProposed(ctx, store, e)
	case isafe.TransactionApproved:
		// Crossing threshold on an ordinary approval is signaled by the
		// chain's own TransactionApprovalThresholdReached event, not by
		// reconciliation here — reconciliation only runs after a
		// membership or threshold mutation.
		return "", d.applyTransactionApproved(ctx, store, e)
	case isafe.TransactionApprovalThresholdReached:
		return "", store.UpdateTransactionStatus(ctx, e.Digest.String(), database.StatusApproved)
	case isafe.TransactionApprovalThresholdLost:
		return "", store.UpdateTransactionStatus(ctx, e.Digest.String(), database.StatusProposed)
	case isafe.TransactionExecuted:
		return "", store.UpdateTransactionStatus(ctx, e.Digest.String(), database.StatusExecuted)
	case isafe.TransactionRemoved:
		// Log-only: the transaction row stays in place with whatever
		// status it was already carrying, and its recorded approvals are
		// left exactly as they were.
		return "", nil
	default:
		return "", fmt.Errorf("dispatcher: unrecognized event type %T", ev)
	}
}

func (d *Dispatcher) applyAccountCreated(ctx context.Context, store *database.Store, e isafe.AccountCreated) error {
	exists, err := store.AccountExists(ctx, e.Account.String())
	if err != nil {
		return fmt.Errorf("dispatcher: check account exists: %w", err)
	}
	if exists {
		// Idempotent under checkpoint replay: AccountCreated for an
		// account already in the store is a no-op, not an error.
		return nil
	}

	if err := store.InsertAccount(ctx, database.Account{
		AccountAddress: e.Account.String(),
		Threshold:      e.Threshold,
		Authenticator:  e.Authenticator,
	}); err != nil {
		return fmt.Errorf("dispatcher: insert account: %w", err)
	}

	for _, m := range e.Members {
		if err := store.InsertMember(ctx, database.Member{
			AccountAddress: e.Account.String(),
			MemberAddress:  m.Member.String(),
			Weight:         m.Weight,
		}); err != nil {
			return fmt.Errorf("dispatcher: insert member %s: %w", m.Member, err)
		}
	}
	return nil
}

func (d *Dispatcher) applyTransactionProposed(ctx context.Context, store *database.Store, e isafe.TransactionProposed) error {
	return store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: e.Digest.String(),
		AccountAddress:    e.Account.String(),
		ProposerAddress:   e.Proposer.String(),
		Status:            database.StatusProposed,
	})
}

func (d *Dispatcher) applyTransactionApproved(ctx context.Context, store *database.Store, e isafe.TransactionApproved) error {
	return store.InsertApproval(ctx, database.Approval{
		TransactionDigest: e.Digest.String(),
		AccountAddress:    e.Account.String(),
		ApproverAddress:   e.Approver.String(),
		ApproverWeight:    e.ApproverWeight,
	})
}

func (d *Dispatcher) logEvent(ctx context.Context, store *database.Store, ev isafe.Event, firingTxDigest string, logicalTS int64) error {
	content, err := isafe.Encode(ev)
	if err != nil {
		return fmt.Errorf("dispatcher: encode event for log: %w", err)
	}
	return store.InsertEvent(ctx, database.EventLogRow{
		AccountAddress: ev.AccountID().String(),
		FiringTxDigest: firingTxDigest,
		EventType:      string(ev.Type()),
		LogicalTS:      logicalTS,
		Content:        content,
	})
}

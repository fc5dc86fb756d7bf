// Copyright 2025 Certen Protocol

package dispatcher

import (
	"bytes"
	"context"
	"testing"

	"github.com/certen/isafe-indexer/pkg/database"
	"github.com/certen/isafe-indexer/pkg/database/dbtest"
	"github.com/certen/isafe-indexer/pkg/isafe"
)

func testAddress(t *testing.T, n byte) isafe.Address {
	t.Helper()
	addr, err := isafe.NewAddress(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	return addr
}

func testDigest(t *testing.T, n byte) isafe.Digest {
	t.Helper()
	d, err := isafe.NewDigest(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		t.Fatalf("NewDigest: %v", err)
	}
	return d
}

func TestDispatchAccountCreatedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)
	d := New()

	account := testAddress(t, 0x01)
	member := testAddress(t, 0x02)
	ev := isafe.AccountCreated{
		Account:       account,
		Members:       []isafe.MemberInfo{{Member: member, Weight: 5}},
		Threshold:     3,
		Authenticator: "0x" + "00::safe::approve",
	}

	if err := d.Dispatch(ctx, store, ev, "0xtx0", 100); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, store, ev, "0xtx0", 100); err != nil {
		t.Fatalf("replayed dispatch should be a no-op, got: %v", err)
	}

	acc, err := store.GetAccount(ctx, account.String())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Threshold != 3 {
		t.Fatalf("threshold mismatch: got %d want 3", acc.Threshold)
	}

	total, err := store.TotalWeight(ctx, account.String())
	if err != nil {
		t.Fatalf("TotalWeight: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected replay to not duplicate members, got total weight %d", total)
	}

	events, err := store.EventsForAccount(ctx, account.String())
	if err != nil {
		t.Fatalf("EventsForAccount: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected both dispatches to log an event, got %d", len(events))
	}
}

func TestDispatchTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)
	d := New()

	account := testAddress(t, 0x01)
	member1 := testAddress(t, 0x02)
	member2 := testAddress(t, 0x03)
	digest := testDigest(t, 0x09)

	created := isafe.AccountCreated{
		Account: account,
		Members: []isafe.MemberInfo{
			{Member: member1, Weight: 5},
			{Member: member2, Weight: 5},
		},
		Threshold:     10,
		Authenticator: "0x00::safe::approve",
	}
	if err := d.Dispatch(ctx, store, created, "0xtx0", 100); err != nil {
		t.Fatalf("dispatch AccountCreated: %v", err)
	}

	proposed := isafe.TransactionProposed{Account: account, Digest: digest, Proposer: member1}
	if err := d.Dispatch(ctx, store, proposed, "0xtx1", 200); err != nil {
		t.Fatalf("dispatch TransactionProposed: %v", err)
	}

	approved1 := isafe.TransactionApproved{Account: account, Digest: digest, Approver: member1, ApproverWeight: 5}
	if err := d.Dispatch(ctx, store, approved1, "0xtx2", 300); err != nil {
		t.Fatalf("dispatch TransactionApproved (m1): %v", err)
	}

	tx, err := store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusProposed {
		t.Fatalf("expected transaction to remain Proposed below threshold, got %s", tx.Status)
	}

	// A plain TransactionApproved never reconciles on its own: the chain
	// is expected to fire TransactionApprovalThresholdReached itself.
	approved2 := isafe.TransactionApproved{Account: account, Digest: digest, Approver: member2, ApproverWeight: 5}
	if err := d.Dispatch(ctx, store, approved2, "0xtx3", 400); err != nil {
		t.Fatalf("dispatch TransactionApproved (m2): %v", err)
	}
	tx, err = store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusProposed {
		t.Fatalf("plain TransactionApproved must not reconcile status, got %s", tx.Status)
	}

	reached := isafe.TransactionApprovalThresholdReached{Account: account, Digest: digest, TotalApprovedWeight: 10, Threshold: 10}
	if err := d.Dispatch(ctx, store, reached, "0xtx3", 400); err != nil {
		t.Fatalf("dispatch TransactionApprovalThresholdReached: %v", err)
	}
	tx, err = store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusApproved {
		t.Fatalf("expected Approved after threshold reached event, got %s", tx.Status)
	}

	executed := isafe.TransactionExecuted{Account: account, Digest: digest}
	if err := d.Dispatch(ctx, store, executed, "0xtx4", 500); err != nil {
		t.Fatalf("dispatch TransactionExecuted: %v", err)
	}
	tx, err = store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusExecuted {
		t.Fatalf("expected Executed, got %s", tx.Status)
	}
}

func TestMemberWeightUpdateReconciliationPromotesTransaction(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)
	d := New()

	account := testAddress(t, 0x01)
	member1 := testAddress(t, 0x02)
	member2 := testAddress(t, 0x03)
	digest := testDigest(t, 0x09)

	created := isafe.AccountCreated{
		Account: account,
		Members: []isafe.MemberInfo{
			{Member: member1, Weight: 5},
			{Member: member2, Weight: 5},
		},
		Threshold:     5,
		Authenticator: "0x00::safe::approve",
	}
	if err := d.Dispatch(ctx, store, created, "0xtx0", 100); err != nil {
		t.Fatalf("dispatch AccountCreated: %v", err)
	}
	if err := d.Dispatch(ctx, store, isafe.TransactionProposed{Account: account, Digest: digest, Proposer: member1}, "0xtx1", 200); err != nil {
		t.Fatalf("dispatch TransactionProposed: %v", err)
	}

	// Raise the threshold above member1's lone approval weight so the
	// transaction sits below threshold despite being approved.
	if err := d.Dispatch(ctx, store, isafe.ThresholdChanged{Account: account, OldThreshold: 5, NewThreshold: 8}, "0xtx2", 300); err != nil {
		t.Fatalf("dispatch ThresholdChanged: %v", err)
	}
	if err := d.Dispatch(ctx, store, isafe.TransactionApproved{Account: account, Digest: digest, Approver: member1, ApproverWeight: 5}, "0xtx3", 400); err != nil {
		t.Fatalf("dispatch TransactionApproved: %v", err)
	}

	tx, err := store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusProposed {
		t.Fatalf("expected Proposed below raised threshold, got %s", tx.Status)
	}

	// Raising member1's own weight, rather than approving again, is what
	// should trigger reconciliation: CurrentApprovedWeight is re-derived
	// from live membership, so the existing approval now counts for more.
	if err := d.Dispatch(ctx, store, isafe.MemberWeightUpdated{Account: account, Member: member1, NewWeight: 9}, "0xtx4", 500); err != nil {
		t.Fatalf("dispatch MemberWeightUpdated: %v", err)
	}

	tx, err = store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusApproved {
		t.Fatalf("expected reconciliation to promote transaction to Approved, got %s", tx.Status)
	}

	events, err := store.EventsForAccount(ctx, account.String())
	if err != nil {
		t.Fatalf("EventsForAccount: %v", err)
	}
	var sawSynthetic bool
	for _, e := range events {
		if e.EventType == string(isafe.EventTypeTransactionApprovalThresholdReached) {
			sawSynthetic = true
		}
	}
	if !sawSynthetic {
		t.Fatal("expected a synthetic TransactionApprovalThresholdReached event in the log")
	}
}

func TestTransactionRemovedIsLogOnly(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)
	d := New()

	account := testAddress(t, 0x01)
	member := testAddress(t, 0x02)
	digest := testDigest(t, 0x09)

	if err := store.InsertAccount(ctx, database.Account{AccountAddress: account.String(), Threshold: 10}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ProposerAddress: member.String(), Status: database.StatusProposed,
	}); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := store.InsertApproval(ctx, database.Approval{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ApproverAddress: member.String(), ApproverWeight: 5,
	}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}

	removed := isafe.TransactionRemoved{Account: account, Digest: digest}
	if err := d.Dispatch(ctx, store, removed, "0xtx5", 600); err != nil {
		t.Fatalf("dispatch TransactionRemoved: %v", err)
	}

	details, err := store.GetApprovalDetails(ctx, account.String(), digest.String())
	if err != nil {
		t.Fatalf("GetApprovalDetails: %v", err)
	}
	if len(details.Approvers) != 1 {
		t.Fatalf("expected TransactionRemoved to be log-only and leave approvals untouched, got %+v", details.Approvers)
	}

	events, err := store.EventsForAccount(ctx, account.String())
	if err != nil {
		t.Fatalf("EventsForAccount: %v", err)
	}
	if len(events) != 1 || events[len(events)-1].EventType != string(isafe.EventTypeTransactionRemoved) {
		t.Fatalf("expected TransactionRemoved to still be appended to the event log, got %+v", events)
	}
}

func TestMemberRemovedClearsMemberApprovalsOnNonExecutedTransactions(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)
	d := New()

	account := testAddress(t, 0x01)
	member1 := testAddress(t, 0x02)
	member2 := testAddress(t, 0x03)
	digestProposed := testDigest(t, 0x09)
	digestExecuted := testDigest(t, 0x0a)

	created := isafe.AccountCreated{
		Account: account,
		Members: []isafe.MemberInfo{
			{Member: member1, Weight: 5},
			{Member: member2, Weight: 5},
		},
		Threshold:     10,
		Authenticator: "0x00::safe::approve",
	}
	if err := d.Dispatch(ctx, store, created, "0xtx0", 100); err != nil {
		t.Fatalf("dispatch AccountCreated: %v", err)
	}

	// A Proposed transaction member1 approved: its approval must be
	// dropped once member1 is removed.
	if err := store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: digestProposed.String(), AccountAddress: account.String(),
		ProposerAddress: member2.String(), Status: database.StatusProposed,
	}); err != nil {
		t.Fatalf("InsertTransaction (proposed): %v", err)
	}
	if err := store.InsertApproval(ctx, database.Approval{
		TransactionDigest: digestProposed.String(), AccountAddress: account.String(),
		ApproverAddress: member1.String(), ApproverWeight: 5,
	}); err != nil {
		t.Fatalf("InsertApproval (proposed): %v", err)
	}

	// An already-Executed transaction member1 also approved: its approval
	// history must survive member1's removal.
	if err := store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: digestExecuted.String(), AccountAddress: account.String(),
		ProposerAddress: member2.String(), Status: database.StatusExecuted,
	}); err != nil {
		t.Fatalf("InsertTransaction (executed): %v", err)
	}
	if err := store.InsertApproval(ctx, database.Approval{
		TransactionDigest: digestExecuted.String(), AccountAddress: account.String(),
		ApproverAddress: member1.String(), ApproverWeight: 5,
	}); err != nil {
		t.Fatalf("InsertApproval (executed): %v", err)
	}

	if err := d.Dispatch(ctx, store, isafe.MemberRemoved{Account: account, Member: member1}, "0xtx1", 200); err != nil {
		t.Fatalf("dispatch MemberRemoved: %v", err)
	}

	proposedDetails, err := store.GetApprovalDetails(ctx, account.String(), digestProposed.String())
	if err != nil {
		t.Fatalf("GetApprovalDetails (proposed): %v", err)
	}
	if len(proposedDetails.Approvers) != 0 {
		t.Fatalf("expected removed member's approval dropped from the Proposed transaction, got %+v", proposedDetails.Approvers)
	}

	executedDetails, err := store.GetApprovalDetails(ctx, account.String(), digestExecuted.String())
	if err != nil {
		t.Fatalf("GetApprovalDetails (executed): %v", err)
	}
	if len(executedDetails.Approvers) != 1 {
		t.Fatalf("expected an executed transaction's approval history to survive member removal, got %+v", executedDetails.Approvers)
	}
}

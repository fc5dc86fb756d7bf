// Copyright 2025 Certen Protocol

package reconciler

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

func TestReconcilePromotesProposedAboveThreshold(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)

	account := testAddress(t, 0x01)
	member := testAddress(t, 0x02)
	digest := testDigest(t, 0x09)

	if err := store.InsertAccount(ctx, database.Account{AccountAddress: account.String(), Threshold: 5, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertMember(ctx, database.Member{AccountAddress: account.String(), MemberAddress: member.String(), Weight: 5, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}
	if err := store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ProposerAddress: member.String(), Status: database.StatusProposed, CreatedAt: 1,
	}); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := store.InsertApproval(ctx, database.Approval{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ApproverAddress: member.String(), ApproverWeight: 5, ApprovedAt: 1,
	}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}

	r := New(store)
	events, err := r.Reconcile(ctx, account.String())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one synthetic event, got %d: %+v", len(events), events)
	}
	reached, ok := events[0].(isafe.TransactionApprovalThresholdReached)
	if !ok {
		t.Fatalf("expected TransactionApprovalThresholdReached, got %T", events[0])
	}
	if reached.TotalApprovedWeight != 5 || reached.Threshold != 5 {
		t.Fatalf("unexpected weights: %+v", reached)
	}

	tx, err := store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusApproved {
		t.Fatalf("expected Approved, got %s", tx.Status)
	}
}

func TestReconcileDemotesApprovedBelowThreshold(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)

	account := testAddress(t, 0x01)
	member := testAddress(t, 0x02)
	digest := testDigest(t, 0x09)

	if err := store.InsertAccount(ctx, database.Account{AccountAddress: account.String(), Threshold: 8, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertMember(ctx, database.Member{AccountAddress: account.String(), MemberAddress: member.String(), Weight: 5, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}
	if err := store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ProposerAddress: member.String(), Status: database.StatusApproved, CreatedAt: 1,
	}); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := store.InsertApproval(ctx, database.Approval{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ApproverAddress: member.String(), ApproverWeight: 5, ApprovedAt: 1,
	}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}

	// Threshold is already above the live approved weight by construction
	// here (simulating a prior ThresholdChanged to 8 that outran a single
	// approval of weight 5).
	r := New(store)
	events, err := r.Reconcile(ctx, account.String())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one synthetic event, got %d: %+v", len(events), events)
	}
	lost, ok := events[0].(isafe.TransactionApprovalThresholdLost)
	if !ok {
		t.Fatalf("expected TransactionApprovalThresholdLost, got %T", events[0])
	}
	if lost.TotalApprovedWeight != 5 || lost.Threshold != 8 {
		t.Fatalf("unexpected weights: %+v", lost)
	}

	tx, err := store.GetTransaction(ctx, digest.String())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != database.StatusProposed {
		t.Fatalf("expected demotion to Proposed, got %s", tx.Status)
	}
}

func TestReconcileUsesLiveWeightNotLockedApprovalWeight(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := database.NewStore(db)

	account := testAddress(t, 0x01)
	member := testAddress(t, 0x02)
	digest := testDigest(t, 0x09)

	if err := store.InsertAccount(ctx, database.Account{AccountAddress: account.String(), Threshold: 9, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertMember(ctx, database.Member{AccountAddress: account.String(), MemberAddress: member.String(), Weight: 3, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}
	if err := store.InsertTransaction(ctx, database.Transaction{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ProposerAddress: member.String(), Status: database.StatusProposed, CreatedAt: 1,
	}); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	// The approval was recorded while the member's weight was 3, locked
	// into approver_weight, but the member's live weight is later raised
	// to 9 -- CurrentApprovedWeight must reflect the live figure.
	if err := store.InsertApproval(ctx, database.Approval{
		TransactionDigest: digest.String(), AccountAddress: account.String(),
		ApproverAddress: member.String(), ApproverWeight: 3, ApprovedAt: 1,
	}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}
	if err := store.UpdateMemberWeight(ctx, account.String(), member.String(), 9); err != nil {
		t.Fatalf("UpdateMemberWeight: %v", err)
	}

	r := New(store)
	events, err := r.Reconcile(ctx, account.String())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected promotion driven by live weight, got %d events", len(events))
	}
	reached, ok := events[0].(isafe.TransactionApprovalThresholdReached)
	if !ok {
		t.Fatalf("expected TransactionApprovalThresholdReached, got %T", events[0])
	}
	if reached.TotalApprovedWeight != 9 {
		t.Fatalf("expected live weight of 9 to drive the crossing, got %d", reached.TotalApprovedWeight)
	}
}

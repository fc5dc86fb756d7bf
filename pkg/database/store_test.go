// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/certen/isafe-indexer/pkg/database/dbtest"
)

func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := NewStore(db)

	exists, err := store.AccountExists(ctx, "0xacct")
	if err != nil {
		t.Fatalf("AccountExists: %v", err)
	}
	if exists {
		t.Fatal("expected account to not exist yet")
	}

	if err := store.InsertAccount(ctx, Account{AccountAddress: "0xacct", Threshold: 2, Authenticator: "0xpkg::safe::approve", CreatedAt: 100}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}

	exists, err = store.AccountExists(ctx, "0xacct")
	if err != nil {
		t.Fatalf("AccountExists: %v", err)
	}
	if !exists {
		t.Fatal("expected account to exist after insert")
	}

	acc, err := store.GetAccount(ctx, "0xacct")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Threshold != 2 {
		t.Fatalf("threshold mismatch: got %d want 2", acc.Threshold)
	}

	if err := store.UpdateAccountThreshold(ctx, "0xacct", 3); err != nil {
		t.Fatalf("UpdateAccountThreshold: %v", err)
	}
	acc, err = store.GetAccount(ctx, "0xacct")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Threshold != 3 {
		t.Fatalf("threshold mismatch after update: got %d want 3", acc.Threshold)
	}

	if err := store.UpdateAccountThreshold(ctx, "0xmissing", 9); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if _, err := store.GetAccount(ctx, "0xmissing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestMemberOperationsAndTotalWeight(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := NewStore(db)

	if err := store.InsertAccount(ctx, Account{AccountAddress: "0xacct", Threshold: 5, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}

	if err := store.InsertMember(ctx, Member{AccountAddress: "0xacct", MemberAddress: "0xm1", Weight: 3, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}
	if err := store.InsertMember(ctx, Member{AccountAddress: "0xacct", MemberAddress: "0xm2", Weight: 4, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}

	total, err := store.TotalWeight(ctx, "0xacct")
	if err != nil {
		t.Fatalf("TotalWeight: %v", err)
	}
	if total != 7 {
		t.Fatalf("total weight mismatch: got %d want 7", total)
	}

	if err := store.UpdateMemberWeight(ctx, "0xacct", "0xm1", 10); err != nil {
		t.Fatalf("UpdateMemberWeight: %v", err)
	}
	total, err = store.TotalWeight(ctx, "0xacct")
	if err != nil {
		t.Fatalf("TotalWeight: %v", err)
	}
	if total != 14 {
		t.Fatalf("total weight mismatch after reweight: got %d want 14", total)
	}

	accounts, err := store.AccountsForMember(ctx, "0xm2")
	if err != nil {
		t.Fatalf("AccountsForMember: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountAddress != "0xacct" {
		t.Fatalf("unexpected AccountsForMember result: %+v", accounts)
	}

	if err := store.DeleteMember(ctx, "0xacct", "0xm1"); err != nil {
		t.Fatalf("DeleteMember: %v", err)
	}
	total, err = store.TotalWeight(ctx, "0xacct")
	if err != nil {
		t.Fatalf("TotalWeight: %v", err)
	}
	if total != 4 {
		t.Fatalf("total weight mismatch after delete: got %d want 4", total)
	}

	if err := store.DeleteMember(ctx, "0xacct", "0xnotamember"); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestCurrentApprovedWeightReflectsLiveMembership(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := NewStore(db)

	if err := store.InsertAccount(ctx, Account{AccountAddress: "0xacct", Threshold: 10, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertMember(ctx, Member{AccountAddress: "0xacct", MemberAddress: "0xm1", Weight: 5, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}
	if err := store.InsertMember(ctx, Member{AccountAddress: "0xacct", MemberAddress: "0xm2", Weight: 5, AddedAt: 1}); err != nil {
		t.Fatalf("InsertMember: %v", err)
	}
	if err := store.InsertTransaction(ctx, Transaction{TransactionDigest: "0xtx", AccountAddress: "0xacct", ProposerAddress: "0xm1", Status: StatusProposed, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := store.InsertApproval(ctx, Approval{TransactionDigest: "0xtx", AccountAddress: "0xacct", ApproverAddress: "0xm1", ApproverWeight: 5, ApprovedAt: 1}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}
	if err := store.InsertApproval(ctx, Approval{TransactionDigest: "0xtx", AccountAddress: "0xacct", ApproverAddress: "0xm2", ApproverWeight: 5, ApprovedAt: 1}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}

	weight, err := store.CurrentApprovedWeight(ctx, "0xacct", "0xtx")
	if err != nil {
		t.Fatalf("CurrentApprovedWeight: %v", err)
	}
	if weight != 10 {
		t.Fatalf("weight mismatch: got %d want 10", weight)
	}

	// DeleteMember alone (the bare store primitive) leaves existing
	// approval rows untouched; it's the Dispatcher's job to also call
	// DeleteApprovalsForNonExecuted for the removed member. CurrentApprovedWeight
	// still re-derives from live membership either way, since it joins
	// approvals against the current members table rather than trusting
	// the locked approver_weight.
	if err := store.DeleteMember(ctx, "0xacct", "0xm2"); err != nil {
		t.Fatalf("DeleteMember: %v", err)
	}
	weight, err = store.CurrentApprovedWeight(ctx, "0xacct", "0xtx")
	if err != nil {
		t.Fatalf("CurrentApprovedWeight: %v", err)
	}
	if weight != 5 {
		t.Fatalf("weight mismatch after removal: got %d want 5", weight)
	}

	details, err := store.GetApprovalDetails(ctx, "0xacct", "0xtx")
	if err != nil {
		t.Fatalf("GetApprovalDetails: %v", err)
	}
	if len(details.Approvers) != 2 {
		t.Fatalf("expected DeleteMember alone to leave approval rows in place, got %+v", details.Approvers)
	}
}

func TestDeleteApprovalsForNonExecutedSparesExecuted(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := NewStore(db)

	if err := store.InsertAccount(ctx, Account{AccountAddress: "0xacct", Threshold: 5, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertTransaction(ctx, Transaction{TransactionDigest: "0xtx", AccountAddress: "0xacct", ProposerAddress: "0xm1", Status: StatusExecuted, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := store.InsertApproval(ctx, Approval{TransactionDigest: "0xtx", AccountAddress: "0xacct", ApproverAddress: "0xm1", ApproverWeight: 5, ApprovedAt: 1}); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}

	if err := store.DeleteApprovalsForNonExecuted(ctx, "0xacct", "0xm1"); err != nil {
		t.Fatalf("DeleteApprovalsForNonExecuted: %v", err)
	}

	details, err := store.GetApprovalDetails(ctx, "0xacct", "0xtx")
	if err != nil {
		t.Fatalf("GetApprovalDetails: %v", err)
	}
	if len(details.Approvers) != 1 {
		t.Fatalf("expected an executed transaction's approvals to survive, got %+v", details.Approvers)
	}
}

func TestDeleteApprovalsForNonExecutedScopesByAccountAndMember(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := NewStore(db)

	if err := store.InsertAccount(ctx, Account{AccountAddress: "0xacct", Threshold: 5, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	if err := store.InsertTransaction(ctx, Transaction{TransactionDigest: "0xtx1", AccountAddress: "0xacct", ProposerAddress: "0xm1", Status: StatusProposed, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertTransaction tx1: %v", err)
	}
	if err := store.InsertTransaction(ctx, Transaction{TransactionDigest: "0xtx2", AccountAddress: "0xacct", ProposerAddress: "0xm1", Status: StatusApproved, CreatedAt: 1}); err != nil {
		t.Fatalf("InsertTransaction tx2: %v", err)
	}
	if err := store.InsertApproval(ctx, Approval{TransactionDigest: "0xtx1", AccountAddress: "0xacct", ApproverAddress: "0xm1", ApproverWeight: 5, ApprovedAt: 1}); err != nil {
		t.Fatalf("InsertApproval tx1/m1: %v", err)
	}
	if err := store.InsertApproval(ctx, Approval{TransactionDigest: "0xtx1", AccountAddress: "0xacct", ApproverAddress: "0xm2", ApproverWeight: 5, ApprovedAt: 1}); err != nil {
		t.Fatalf("InsertApproval tx1/m2: %v", err)
	}
	if err := store.InsertApproval(ctx, Approval{TransactionDigest: "0xtx2", AccountAddress: "0xacct", ApproverAddress: "0xm1", ApproverWeight: 5, ApprovedAt: 1}); err != nil {
		t.Fatalf("InsertApproval tx2/m1: %v", err)
	}

	if err := store.DeleteApprovalsForNonExecuted(ctx, "0xacct", "0xm1"); err != nil {
		t.Fatalf("DeleteApprovalsForNonExecuted: %v", err)
	}

	tx1, err := store.GetApprovalDetails(ctx, "0xacct", "0xtx1")
	if err != nil {
		t.Fatalf("GetApprovalDetails tx1: %v", err)
	}
	if len(tx1.Approvers) != 1 || tx1.Approvers[0] != "0xm2" {
		t.Fatalf("expected only m1's approval dropped from tx1, got %+v", tx1.Approvers)
	}

	tx2, err := store.GetApprovalDetails(ctx, "0xacct", "0xtx2")
	if err != nil {
		t.Fatalf("GetApprovalDetails tx2: %v", err)
	}
	if len(tx2.Approvers) != 0 {
		t.Fatalf("expected m1's approval dropped from the Approved transaction tx2 too, got %+v", tx2.Approvers)
	}
}

func TestEventLogOrdering(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenDB(t)
	defer db.Close()
	store := NewStore(db)

	if err := store.InsertEvent(ctx, EventLogRow{AccountAddress: "0xacct", FiringTxDigest: "0xtx1", EventType: "MemberAddedEvent", LogicalTS: 200, Content: []byte{1}}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if err := store.InsertEvent(ctx, EventLogRow{AccountAddress: "0xacct", FiringTxDigest: "0xtx0", EventType: "AccountCreatedEvent", LogicalTS: 100, Content: []byte{2}}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	rows, err := store.EventsForAccount(ctx, "0xacct")
	if err != nil {
		t.Fatalf("EventsForAccount: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 events, got %d", len(rows))
	}
	if rows[0].LogicalTS != 100 || rows[1].LogicalTS != 200 {
		t.Fatalf("expected events ordered by logical timestamp, got %+v", rows)
	}
}

// Copyright 2025 Certen Protocol
//
// Encode mirrors decodeByTypeName in reverse: it serializes an Event back
// into the canonical binary layout stored in the event log, used both for
// chain-sourced events it re-encodes for idempotent replay and for
// synthetic events the Reconciler produces, which never arrive pre-encoded.

package isafe

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Encode serializes ev into its canonical wire representation.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case AccountCreated:
		return rlp.EncodeToBytes(accountCreatedWire{
			AccountID:     e.Account,
			Members:       e.Members,
			Threshold:     e.Threshold,
			Guardian:      e.Guardian,
			Authenticator: flattenedWire(e.Authenticator),
		})

	case AccountRotated:
		return rlp.EncodeToBytes(accountRotatedWire{
			AccountID:     e.Account,
			Members:       e.Members,
			Threshold:     e.Threshold,
			Guardian:      e.Guardian,
			Authenticator: flattenedWire(e.Authenticator),
		})

	case MemberAdded:
		return rlp.EncodeToBytes(memberAddedWire{AccountID: e.Account, Member: e.Member, Weight: e.Weight})

	case MemberRemoved:
		return rlp.EncodeToBytes(memberRemovedWire{AccountID: e.Account, Member: e.Member})

	case MemberWeightUpdated:
		return rlp.EncodeToBytes(memberWeightUpdatedWire{AccountID: e.Account, Member: e.Member, NewWeight: e.NewWeight})

	case ThresholdChanged:
		return rlp.EncodeToBytes(thresholdChangedWire{AccountID: e.Account, OldThreshold: e.OldThreshold, NewThreshold: e.NewThreshold})

	case GuardianChanged:
		return rlp.EncodeToBytes(guardianChangedWire{AccountID: e.Account, NewGuardian: e.NewGuardian})

	case TransactionProposed:
		return rlp.EncodeToBytes(transactionProposedWire{AccountID: e.Account, TransactionDigest: e.Digest[:], Proposer: e.Proposer})

	case TransactionApproved:
		return rlp.EncodeToBytes(transactionApprovedWire{
			AccountID:         e.Account,
			TransactionDigest: e.Digest[:],
			Approver:          e.Approver,
			ApproverWeight:    e.ApproverWeight,
		})

	case TransactionApprovalThresholdReached:
		return rlp.EncodeToBytes(transactionThresholdWire{
			AccountID:           e.Account,
			TransactionDigest:   e.Digest[:],
			TotalApprovedWeight: e.TotalApprovedWeight,
			Threshold:           e.Threshold,
		})

	case TransactionApprovalThresholdLost:
		return rlp.EncodeToBytes(transactionThresholdWire{
			AccountID:           e.Account,
			TransactionDigest:   e.Digest[:],
			TotalApprovedWeight: e.TotalApprovedWeight,
			Threshold:           e.Threshold,
		})

	case TransactionExecuted:
		return rlp.EncodeToBytes(transactionExecutedWire{AccountID: e.Account, TransactionDigest: e.Digest[:]})

	case TransactionRemoved:
		return rlp.EncodeToBytes(transactionRemovedWire{AccountID: e.Account, TransactionDigest: e.Digest[:]})

	default:
		return nil, fmt.Errorf("isafe: encode: unrecognized event type %T", ev)
	}
}

func flattenedWire(flat string) authenticatorInfoV1Wire {
	pkg, module, fn := splitAuthenticator(flat)
	return authenticatorInfoV1Wire{Package: pkg, ModuleName: module, FunctionName: fn}
}

// splitAuthenticator reverses flatten()'s "pkg::module::function" join. An
// input that does not split into three parts yields the zero address and
// empty names, and a package part that does not parse as an address yields
// the zero address with the module and function names kept, rather than
// an error: Encode is only ever called on an event this process
// itself already validated on decode or constructed synthetically.
func splitAuthenticator(flat string) (Address, string, string) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i+1 < len(flat); i++ {
		if flat[i] == ':' && flat[i+1] == ':' {
			parts = append(parts, flat[start:i])
			start = i + 2
			i++
		}
	}
	parts = append(parts, flat[start:])
	if len(parts) != 3 {
		return ZeroAddress, "", ""
	}
	pkg, err := ParseAddress(parts[0])
	if err != nil {
		return ZeroAddress, parts[1], parts[2]
	}
	return pkg, parts[1], parts[2]
}

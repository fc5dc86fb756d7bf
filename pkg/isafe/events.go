// Copyright 2025 Certen Protocol
//
// Typed iSafe protocol events and the chain-event codec.
//
// Event shapes are grounded on the reference implementation's
// AccountCreatedEvent/Member/AuthenticatorInfoV1, generalized to the full
// protocol variant set.

package isafe

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// EventType is the on-chain (or synthetic) event type tag used when
// serializing to the event log.
type EventType string

const (
	EventTypeAccountCreated                    EventType = "AccountCreatedEvent"
	EventTypeAccountRotated                     EventType = "AccountRotatedEvent"
	EventTypeMemberAdded                        EventType = "MemberAddedEvent"
	EventTypeMemberRemoved                      EventType = "MemberRemovedEvent"
	EventTypeMemberWeightUpdated                EventType = "MemberWeightUpdatedEvent"
	EventTypeThresholdChanged                   EventType = "ThresholdChangedEvent"
	EventTypeGuardianChanged                    EventType = "GuardianChangedEvent"
	EventTypeTransactionProposed                EventType = "TransactionProposedEvent"
	EventTypeTransactionApproved                EventType = "TransactionApprovedEvent"
	EventTypeTransactionApprovalThresholdReached EventType = "TransactionApprovalThresholdReachedEvent"
	EventTypeTransactionExecuted                EventType = "TransactionExecutedEvent"
	EventTypeTransactionRemoved                 EventType = "TransactionRemovedEvent"
	// EventTypeTransactionApprovalThresholdLost is synthetic-only: the chain
	// never emits it, only the Reconciler does. It shares the event log's
	// serialization layout with its chain-emitted sibling.
	EventTypeTransactionApprovalThresholdLost EventType = "TransactionApprovalThresholdLostEvent"
)

// Event is implemented by every typed iSafe event, chain-decoded or synthetic.
type Event interface {
	Type() EventType
	// AccountID returns the account this event concerns.
	AccountID() Address
}

// MemberInfo is a member entry as carried inside AccountCreated.
type MemberInfo struct {
	Member Address
	Weight uint64
}

// AccountCreated mirrors events.rs's AccountCreatedEvent.
type AccountCreated struct {
	Account       Address
	Members       []MemberInfo
	Threshold     uint64
	Guardian      []byte
	Authenticator string // flattened "pkg::module::function"
}

func (e AccountCreated) Type() EventType   { return EventTypeAccountCreated }
func (e AccountCreated) AccountID() Address { return e.Account }

// AccountRotated is reserved: the store-side handling is unimplemented, see
// DESIGN.md.
type AccountRotated struct {
	Account       Address
	Members       []MemberInfo
	Threshold     uint64
	Guardian      []byte
	Authenticator string
}

func (e AccountRotated) Type() EventType   { return EventTypeAccountRotated }
func (e AccountRotated) AccountID() Address { return e.Account }

type MemberAdded struct {
	Account Address
	Member  Address
	Weight  uint64
}

func (e MemberAdded) Type() EventType   { return EventTypeMemberAdded }
func (e MemberAdded) AccountID() Address { return e.Account }

type MemberRemoved struct {
	Account Address
	Member  Address
}

func (e MemberRemoved) Type() EventType   { return EventTypeMemberRemoved }
func (e MemberRemoved) AccountID() Address { return e.Account }

type MemberWeightUpdated struct {
	Account   Address
	Member    Address
	NewWeight uint64
}

func (e MemberWeightUpdated) Type() EventType   { return EventTypeMemberWeightUpdated }
func (e MemberWeightUpdated) AccountID() Address { return e.Account }

type ThresholdChanged struct {
	Account      Address
	OldThreshold uint64
	NewThreshold uint64
}

func (e ThresholdChanged) Type() EventType   { return EventTypeThresholdChanged }
func (e ThresholdChanged) AccountID() Address { return e.Account }

type GuardianChanged struct {
	Account     Address
	NewGuardian []byte
}

func (e GuardianChanged) Type() EventType   { return EventTypeGuardianChanged }
func (e GuardianChanged) AccountID() Address { return e.Account }

type TransactionProposed struct {
	Account  Address
	Digest   Digest
	Proposer Address
}

func (e TransactionProposed) Type() EventType   { return EventTypeTransactionProposed }
func (e TransactionProposed) AccountID() Address { return e.Account }

type TransactionApproved struct {
	Account        Address
	Digest         Digest
	Approver       Address
	ApproverWeight uint64
}

func (e TransactionApproved) Type() EventType   { return EventTypeTransactionApproved }
func (e TransactionApproved) AccountID() Address { return e.Account }

// TransactionApprovalThresholdReached is emitted both by the chain (when the
// final approval crosses the threshold) and synthetically by the Reconciler
// (when a membership/threshold mutation pushes an already-Proposed tx over
// the line). Both paths produce this same shape.
type TransactionApprovalThresholdReached struct {
	Account             Address
	Digest              Digest
	TotalApprovedWeight uint64
	Threshold           uint64
}

func (e TransactionApprovalThresholdReached) Type() EventType { return EventTypeTransactionApprovalThresholdReached }
func (e TransactionApprovalThresholdReached) AccountID() Address { return e.Account }

// TransactionApprovalThresholdLost is synthetic-only: no chain event maps
// to it directly, only the Reconciler produces it.
type TransactionApprovalThresholdLost struct {
	Account             Address
	Digest              Digest
	TotalApprovedWeight uint64
	Threshold           uint64
}

func (e TransactionApprovalThresholdLost) Type() EventType { return EventTypeTransactionApprovalThresholdLost }
func (e TransactionApprovalThresholdLost) AccountID() Address { return e.Account }

type TransactionExecuted struct {
	Account Address
	Digest  Digest
}

func (e TransactionExecuted) Type() EventType   { return EventTypeTransactionExecuted }
func (e TransactionExecuted) AccountID() Address { return e.Account }

// TransactionRemoved leaves the row in place; retention policy is
// deliberately left to operators (see DESIGN.md).
type TransactionRemoved struct {
	Account Address
	Digest  Digest
}

func (e TransactionRemoved) Type() EventType   { return EventTypeTransactionRemoved }
func (e TransactionRemoved) AccountID() Address { return e.Account }

// MalformedEventError is returned by Codec.Decode when an event's contents
// fail to decode under the declared type's canonical layout (e.g. a
// transaction digest whose length isn't 32 bytes).
type MalformedEventError struct {
	TypeName string
	Err      error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("isafe: malformed %s event: %v", e.TypeName, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// ---- wire layouts (RLP field order mirrors the chain's struct layout) ----

type authenticatorInfoV1Wire struct {
	Package      Address
	ModuleName   string
	FunctionName string
}

func (a authenticatorInfoV1Wire) flatten() string {
	return a.Package.String() + "::" + a.ModuleName + "::" + a.FunctionName
}

type accountCreatedWire struct {
	AccountID     Address
	Members       []MemberInfo
	Threshold     uint64
	Guardian      []byte
	Authenticator authenticatorInfoV1Wire
}

type accountRotatedWire accountCreatedWire

type memberAddedWire struct {
	AccountID Address
	Member    Address
	Weight    uint64
}

type memberRemovedWire struct {
	AccountID Address
	Member    Address
}

type memberWeightUpdatedWire struct {
	AccountID Address
	Member    Address
	NewWeight uint64
}

type thresholdChangedWire struct {
	AccountID    Address
	OldThreshold uint64
	NewThreshold uint64
}

type guardianChangedWire struct {
	AccountID   Address
	NewGuardian []byte
}

type transactionProposedWire struct {
	AccountID         Address
	TransactionDigest []byte
	Proposer          Address
}

type transactionApprovedWire struct {
	AccountID         Address
	TransactionDigest []byte
	Approver          Address
	ApproverWeight    uint64
}

type transactionThresholdWire struct {
	AccountID           Address
	TransactionDigest   []byte
	TotalApprovedWeight uint64
	Threshold           uint64
}

type transactionExecutedWire struct {
	AccountID         Address
	TransactionDigest []byte
}

type transactionRemovedWire struct {
	AccountID         Address
	TransactionDigest []byte
}

// decodeDigest converts a raw byte slice into a Digest, wrapping length
// failures as a MalformedEventError tagged with the owning type name.
func decodeDigest(typeName string, raw []byte) (Digest, error) {
	d, err := NewDigest(raw)
	if err != nil {
		return Digest{}, &MalformedEventError{TypeName: typeName, Err: err}
	}
	return d, nil
}

// decodeTyped unmarshals contents into dst via RLP, wrapping any failure as
// a MalformedEventError.
func decodeTyped(typeName string, contents []byte, dst interface{}) error {
	if err := rlp.DecodeBytes(contents, dst); err != nil {
		return &MalformedEventError{TypeName: typeName, Err: err}
	}
	return nil
}

// decodeByTypeName decodes contents according to typeName, returning nil,
// nil for a type name the codec does not recognize within its package
// rather than an error.
func decodeByTypeName(typeName string, contents []byte) (Event, error) {
	switch EventType(typeName) {
	case EventTypeAccountCreated:
		var w accountCreatedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return AccountCreated{
			Account:       w.AccountID,
			Members:       w.Members,
			Threshold:     w.Threshold,
			Guardian:      w.Guardian,
			Authenticator: w.Authenticator.flatten(),
		}, nil

	case EventTypeAccountRotated:
		var w accountRotatedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return AccountRotated{
			Account:       w.AccountID,
			Members:       w.Members,
			Threshold:     w.Threshold,
			Guardian:      w.Guardian,
			Authenticator: w.Authenticator.flatten(),
		}, nil

	case EventTypeMemberAdded:
		var w memberAddedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return MemberAdded{Account: w.AccountID, Member: w.Member, Weight: w.Weight}, nil

	case EventTypeMemberRemoved:
		var w memberRemovedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return MemberRemoved{Account: w.AccountID, Member: w.Member}, nil

	case EventTypeMemberWeightUpdated:
		var w memberWeightUpdatedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return MemberWeightUpdated{Account: w.AccountID, Member: w.Member, NewWeight: w.NewWeight}, nil

	case EventTypeThresholdChanged:
		var w thresholdChangedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return ThresholdChanged{Account: w.AccountID, OldThreshold: w.OldThreshold, NewThreshold: w.NewThreshold}, nil

	case EventTypeGuardianChanged:
		var w guardianChangedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		return GuardianChanged{Account: w.AccountID, NewGuardian: w.NewGuardian}, nil

	case EventTypeTransactionProposed:
		var w transactionProposedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		d, err := decodeDigest(typeName, w.TransactionDigest)
		if err != nil {
			return nil, err
		}
		return TransactionProposed{Account: w.AccountID, Digest: d, Proposer: w.Proposer}, nil

	case EventTypeTransactionApproved:
		var w transactionApprovedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		d, err := decodeDigest(typeName, w.TransactionDigest)
		if err != nil {
			return nil, err
		}
		return TransactionApproved{Account: w.AccountID, Digest: d, Approver: w.Approver, ApproverWeight: w.ApproverWeight}, nil

	case EventTypeTransactionApprovalThresholdReached:
		var w transactionThresholdWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		d, err := decodeDigest(typeName, w.TransactionDigest)
		if err != nil {
			return nil, err
		}
		return TransactionApprovalThresholdReached{
			Account: w.AccountID, Digest: d,
			TotalApprovedWeight: w.TotalApprovedWeight, Threshold: w.Threshold,
		}, nil

	case EventTypeTransactionExecuted:
		var w transactionExecutedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		d, err := decodeDigest(typeName, w.TransactionDigest)
		if err != nil {
			return nil, err
		}
		return TransactionExecuted{Account: w.AccountID, Digest: d}, nil

	case EventTypeTransactionRemoved:
		var w transactionRemovedWire
		if err := decodeTyped(typeName, contents, &w); err != nil {
			return nil, err
		}
		d, err := decodeDigest(typeName, w.TransactionDigest)
		if err != nil {
			return nil, err
		}
		return TransactionRemoved{Account: w.AccountID, Digest: d}, nil

	default:
		return nil, nil
	}
}

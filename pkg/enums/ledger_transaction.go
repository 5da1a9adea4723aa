package enums

import "fmt"

// LedgerTxKind distinguishes the two state-changing contract calls.
type LedgerTxKind string

const (
	LedgerTxKindIssue  LedgerTxKind = "issue"
	LedgerTxKindRevoke LedgerTxKind = "revoke"
)

// IsValid reports whether the value matches the canonical kind enum.
func (k LedgerTxKind) IsValid() bool {
	return k == LedgerTxKindIssue || k == LedgerTxKindRevoke
}

// ParseLedgerTxKind converts raw input into LedgerTxKind.
func ParseLedgerTxKind(value string) (LedgerTxKind, error) {
	switch LedgerTxKind(value) {
	case LedgerTxKindIssue:
		return LedgerTxKindIssue, nil
	case LedgerTxKindRevoke:
		return LedgerTxKindRevoke, nil
	}
	return "", fmt.Errorf("invalid ledger transaction kind %q", value)
}

// LedgerTxStatus tracks confirmation of a submitted ledger call.
type LedgerTxStatus string

const (
	LedgerTxStatusPending   LedgerTxStatus = "pending"
	LedgerTxStatusConfirmed LedgerTxStatus = "confirmed"
	LedgerTxStatusFailed    LedgerTxStatus = "failed"
)

// IsValid reports whether the value matches the canonical status enum.
func (s LedgerTxStatus) IsValid() bool {
	switch s {
	case LedgerTxStatusPending, LedgerTxStatusConfirmed, LedgerTxStatusFailed:
		return true
	}
	return false
}

// ParseLedgerTxStatus converts raw input into LedgerTxStatus.
func ParseLedgerTxStatus(value string) (LedgerTxStatus, error) {
	switch LedgerTxStatus(value) {
	case LedgerTxStatusPending:
		return LedgerTxStatusPending, nil
	case LedgerTxStatusConfirmed:
		return LedgerTxStatusConfirmed, nil
	case LedgerTxStatusFailed:
		return LedgerTxStatusFailed, nil
	}
	return "", fmt.Errorf("invalid ledger transaction status %q", value)
}

package enums

import "fmt"

// ApprovalDecision maps to the approval_decision enum in Postgres.
type ApprovalDecision string

const (
	ApprovalDecisionPending  ApprovalDecision = "pending"
	ApprovalDecisionApproved ApprovalDecision = "approved"
	ApprovalDecisionRejected ApprovalDecision = "rejected"
)

var validApprovalDecisions = []ApprovalDecision{
	ApprovalDecisionPending,
	ApprovalDecisionApproved,
	ApprovalDecisionRejected,
}

// IsValid reports whether the value matches the canonical decision enum.
func (d ApprovalDecision) IsValid() bool {
	for _, candidate := range validApprovalDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseApprovalDecision converts raw input into ApprovalDecision.
func ParseApprovalDecision(value string) (ApprovalDecision, error) {
	for _, candidate := range validApprovalDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid approval decision %q", value)
}

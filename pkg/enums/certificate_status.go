package enums

import "fmt"

// CertificateStatus maps to the certificate_status enum in Postgres.
type CertificateStatus string

const (
	CertificateStatusPending  CertificateStatus = "pending"
	CertificateStatusApproved CertificateStatus = "approved"
	CertificateStatusRejected CertificateStatus = "rejected"
	CertificateStatusIssued   CertificateStatus = "issued"
	CertificateStatusRevoked  CertificateStatus = "revoked"
)

var validCertificateStatuses = []CertificateStatus{
	CertificateStatusPending,
	CertificateStatusApproved,
	CertificateStatusRejected,
	CertificateStatusIssued,
	CertificateStatusRevoked,
}

// legalCertificateTransitions encodes the only edges the lifecycle allows.
var legalCertificateTransitions = map[CertificateStatus][]CertificateStatus{
	CertificateStatusPending:  {CertificateStatusApproved, CertificateStatusRejected},
	CertificateStatusApproved: {CertificateStatusIssued},
	CertificateStatusIssued:   {CertificateStatusRevoked},
}

// IsValid reports whether the value matches the canonical status enum.
func (s CertificateStatus) IsValid() bool {
	for _, candidate := range validCertificateStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving to target.
func (s CertificateStatus) CanTransitionTo(target CertificateStatus) bool {
	for _, candidate := range legalCertificateTransitions[s] {
		if candidate == target {
			return true
		}
	}
	return false
}

// ParseCertificateStatus converts raw input into CertificateStatus.
func ParseCertificateStatus(value string) (CertificateStatus, error) {
	for _, candidate := range validCertificateStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid certificate status %q", value)
}

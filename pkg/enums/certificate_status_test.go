package enums

import "testing"

func TestCertificateStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to CertificateStatus
		allowed  bool
	}{
		{CertificateStatusPending, CertificateStatusApproved, true},
		{CertificateStatusPending, CertificateStatusRejected, true},
		{CertificateStatusPending, CertificateStatusIssued, false},
		{CertificateStatusApproved, CertificateStatusIssued, true},
		{CertificateStatusApproved, CertificateStatusRevoked, false},
		{CertificateStatusIssued, CertificateStatusRevoked, true},
		{CertificateStatusIssued, CertificateStatusApproved, false},
		{CertificateStatusRejected, CertificateStatusApproved, false},
		{CertificateStatusRevoked, CertificateStatusIssued, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestParseCertificateStatus(t *testing.T) {
	status, err := ParseCertificateStatus("issued")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if status != CertificateStatusIssued {
		t.Fatalf("expected issued, got %s", status)
	}
	if _, err := ParseCertificateStatus("shredded"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

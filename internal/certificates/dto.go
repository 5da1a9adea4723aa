package certificates

import (
	"time"

	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

// RequestInput carries everything needed to open a certificate request.
type RequestInput struct {
	StudentID          int64
	CertificateTypeID  int64
	AchievementPayload types.JSONMap
	ActorID            int64
}

// DecisionInput carries an approve/reject decision on a pending certificate.
type DecisionInput struct {
	CertificateID int64
	ActorID       int64
	Comment       string
}

// BatchDecisionResult reports one item of a batch approval.
type BatchDecisionResult struct {
	CertificateID int64  `json:"certificate_id"`
	Approved      bool   `json:"approved"`
	Error         string `json:"error,omitempty"`
}

// IssueInput anchors an approved certificate on the ledger. An empty
// Destination selects custodial issuance when a custodial address is
// configured.
type IssueInput struct {
	CertificateID int64
	Destination   string
}

// IssueResult echoes the proof established on the ledger.
type IssueResult struct {
	CertificateID int64     `json:"certificate_id"`
	ProofHash     string    `json:"proof_hash"`
	ContentID     string    `json:"content_id"`
	TxID          string    `json:"tx_id"`
	BlockNumber   uint64    `json:"block_number"`
	IssuedAt      time.Time `json:"issued_at"`
	// ContentDegraded marks an issuance whose document only has a local
	// digest because the content store was unreachable.
	ContentDegraded bool `json:"content_degraded,omitempty"`
	// Custodial marks issuance to the institution's custodial address.
	Custodial bool `json:"custodial,omitempty"`
}

// RevokeResult echoes the ledger-side revocation.
type RevokeResult struct {
	CertificateID int64     `json:"certificate_id"`
	ProofHash     string    `json:"proof_hash"`
	TxID          string    `json:"tx_id"`
	BlockNumber   uint64    `json:"block_number"`
	RevokedAt     time.Time `json:"revoked_at"`
}

// VerificationView combines the on-ledger record with the relational record
// for a proof hash. Either side can be absent.
type VerificationView struct {
	ProofHash   string               `json:"proof_hash"`
	Valid       bool                 `json:"valid"`
	Ledger      *ledger.ProofRecord  `json:"ledger,omitempty"`
	Certificate *models.Certificate  `json:"certificate,omitempty"`
	// Consistent is false when the two systems disagree (e.g. the ledger
	// shows the proof but the record store does not know it yet).
	Consistent bool `json:"consistent"`
}

// ListFilters narrows the certificate list.
type ListFilters struct {
	StudentID         *int64
	CertificateTypeID *int64
	CreatedBy         *int64
	Status            *enums.CertificateStatus
}

// CertificateList wraps one page of certificates plus the next cursor.
type CertificateList struct {
	Certificates []models.Certificate `json:"certificates"`
	NextCursor   string               `json:"next_cursor,omitempty"`
}

// Detail is a certificate plus its append-only approval history.
type Detail struct {
	Certificate models.Certificate           `json:"certificate"`
	Approvals   []models.CertificateApproval `json:"approvals"`
}

// StatusStats counts certificates per lifecycle state.
type StatusStats struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Issued   int64 `json:"issued"`
	Revoked  int64 `json:"revoked"`
	Total    int64 `json:"total"`
}

// StudentView joins the record store's certificates with the ledger's proof
// list for one student. LedgerDegraded marks a ledger that could not answer.
type StudentView struct {
	StudentID      int64                `json:"student_id"`
	Certificates   []models.Certificate `json:"certificates"`
	LedgerProofs   []string             `json:"ledger_proofs"`
	LedgerDegraded bool                 `json:"ledger_degraded,omitempty"`
}

package models

import (
	"time"

	"github.com/veridia-labs/certledger-backend/pkg/enums"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

// Certificate is the authoritative relational record of one credential.
// ProofHash and ContentID are either both set (issued on the ledger) or both
// null; the orchestrator enforces that invariant.
type Certificate struct {
	ID                 int64                   `gorm:"column:id;primaryKey;autoIncrement"`
	StudentID          int64                   `gorm:"column:student_id;not null;index"`
	CertificateTypeID  int64                   `gorm:"column:certificate_type_id;not null;index"`
	AchievementPayload types.JSONMap           `gorm:"column:achievement_payload;type:jsonb;serializer:json"`
	Status             enums.CertificateStatus `gorm:"column:status;type:certificate_status;not null;default:'pending';index"`
	ContentID          *string                 `gorm:"column:content_id"`
	ProofHash          *string                 `gorm:"column:proof_hash;uniqueIndex"`
	TxRef              *string                 `gorm:"column:tx_ref"`
	CreatedBy          int64                   `gorm:"column:created_by;not null"`
	ApprovedBy         *int64                  `gorm:"column:approved_by"`
	Metadata           types.JSONMap           `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	ApprovedAt         *time.Time              `gorm:"column:approved_at"`
	IssuedAt           *time.Time              `gorm:"column:issued_at"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`

	Student         *User              `gorm:"foreignKey:StudentID"`
	CertificateType *CertificateType   `gorm:"foreignKey:CertificateTypeID"`
	Creator         *User              `gorm:"foreignKey:CreatedBy"`
	Approver        *User              `gorm:"foreignKey:ApprovedBy"`
	Approvals       []CertificateApproval `gorm:"foreignKey:CertificateID;constraint:OnDelete:CASCADE"`
	Transactions    []LedgerTransaction   `gorm:"foreignKey:CertificateID;constraint:OnDelete:CASCADE"`
}

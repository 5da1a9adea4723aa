package models

import (
	"time"

	"github.com/veridia-labs/certledger-backend/pkg/enums"
)

// CertificateApproval is an append-only audit row; one per human decision in
// the lifecycle. Rows are never updated or deleted.
type CertificateApproval struct {
	ID            int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	CertificateID int64                  `gorm:"column:certificate_id;not null;index"`
	ActorID       int64                  `gorm:"column:actor_id;not null"`
	Decision      enums.ApprovalDecision `gorm:"column:decision;type:approval_decision;not null"`
	Comment       *string                `gorm:"column:comment"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`

	Actor *User `gorm:"foreignKey:ActorID"`
}

package models

import (
	"time"

	"github.com/veridia-labs/certledger-backend/pkg/enums"
)

// LedgerTransaction records one submitted contract call. TxID is unique so
// confirmations arriving from multiple paths (issue flow, event listener,
// sweep) upsert the same row instead of duplicating it.
type LedgerTransaction struct {
	ID            int64                `gorm:"column:id;primaryKey;autoIncrement"`
	CertificateID int64                `gorm:"column:certificate_id;not null;index"`
	TxID          string               `gorm:"column:tx_id;not null;uniqueIndex"`
	Kind          enums.LedgerTxKind   `gorm:"column:kind;type:ledger_tx_kind;not null"`
	GasUsed       *int64               `gorm:"column:gas_used"`
	GasPrice      *string              `gorm:"column:gas_price"`
	Status        enums.LedgerTxStatus `gorm:"column:status;type:ledger_tx_status;not null;default:'pending';index"`
	BlockNumber   *uint64              `gorm:"column:block_number"`
	BlockHash     *string              `gorm:"column:block_hash"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	ConfirmedAt   *time.Time           `gorm:"column:confirmed_at"`
}

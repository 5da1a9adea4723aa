package certificates

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	"github.com/veridia-labs/certledger-backend/pkg/pagination"
)

// Repository defines persistence operations for the certificate tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateCertificate(ctx context.Context, certificate *models.Certificate) error
	FindCertificate(ctx context.Context, id int64) (*models.Certificate, error)
	FindCertificateByProofHash(ctx context.Context, proofHash string) (*models.Certificate, error)
	ListCertificates(ctx context.Context, filters ListFilters, params pagination.Params) (*CertificateList, error)
	ListCertificatesByStudent(ctx context.Context, studentID int64) ([]models.Certificate, error)
	CountCertificatesByStatus(ctx context.Context) (map[enums.CertificateStatus]int64, error)

	// UpdateCertificateStatus performs the conditional transition write: the
	// row moves to the target status (plus updates) only if it still holds the
	// expected current status. Returns false when the guard did not match.
	UpdateCertificateStatus(ctx context.Context, id int64, from, to enums.CertificateStatus, updates map[string]any) (bool, error)

	FindCertificateType(ctx context.Context, id int64) (*models.CertificateType, error)
	ListCertificateTypes(ctx context.Context, activeOnly bool) ([]models.CertificateType, error)

	FindUser(ctx context.Context, id int64) (*models.User, error)

	CreateApproval(ctx context.Context, approval *models.CertificateApproval) error
	ListApprovals(ctx context.Context, certificateID int64) ([]models.CertificateApproval, error)

	// UpsertLedgerTransaction inserts or updates by tx_id, so confirmations
	// arriving from the issue flow, the event listener, and the sweep collapse
	// onto one row.
	UpsertLedgerTransaction(ctx context.Context, tx *models.LedgerTransaction) error
	FindLedgerTransaction(ctx context.Context, txID string) (*models.LedgerTransaction, error)
	FindPendingTransactions(ctx context.Context, certificateID int64, kind enums.LedgerTxKind) ([]models.LedgerTransaction, error)
	ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]models.LedgerTransaction, error)
}

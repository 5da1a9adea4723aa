package certificates

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	"github.com/veridia-labs/certledger-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a certificates repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateCertificate(ctx context.Context, certificate *models.Certificate) error {
	return r.db.WithContext(ctx).Create(certificate).Error
}

func (r *repository) FindCertificate(ctx context.Context, id int64) (*models.Certificate, error) {
	var certificate models.Certificate
	err := r.db.WithContext(ctx).
		Preload("Student").
		Preload("CertificateType").
		Where("id = ?", id).
		First(&certificate).Error
	if err != nil {
		return nil, err
	}
	return &certificate, nil
}

func (r *repository) FindCertificateByProofHash(ctx context.Context, proofHash string) (*models.Certificate, error) {
	var certificate models.Certificate
	err := r.db.WithContext(ctx).
		Preload("Student").
		Preload("CertificateType").
		Where("proof_hash = ?", proofHash).
		First(&certificate).Error
	if err != nil {
		return nil, err
	}
	return &certificate, nil
}

func (r *repository) ListCertificates(ctx context.Context, filters ListFilters, params pagination.Params) (*CertificateList, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Model(&models.Certificate{}).
		Preload("Student").
		Preload("CertificateType")

	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.CertificateTypeID != nil {
		query = query.Where("certificate_type_id = ?", *filters.CertificateTypeID)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Certificate
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	list := &CertificateList{}
	pageSize := pagination.NormalizeLimit(params.Limit)
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	list.Certificates = rows
	return list, nil
}

func (r *repository) ListCertificatesByStudent(ctx context.Context, studentID int64) ([]models.Certificate, error) {
	var rows []models.Certificate
	err := r.db.WithContext(ctx).
		Preload("CertificateType").
		Where("student_id = ?", studentID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountCertificatesByStatus(ctx context.Context) (map[enums.CertificateStatus]int64, error) {
	type statusCount struct {
		Status enums.CertificateStatus
		Count  int64
	}
	var counts []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.Certificate{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Find(&counts).Error
	if err != nil {
		return nil, err
	}

	result := make(map[enums.CertificateStatus]int64, len(counts))
	for _, row := range counts {
		result[row.Status] = row.Count
	}
	return result, nil
}

func (r *repository) UpdateCertificateStatus(ctx context.Context, id int64, from, to enums.CertificateStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for column, value := range updates {
		values[column] = value
	}

	res := r.db.WithContext(ctx).
		Model(&models.Certificate{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindCertificateType(ctx context.Context, id int64) (*models.CertificateType, error) {
	var certificateType models.CertificateType
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&certificateType).Error
	if err != nil {
		return nil, err
	}
	return &certificateType, nil
}

func (r *repository) ListCertificateTypes(ctx context.Context, activeOnly bool) ([]models.CertificateType, error) {
	query := r.db.WithContext(ctx).Model(&models.CertificateType{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var rows []models.CertificateType
	if err := query.Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) CreateApproval(ctx context.Context, approval *models.CertificateApproval) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

func (r *repository) ListApprovals(ctx context.Context, certificateID int64) ([]models.CertificateApproval, error) {
	var rows []models.CertificateApproval
	err := r.db.WithContext(ctx).
		Preload("Actor").
		Where("certificate_id = ?", certificateID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpsertLedgerTransaction(ctx context.Context, tx *models.LedgerTransaction) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tx_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "gas_used", "gas_price", "block_number", "block_hash", "confirmed_at",
			}),
		}).
		Create(tx).Error
}

func (r *repository) FindLedgerTransaction(ctx context.Context, txID string) (*models.LedgerTransaction, error) {
	var row models.LedgerTransaction
	err := r.db.WithContext(ctx).Where("tx_id = ?", txID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindPendingTransactions(ctx context.Context, certificateID int64, kind enums.LedgerTxKind) ([]models.LedgerTransaction, error) {
	var rows []models.LedgerTransaction
	err := r.db.WithContext(ctx).
		Where("certificate_id = ? AND kind = ? AND status = ?", certificateID, kind, enums.LedgerTxStatusPending).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]models.LedgerTransaction, error) {
	var rows []models.LedgerTransaction
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.LedgerTxStatusPending, olderThan).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

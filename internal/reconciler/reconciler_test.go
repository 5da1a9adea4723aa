package reconciler

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/pagination"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

type stubRepo struct {
	certs map[int64]*models.Certificate
	txs   map[string]*models.LedgerTransaction

	listStaleErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		certs: map[int64]*models.Certificate{},
		txs:   map[string]*models.LedgerTransaction{},
	}
}

func (s *stubRepo) seedCertificate(id int64, status enums.CertificateStatus) *models.Certificate {
	certificate := &models.Certificate{
		ID:                 id,
		StudentID:          42,
		CertificateTypeID:  1,
		AchievementPayload: types.JSONMap{"gpa": 3.9},
		Status:             status,
		CreatedBy:          7,
		Metadata:           types.JSONMap{},
		CreatedAt:          time.Now().UTC(),
	}
	s.certs[id] = certificate
	return certificate
}

func (s *stubRepo) seedPendingTx(certificateID int64, txID string, kind enums.LedgerTxKind, createdAt time.Time) *models.LedgerTransaction {
	tx := &models.LedgerTransaction{
		ID:            int64(len(s.txs) + 1),
		CertificateID: certificateID,
		TxID:          txID,
		Kind:          kind,
		Status:        enums.LedgerTxStatusPending,
		CreatedAt:     createdAt,
	}
	s.txs[txID] = tx
	return tx
}

func (s *stubRepo) WithTx(tx *gorm.DB) certificates.Repository { return s }

func (s *stubRepo) FindCertificate(ctx context.Context, id int64) (*models.Certificate, error) {
	certificate, ok := s.certs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *certificate
	return &copied, nil
}

func (s *stubRepo) FindCertificateByProofHash(ctx context.Context, proofHash string) (*models.Certificate, error) {
	for _, certificate := range s.certs {
		if certificate.ProofHash != nil && *certificate.ProofHash == proofHash {
			copied := *certificate
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) UpdateCertificateStatus(ctx context.Context, id int64, from, to enums.CertificateStatus, updates map[string]any) (bool, error) {
	certificate, ok := s.certs[id]
	if !ok || certificate.Status != from {
		return false, nil
	}
	certificate.Status = to
	for column, value := range updates {
		switch column {
		case "proof_hash":
			hash := value.(string)
			certificate.ProofHash = &hash
		case "content_id":
			contentID := value.(string)
			certificate.ContentID = &contentID
		case "tx_ref":
			txRef := value.(string)
			certificate.TxRef = &txRef
		case "issued_at":
			at := value.(time.Time)
			certificate.IssuedAt = &at
		case "metadata":
			certificate.Metadata = value.(types.JSONMap)
		}
	}
	return true, nil
}

func (s *stubRepo) UpsertLedgerTransaction(ctx context.Context, tx *models.LedgerTransaction) error {
	if existing, ok := s.txs[tx.TxID]; ok {
		existing.Status = tx.Status
		existing.BlockNumber = tx.BlockNumber
		existing.ConfirmedAt = tx.ConfirmedAt
		return nil
	}
	copied := *tx
	s.txs[tx.TxID] = &copied
	return nil
}

func (s *stubRepo) FindLedgerTransaction(ctx context.Context, txID string) (*models.LedgerTransaction, error) {
	tx, ok := s.txs[txID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *stubRepo) ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]models.LedgerTransaction, error) {
	if s.listStaleErr != nil {
		return nil, s.listStaleErr
	}
	var rows []models.LedgerTransaction
	for _, tx := range s.txs {
		if tx.Status == enums.LedgerTxStatusPending && tx.CreatedAt.Before(olderThan) {
			rows = append(rows, *tx)
		}
	}
	return rows, nil
}

func (s *stubRepo) CreateCertificate(context.Context, *models.Certificate) error {
	panic("not implemented")
}

func (s *stubRepo) ListCertificates(context.Context, certificates.ListFilters, pagination.Params) (*certificates.CertificateList, error) {
	panic("not implemented")
}

func (s *stubRepo) ListCertificatesByStudent(context.Context, int64) ([]models.Certificate, error) {
	panic("not implemented")
}

func (s *stubRepo) CountCertificatesByStatus(context.Context) (map[enums.CertificateStatus]int64, error) {
	panic("not implemented")
}

func (s *stubRepo) FindCertificateType(context.Context, int64) (*models.CertificateType, error) {
	panic("not implemented")
}

func (s *stubRepo) ListCertificateTypes(context.Context, bool) ([]models.CertificateType, error) {
	panic("not implemented")
}

func (s *stubRepo) FindUser(context.Context, int64) (*models.User, error) {
	panic("not implemented")
}

func (s *stubRepo) CreateApproval(context.Context, *models.CertificateApproval) error {
	panic("not implemented")
}

func (s *stubRepo) ListApprovals(context.Context, int64) ([]models.CertificateApproval, error) {
	panic("not implemented")
}

func (s *stubRepo) FindPendingTransactions(context.Context, int64, enums.LedgerTxKind) ([]models.LedgerTransaction, error) {
	panic("not implemented")
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubGateway struct {
	receipts   map[string]*ledger.Receipt
	receiptErr error
	verifyFn   func(proofHash string) (*ledger.Verification, error)
}

func (s *stubGateway) Receipt(ctx context.Context, txID string) (*ledger.Receipt, error) {
	if s.receiptErr != nil {
		return nil, s.receiptErr
	}
	return s.receipts[txID], nil
}

func (s *stubGateway) Verify(ctx context.Context, proofHash string) (*ledger.Verification, error) {
	if s.verifyFn != nil {
		return s.verifyFn(proofHash)
	}
	return &ledger.Verification{Valid: false}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "reconciler-test", Level: zerolog.Disabled, Output: io.Discard})
}

func newTestReconciler(t *testing.T, repo *stubRepo, gateway *stubGateway) *Reconciler {
	t.Helper()
	rec, err := New(repo, stubTx{}, gateway, testLogger(), nil)
	require.NoError(t, err)
	return rec
}

func issuedEvent(proofHash, txID string) ledger.Event {
	return ledger.Event{
		Kind:        ledger.EventKindIssued,
		ProofHash:   proofHash,
		StudentID:   "42",
		ContentID:   "QmDoc",
		TxID:        txID,
		BlockNumber: 90,
		OccurredAt:  time.Now().UTC(),
	}
}

func TestApplyIssuedEventRepairsApprovedCertificate(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	// The issue flow anchored the submission but died before finalizing.
	repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	rec := newTestReconciler(t, repo, &stubGateway{})

	err := rec.ApplyEvent(context.Background(), issuedEvent("0xproof", "tx-1"))
	require.NoError(t, err)

	certificate := repo.certs[1]
	assert.Equal(t, enums.CertificateStatusIssued, certificate.Status)
	require.NotNil(t, certificate.ProofHash)
	assert.Equal(t, "0xproof", *certificate.ProofHash)
	require.NotNil(t, certificate.ContentID)
	assert.Equal(t, "QmDoc", *certificate.ContentID)
	assert.Equal(t, "listener", certificate.Metadata["reconciled_by"])
	assert.Equal(t, enums.LedgerTxStatusConfirmed, repo.txs["tx-1"].Status)
}

func TestApplyIssuedEventIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	rec := newTestReconciler(t, repo, &stubGateway{})

	event := issuedEvent("0xproof", "tx-1")
	require.NoError(t, rec.ApplyEvent(context.Background(), event))
	require.NoError(t, rec.ApplyEvent(context.Background(), event))

	assert.Equal(t, enums.CertificateStatusIssued, repo.certs[1].Status)
	assert.Len(t, repo.txs, 1, "re-applying the event never duplicates transaction rows")
}

func TestApplyIssuedEventWithoutMatchingCertificate(t *testing.T) {
	repo := newStubRepo()
	rec := newTestReconciler(t, repo, &stubGateway{})

	err := rec.ApplyEvent(context.Background(), issuedEvent("0xforeign", "tx-unknown"))
	require.NoError(t, err)
	assert.Empty(t, repo.certs)
}

func TestApplyRevokedEvent(t *testing.T) {
	repo := newStubRepo()
	certificate := repo.seedCertificate(1, enums.CertificateStatusIssued)
	proof := "0xproof"
	certificate.ProofHash = &proof
	rec := newTestReconciler(t, repo, &stubGateway{})

	err := rec.ApplyEvent(context.Background(), ledger.Event{
		Kind:        ledger.EventKindRevoked,
		ProofHash:   proof,
		StudentID:   "42",
		TxID:        "tx-2",
		BlockNumber: 95,
		OccurredAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, enums.CertificateStatusRevoked, repo.certs[1].Status)
	assert.Equal(t, "listener", repo.certs[1].Metadata["reconciled_by"])
	assert.NotEmpty(t, repo.certs[1].Metadata["revoked_at"])
	assert.Equal(t, enums.LedgerTxStatusConfirmed, repo.txs["tx-2"].Status)
}

func TestResolveTransactionStillUnconfirmed(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	pendingTx := repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	rec := newTestReconciler(t, repo, &stubGateway{receipts: map[string]*ledger.Receipt{}})

	require.NoError(t, rec.ResolveTransaction(context.Background(), *pendingTx))
	assert.Equal(t, enums.LedgerTxStatusPending, repo.txs["tx-1"].Status)
	assert.Equal(t, enums.CertificateStatusApproved, repo.certs[1].Status)
}

func TestResolveTransactionRevertedMarksFailed(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	pendingTx := repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	gateway := &stubGateway{receipts: map[string]*ledger.Receipt{
		"tx-1": {TxID: "tx-1", Status: ledger.ReceiptStatusReverted},
	}}
	rec := newTestReconciler(t, repo, gateway)

	require.NoError(t, rec.ResolveTransaction(context.Background(), *pendingTx))
	assert.Equal(t, enums.LedgerTxStatusFailed, repo.txs["tx-1"].Status)
	assert.Equal(t, enums.CertificateStatusApproved, repo.certs[1].Status, "a reverted call never issues")
}

func TestResolveTransactionIncludedRepairsCertificate(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	pendingTx := repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	gateway := &stubGateway{
		receipts: map[string]*ledger.Receipt{
			"tx-1": {TxID: "tx-1", BlockNumber: 90, Status: ledger.ReceiptStatusIncluded, ProofHash: "0xproof"},
		},
		verifyFn: func(proofHash string) (*ledger.Verification, error) {
			return &ledger.Verification{
				Valid:  true,
				Record: &ledger.ProofRecord{ContentID: "QmFromLedger", IsValid: true},
			}, nil
		},
	}
	rec := newTestReconciler(t, repo, gateway)

	require.NoError(t, rec.ResolveTransaction(context.Background(), *pendingTx))

	certificate := repo.certs[1]
	assert.Equal(t, enums.CertificateStatusIssued, certificate.Status)
	require.NotNil(t, certificate.ProofHash)
	assert.Equal(t, "0xproof", *certificate.ProofHash)
	require.NotNil(t, certificate.ContentID)
	assert.Equal(t, "QmFromLedger", *certificate.ContentID, "content id recovered from the ledger record")
	assert.Equal(t, "sweep", certificate.Metadata["reconciled_by"])
	assert.Equal(t, enums.LedgerTxStatusConfirmed, repo.txs["tx-1"].Status)
}

func TestResolveTransactionWithoutLedgerRecordLeavesContentIDUnset(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	pendingTx := repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	gateway := &stubGateway{
		receipts: map[string]*ledger.Receipt{
			"tx-1": {TxID: "tx-1", BlockNumber: 90, Status: ledger.ReceiptStatusIncluded, ProofHash: "0xproof"},
		},
		verifyFn: func(proofHash string) (*ledger.Verification, error) {
			return nil, fmt.Errorf("node down")
		},
	}
	rec := newTestReconciler(t, repo, gateway)

	require.NoError(t, rec.ResolveTransaction(context.Background(), *pendingTx))

	certificate := repo.certs[1]
	assert.Equal(t, enums.CertificateStatusIssued, certificate.Status)
	require.NotNil(t, certificate.ProofHash)
	assert.Equal(t, "0xproof", *certificate.ProofHash)
	assert.Nil(t, certificate.ContentID, "an unresolved content id stays unset rather than empty")
	assert.Equal(t, enums.LedgerTxStatusConfirmed, repo.txs["tx-1"].Status)
}

func TestResolveTransactionAlreadyConverged(t *testing.T) {
	repo := newStubRepo()
	certificate := repo.seedCertificate(1, enums.CertificateStatusIssued)
	proof := "0xproof"
	certificate.ProofHash = &proof
	pendingTx := repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, time.Now().UTC())
	gateway := &stubGateway{receipts: map[string]*ledger.Receipt{
		"tx-1": {TxID: "tx-1", BlockNumber: 90, Status: ledger.ReceiptStatusIncluded, ProofHash: proof},
	}}
	rec := newTestReconciler(t, repo, gateway)

	require.NoError(t, rec.ResolveTransaction(context.Background(), *pendingTx))
	assert.Equal(t, enums.CertificateStatusIssued, repo.certs[1].Status)
	assert.Equal(t, enums.LedgerTxStatusConfirmed, repo.txs["tx-1"].Status, "the lingering pending row converges")
}

func TestSweepJobResolvesStaleSubmissions(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	repo.seedCertificate(2, enums.CertificateStatusApproved)
	old := time.Now().UTC().Add(-time.Hour)
	repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, old)
	repo.seedPendingTx(2, "tx-2", enums.LedgerTxKindIssue, old)
	// Fresh submission stays out of the sweep window.
	repo.seedCertificate(3, enums.CertificateStatusApproved)
	repo.seedPendingTx(3, "tx-3", enums.LedgerTxKindIssue, time.Now().UTC())

	gateway := &stubGateway{receipts: map[string]*ledger.Receipt{
		"tx-1": {TxID: "tx-1", BlockNumber: 90, Status: ledger.ReceiptStatusIncluded, ProofHash: "0xone"},
		"tx-2": {TxID: "tx-2", Status: ledger.ReceiptStatusReverted},
	}}
	rec := newTestReconciler(t, repo, gateway)

	job, err := NewSweepJob(SweepJobParams{
		Logger:       testLogger(),
		Reconciler:   rec,
		Repository:   repo,
		PendingTxAge: 30 * time.Minute,
		BatchSize:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, "ledger-tx-sweep", job.Name())

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, enums.CertificateStatusIssued, repo.certs[1].Status)
	assert.Equal(t, enums.LedgerTxStatusConfirmed, repo.txs["tx-1"].Status)
	assert.Equal(t, enums.LedgerTxStatusFailed, repo.txs["tx-2"].Status)
	assert.Equal(t, enums.CertificateStatusApproved, repo.certs[2].Status)
	assert.Equal(t, enums.LedgerTxStatusPending, repo.txs["tx-3"].Status, "fresh submissions are untouched")
}

func TestSweepJobAggregatesErrors(t *testing.T) {
	repo := newStubRepo()
	repo.seedCertificate(1, enums.CertificateStatusApproved)
	old := time.Now().UTC().Add(-time.Hour)
	repo.seedPendingTx(1, "tx-1", enums.LedgerTxKindIssue, old)
	gateway := &stubGateway{receiptErr: fmt.Errorf("node down")}
	rec := newTestReconciler(t, repo, gateway)

	job, err := NewSweepJob(SweepJobParams{
		Logger:       testLogger(),
		Reconciler:   rec,
		Repository:   repo,
		PendingTxAge: 30 * time.Minute,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx-1")
}

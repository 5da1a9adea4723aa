package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/metrics"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the ledger surface the reconciler reads from.
type Gateway interface {
	Receipt(ctx context.Context, txID string) (*ledger.Receipt, error)
	Verify(ctx context.Context, proofHash string) (*ledger.Verification, error)
}

// Reconciler converges the record store onto the ledger's confirmed state.
// Once a write is included, the ledger is the source of truth for issuance
// and revocation facts; the reconciler is the only component allowed to move
// a certificate to issued/revoked without a direct API call.
type Reconciler struct {
	repo    certificates.Repository
	tx      txRunner
	ledger  Gateway
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// New builds a reconciler over the shared repository and ledger gateway.
func New(repo certificates.Repository, tx txRunner, gateway Gateway, logg *logger.Logger, m *metrics.LedgerMetrics) (*Reconciler, error) {
	if repo == nil {
		return nil, fmt.Errorf("certificates repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("ledger gateway required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Reconciler{repo: repo, tx: tx, ledger: gateway, logg: logg, metrics: m}, nil
}

// issuanceFact is everything needed to mark a certificate issued from
// ledger-side evidence (an event or a resolved receipt).
type issuanceFact struct {
	ProofHash   string
	ContentID   string
	TxID        string
	BlockNumber uint64
	OccurredAt  time.Time
	Source      string
}

// ApplyEvent folds one contract event into the record store. Safe to call
// with the same event more than once; re-application is a no-op.
func (r *Reconciler) ApplyEvent(ctx context.Context, event ledger.Event) error {
	switch event.Kind {
	case ledger.EventKindIssued:
		return r.applyIssued(ctx, event)
	case ledger.EventKindRevoked:
		return r.applyRevoked(ctx, event)
	default:
		r.logg.Warn(r.logg.WithField(ctx, "kind", string(event.Kind)), "ignoring unknown ledger event kind")
		return nil
	}
}

func (r *Reconciler) applyIssued(ctx context.Context, event ledger.Event) error {
	certificate, err := r.findTarget(ctx, event.ProofHash, event.TxID)
	if err != nil {
		return err
	}
	if certificate == nil {
		// Issued by another party on the shared contract, or a record this
		// deployment never created. Nothing to converge.
		r.logg.Info(r.logg.WithProofHash(ctx, event.ProofHash), "issued event has no matching certificate")
		return nil
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return r.markIssued(ctx, certificate, issuanceFact{
		ProofHash:   event.ProofHash,
		ContentID:   event.ContentID,
		TxID:        event.TxID,
		BlockNumber: event.BlockNumber,
		OccurredAt:  occurredAt,
		Source:      "listener",
	})
}

func (r *Reconciler) applyRevoked(ctx context.Context, event ledger.Event) error {
	certificate, err := r.findTarget(ctx, event.ProofHash, event.TxID)
	if err != nil {
		return err
	}
	if certificate == nil {
		r.logg.Info(r.logg.WithProofHash(ctx, event.ProofHash), "revoked event has no matching certificate")
		return nil
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return r.markRevoked(ctx, certificate, event.TxID, event.BlockNumber, occurredAt, "listener")
}

// ResolveTransaction re-queries the ledger for one stale pending submission
// and folds the outcome into the record store. A receipt that has not landed
// yet leaves the row pending for the next sweep.
func (r *Reconciler) ResolveTransaction(ctx context.Context, pendingTx models.LedgerTransaction) error {
	ctx = r.logg.WithField(ctx, "tx_id", pendingTx.TxID)

	receipt, err := r.ledger.Receipt(ctx, pendingTx.TxID)
	if err != nil {
		return fmt.Errorf("query receipt for %s: %w", pendingTx.TxID, err)
	}
	if receipt == nil {
		r.logg.Info(ctx, "submission still unconfirmed; leaving pending")
		return nil
	}
	if receipt.Status == ledger.ReceiptStatusReverted {
		return r.markFailed(ctx, pendingTx)
	}

	certificate, err := r.repo.FindCertificate(ctx, pendingTx.CertificateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logg.Warn(ctx, "confirmed submission references a missing certificate")
			return nil
		}
		return fmt.Errorf("load certificate %d: %w", pendingTx.CertificateID, err)
	}

	switch pendingTx.Kind {
	case enums.LedgerTxKindIssue:
		proofHash := receipt.ProofHash
		if proofHash == "" {
			r.logg.Warn(ctx, "included issue receipt carries no proof hash; skipping")
			return nil
		}
		contentID := ""
		if certificate.ContentID != nil {
			contentID = *certificate.ContentID
		}
		if contentID == "" {
			contentID = r.ledgerContentID(ctx, proofHash)
		}
		return r.markIssued(ctx, certificate, issuanceFact{
			ProofHash:   proofHash,
			ContentID:   contentID,
			TxID:        receipt.TxID,
			BlockNumber: receipt.BlockNumber,
			OccurredAt:  time.Now().UTC(),
			Source:      "sweep",
		})
	case enums.LedgerTxKindRevoke:
		return r.markRevoked(ctx, certificate, receipt.TxID, receipt.BlockNumber, time.Now().UTC(), "sweep")
	}
	return nil
}

// findTarget locates the certificate an event refers to: by proof hash when
// the store already holds it, otherwise through the anchored transaction row
// (the partial-failure case, where the proof never reached the store).
func (r *Reconciler) findTarget(ctx context.Context, proofHash, txID string) (*models.Certificate, error) {
	certificate, err := r.repo.FindCertificateByProofHash(ctx, proofHash)
	if err == nil {
		return certificate, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find certificate by proof hash: %w", err)
	}
	if txID == "" {
		return nil, nil
	}

	row, err := r.repo.FindLedgerTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ledger transaction %s: %w", txID, err)
	}
	certificate, err = r.repo.FindCertificate(ctx, row.CertificateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load certificate %d: %w", row.CertificateID, err)
	}
	return certificate, nil
}

func (r *Reconciler) markIssued(ctx context.Context, certificate *models.Certificate, fact issuanceFact) error {
	if certificate.Status == enums.CertificateStatusIssued || certificate.Status == enums.CertificateStatusRevoked {
		// Already converged; just make sure the transaction row reflects it.
		return r.confirmTx(ctx, certificate.ID, enums.LedgerTxKindIssue, fact.TxID, fact.BlockNumber, fact.OccurredAt)
	}
	if certificate.Status != enums.CertificateStatusApproved {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"certificate_id": certificate.ID,
			"status":         certificate.Status,
		}), "ledger shows issuance for a certificate that was never approved")
		return nil
	}

	metadata := certificate.Metadata
	if metadata == nil {
		metadata = types.JSONMap{}
	}
	metadata["reconciled_by"] = fact.Source

	updates := map[string]any{
		"proof_hash": fact.ProofHash,
		"tx_ref":     fact.TxID,
		"issued_at":  fact.OccurredAt,
		"metadata":   metadata,
	}
	// A fact without a content id leaves the column NULL; an empty string
	// would read as a set identifier.
	if fact.ContentID != "" {
		updates["content_id"] = fact.ContentID
	}

	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		ok, err := repo.UpdateCertificateStatus(ctx, certificate.ID,
			enums.CertificateStatusApproved, enums.CertificateStatusIssued, updates)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to the issue flow or a concurrent pass; nothing
			// left to repair.
			return nil
		}
		return repo.UpsertLedgerTransaction(ctx, &models.LedgerTransaction{
			CertificateID: certificate.ID,
			TxID:          fact.TxID,
			Kind:          enums.LedgerTxKindIssue,
			Status:        enums.LedgerTxStatusConfirmed,
			BlockNumber:   &fact.BlockNumber,
			ConfirmedAt:   &fact.OccurredAt,
		})
	})
	if err != nil {
		return fmt.Errorf("mark certificate %d issued: %w", certificate.ID, err)
	}

	r.metrics.IncReconciled(fact.Source)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"certificate_id": certificate.ID,
		"proof_hash":     fact.ProofHash,
		"source":         fact.Source,
	}), "certificate reconciled to issued")
	return nil
}

func (r *Reconciler) markRevoked(ctx context.Context, certificate *models.Certificate, txID string, blockNumber uint64, occurredAt time.Time, source string) error {
	if certificate.Status == enums.CertificateStatusRevoked {
		return r.confirmTx(ctx, certificate.ID, enums.LedgerTxKindRevoke, txID, blockNumber, occurredAt)
	}
	if certificate.Status != enums.CertificateStatusIssued {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"certificate_id": certificate.ID,
			"status":         certificate.Status,
		}), "ledger shows revocation for a certificate that was never issued")
		return nil
	}

	metadata := certificate.Metadata
	if metadata == nil {
		metadata = types.JSONMap{}
	}
	metadata["revoked_at"] = occurredAt.Format(time.RFC3339)
	metadata["reconciled_by"] = source

	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		ok, err := repo.UpdateCertificateStatus(ctx, certificate.ID,
			enums.CertificateStatusIssued, enums.CertificateStatusRevoked,
			map[string]any{"metadata": metadata})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return repo.UpsertLedgerTransaction(ctx, &models.LedgerTransaction{
			CertificateID: certificate.ID,
			TxID:          txID,
			Kind:          enums.LedgerTxKindRevoke,
			Status:        enums.LedgerTxStatusConfirmed,
			BlockNumber:   &blockNumber,
			ConfirmedAt:   &occurredAt,
		})
	})
	if err != nil {
		return fmt.Errorf("mark certificate %d revoked: %w", certificate.ID, err)
	}

	r.metrics.IncReconciled(source)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"certificate_id": certificate.ID,
		"source":         source,
	}), "certificate reconciled to revoked")
	return nil
}

func (r *Reconciler) confirmTx(ctx context.Context, certificateID int64, kind enums.LedgerTxKind, txID string, blockNumber uint64, confirmedAt time.Time) error {
	if txID == "" {
		return nil
	}
	return r.repo.UpsertLedgerTransaction(ctx, &models.LedgerTransaction{
		CertificateID: certificateID,
		TxID:          txID,
		Kind:          kind,
		Status:        enums.LedgerTxStatusConfirmed,
		BlockNumber:   &blockNumber,
		ConfirmedAt:   &confirmedAt,
	})
}

func (r *Reconciler) markFailed(ctx context.Context, pendingTx models.LedgerTransaction) error {
	row := pendingTx
	row.Status = enums.LedgerTxStatusFailed
	if err := r.repo.UpsertLedgerTransaction(ctx, &row); err != nil {
		return fmt.Errorf("mark transaction %s failed: %w", pendingTx.TxID, err)
	}
	r.logg.Warn(ctx, "stale submission reverted on the ledger")
	return nil
}

// ledgerContentID recovers a content id from the canonical on-ledger record
// when the store never persisted one (partial failure before the write).
func (r *Reconciler) ledgerContentID(ctx context.Context, proofHash string) string {
	verification, err := r.ledger.Verify(ctx, proofHash)
	if err != nil || verification.Record == nil {
		return ""
	}
	return verification.Record.ContentID
}

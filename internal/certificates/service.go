package certificates

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/veridia-labs/certledger-backend/pkg/contentstore"
	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/metrics"
	"github.com/veridia-labs/certledger-backend/pkg/pagination"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LedgerGateway is the contract surface the orchestrator needs from pkg/ledger.
type LedgerGateway interface {
	Ready() bool
	SubmitIssue(ctx context.Context, params ledger.IssueParams) (*ledger.PendingTx, error)
	SubmitRevoke(ctx context.Context, proofHash string) (*ledger.PendingTx, error)
	WaitForInclusion(ctx context.Context, txID string) (*ledger.Receipt, error)
	Receipt(ctx context.Context, txID string) (*ledger.Receipt, error)
	Verify(ctx context.Context, proofHash string) (*ledger.Verification, error)
	StudentProofs(ctx context.Context, studentID string) ([]string, error)
	ContractInfo(ctx context.Context) (*ledger.ContractInfo, error)
}

// ContentStore is the document surface the orchestrator needs from pkg/contentstore.
type ContentStore interface {
	Ready() bool
	Put(ctx context.Context, document types.JSONMap) (*contentstore.PutResult, error)
	Get(ctx context.Context, contentID string) (types.JSONMap, error)
	PublicURL(contentID string) string
}

// Service owns the certificate lifecycle.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Certificate, error)
	Approve(ctx context.Context, input DecisionInput) error
	Reject(ctx context.Context, input DecisionInput) error
	BatchApprove(ctx context.Context, items []DecisionInput) []BatchDecisionResult
	Issue(ctx context.Context, input IssueInput) (*IssueResult, error)
	Revoke(ctx context.Context, certificateID int64) (*RevokeResult, error)
	Verify(ctx context.Context, proofHash string) (*VerificationView, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*CertificateList, error)
	Detail(ctx context.Context, certificateID int64) (*Detail, error)
	Types(ctx context.Context) ([]models.CertificateType, error)
	Stats(ctx context.Context) (*StatusStats, error)
	StudentView(ctx context.Context, studentID int64) (*StudentView, error)
	ContractInfo(ctx context.Context) (*ledger.ContractInfo, error)
}

// Options carries issuance behavior the orchestrator cannot derive from data.
type Options struct {
	// CustodialAddress receives issuance when no destination is supplied.
	// Empty disables custodial mode.
	CustodialAddress string
	InstitutionName  string
}

type service struct {
	repo    Repository
	tx      txRunner
	ledger  LedgerGateway
	content ContentStore
	opts    Options
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewService builds the lifecycle orchestrator with its gateways.
func NewService(repo Repository, tx txRunner, ledgerGW LedgerGateway, content ContentStore, opts Options, logg *logger.Logger, m *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("certificates repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerGW == nil {
		return nil, fmt.Errorf("ledger gateway required")
	}
	if content == nil {
		return nil, fmt.Errorf("content store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		ledger:  ledgerGW,
		content: content,
		opts:    opts,
		logg:    logg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Request(ctx context.Context, input RequestInput) (*models.Certificate, error) {
	if input.StudentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	if input.CertificateTypeID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate type id required")
	}
	if input.ActorID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	if _, err := s.repo.FindUser(ctx, input.StudentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}

	certificateType, err := s.repo.FindCertificateType(ctx, input.CertificateTypeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate type not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate type")
	}
	if !certificateType.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate type is inactive")
	}

	schema, err := ParseAchievementSchema(certificateType.AchievementSchema)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "certificate type schema unreadable")
	}
	if violations := schema.Validate(input.AchievementPayload); len(violations) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "achievement payload does not satisfy the type schema").
			WithDetails(map[string]any{"violations": violations})
	}

	certificate := &models.Certificate{
		StudentID:          input.StudentID,
		CertificateTypeID:  input.CertificateTypeID,
		AchievementPayload: input.AchievementPayload,
		Status:             enums.CertificateStatusPending,
		CreatedBy:          input.ActorID,
		Metadata:           types.JSONMap{},
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateCertificate(ctx, certificate); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create certificate")
		}
		approval := &models.CertificateApproval{
			CertificateID: certificate.ID,
			ActorID:       input.ActorID,
			Decision:      enums.ApprovalDecisionPending,
		}
		if err := repo.CreateApproval(ctx, approval); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create approval record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithCertificateID(ctx, certificate.ID)
	s.logg.Info(s.logg.WithField(ctx, "student_id", input.StudentID), "certificate requested")
	return certificate, nil
}

func (s *service) Approve(ctx context.Context, input DecisionInput) error {
	return s.decide(ctx, input, enums.CertificateStatusApproved)
}

func (s *service) Reject(ctx context.Context, input DecisionInput) error {
	if input.Comment == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "rejection requires a comment")
	}
	return s.decide(ctx, input, enums.CertificateStatusRejected)
}

// decide writes the decision status and its audit row as one transaction:
// readers never observe the status without the matching approval record.
func (s *service) decide(ctx context.Context, input DecisionInput, target enums.CertificateStatus) error {
	if input.CertificateID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "certificate id required")
	}
	if input.ActorID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	decision := enums.ApprovalDecisionApproved
	if target == enums.CertificateStatusRejected {
		decision = enums.ApprovalDecisionRejected
	}

	ctx = s.logg.WithCertificateID(ctx, input.CertificateID)
	now := s.now()

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		certificate, err := repo.FindCertificate(ctx, input.CertificateID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
		}
		if !certificate.Status.CanTransitionTo(target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("certificate is %s, only pending certificates can be decided", certificate.Status)).
				WithDetails(map[string]any{"status": certificate.Status})
		}

		updates := map[string]any{"approved_by": input.ActorID, "approved_at": now}
		ok, err := repo.UpdateCertificateStatus(ctx, certificate.ID, enums.CertificateStatusPending, target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update certificate status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "certificate was decided concurrently")
		}

		comment := input.Comment
		approval := &models.CertificateApproval{
			CertificateID: certificate.ID,
			ActorID:       input.ActorID,
			Decision:      decision,
		}
		if comment != "" {
			approval.Comment = &comment
		}
		if err := repo.CreateApproval(ctx, approval); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create approval record")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithActor(ctx, input.ActorID), fmt.Sprintf("certificate %s", target))
	return nil
}

// BatchApprove applies each decision independently and reports per-item
// results; one bad certificate never fails the rest of the batch.
func (s *service) BatchApprove(ctx context.Context, items []DecisionInput) []BatchDecisionResult {
	results := make([]BatchDecisionResult, 0, len(items))
	for _, item := range items {
		result := BatchDecisionResult{CertificateID: item.CertificateID}
		if err := s.Approve(ctx, item); err != nil {
			result.Error = err.Error()
		} else {
			result.Approved = true
		}
		results = append(results, result)
	}
	return results
}

func (s *service) Issue(ctx context.Context, input IssueInput) (*IssueResult, error) {
	if input.CertificateID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id required")
	}
	ctx = s.logg.WithCertificateID(ctx, input.CertificateID)

	certificate, err := s.loadCertificate(ctx, input.CertificateID)
	if err != nil {
		return nil, err
	}

	// Already issued: return the existing proof instead of re-submitting.
	if certificate.Status == enums.CertificateStatusIssued && certificate.ProofHash != nil {
		result := &IssueResult{
			CertificateID: certificate.ID,
			ProofHash:     *certificate.ProofHash,
		}
		if certificate.ContentID != nil {
			result.ContentID = *certificate.ContentID
		}
		if certificate.TxRef != nil {
			result.TxID = *certificate.TxRef
		}
		if certificate.IssuedAt != nil {
			result.IssuedAt = *certificate.IssuedAt
		}
		return result, nil
	}
	if !certificate.Status.CanTransitionTo(enums.CertificateStatusIssued) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("certificate is %s, only approved certificates can be issued", certificate.Status))
	}
	if !s.ledger.Ready() || !s.content.Ready() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "issuance gateways not ready")
	}

	destination := input.Destination
	custodial := false
	if destination == "" {
		if s.opts.CustodialAddress == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				"destination address required (custodial issuance not configured)")
		}
		destination = s.opts.CustodialAddress
		custodial = true
	}

	// A prior attempt may have landed on the ledger without the record store
	// reflecting it. Resolve that before submitting anything new.
	if result, err := s.adoptPriorIssue(ctx, certificate, custodial); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	document := s.buildDocument(certificate)
	put, err := s.content.Put(ctx, document)
	if err != nil {
		// No ledger call has happened; the certificate is untouched.
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload certificate document")
	}
	if put.Degraded {
		s.metrics.IncDegradedWrite()
	}

	pending, err := s.ledger.SubmitIssue(ctx, ledger.IssueParams{
		Destination:     destination,
		StudentID:       formatStudentID(certificate.StudentID),
		CertificateType: certificate.CertificateType.Name,
		ContentID:       put.ContentID,
	})
	if err != nil {
		s.metrics.IncSubmission("issue", "rejected")
		return nil, err
	}
	s.metrics.IncSubmission("issue", "submitted")
	submittedAt := s.now()

	// Anchor the submission before waiting so the sweep can resolve it if we
	// die or time out past this point.
	s.recordPendingTx(ctx, certificate.ID, pending, enums.LedgerTxKindIssue)

	receipt, err := s.ledger.WaitForInclusion(ctx, pending.TxID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeLedgerRejected) {
			s.markTxFailed(ctx, certificate.ID, pending.TxID, enums.LedgerTxKindIssue)
		}
		return nil, err
	}
	s.metrics.ObserveInclusion("issue", s.now().Sub(submittedAt))

	return s.finalizeIssue(ctx, certificate, receipt, put.ContentID, put.Degraded, custodial)
}

// adoptPriorIssue checks earlier submissions for this certificate. A pending
// transaction whose receipt shows inclusion means the ledger already holds
// the proof; finalize from that receipt instead of double-issuing.
func (s *service) adoptPriorIssue(ctx context.Context, certificate *models.Certificate, custodial bool) (*IssueResult, error) {
	pendingTxs, err := s.repo.FindPendingTransactions(ctx, certificate.ID, enums.LedgerTxKindIssue)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending ledger transactions")
	}

	for _, pendingTx := range pendingTxs {
		receipt, err := s.ledger.Receipt(ctx, pendingTx.TxID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err,
				fmt.Sprintf("resolve prior submission %s", pendingTx.TxID))
		}
		if receipt == nil {
			// Still in flight; let the caller's new attempt wait for it.
			receipt, err = s.ledger.WaitForInclusion(ctx, pendingTx.TxID)
			if err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeLedgerRejected) {
					s.markTxFailed(ctx, certificate.ID, pendingTx.TxID, enums.LedgerTxKindIssue)
					continue
				}
				return nil, err
			}
		}
		if receipt.Status == ledger.ReceiptStatusReverted {
			s.markTxFailed(ctx, certificate.ID, pendingTx.TxID, enums.LedgerTxKindIssue)
			continue
		}
		if receipt.ProofHash == "" {
			continue
		}

		contentID := ""
		if certificate.ContentID != nil {
			contentID = *certificate.ContentID
		}
		s.logg.Info(s.logg.WithProofHash(ctx, receipt.ProofHash), "adopting previously included issuance")
		return s.finalizeIssue(ctx, certificate, receipt, contentID, false, custodial)
	}
	return nil, nil
}

// finalizeIssue persists proof fields and the confirmed transaction row as
// one conditional transaction. Failure here after ledger inclusion is the
// partial-failure case the reconciler repairs.
func (s *service) finalizeIssue(ctx context.Context, certificate *models.Certificate, receipt *ledger.Receipt, contentID string, degraded, custodial bool) (*IssueResult, error) {
	issuedAt := s.now()
	if contentID == "" {
		// Adopted receipts may predate a persisted content id; the event
		// stream carries it, and Verify reads it from the ledger record.
		contentID = receiptContentID(ctx, s.ledger, receipt)
	}

	metadata := certificate.Metadata
	if metadata == nil {
		metadata = types.JSONMap{}
	}
	if custodial {
		metadata["custodial"] = true
	}
	if degraded {
		metadata["content_degraded"] = true
	}

	updates := map[string]any{
		"proof_hash": receipt.ProofHash,
		"tx_ref":     receipt.TxID,
		"issued_at":  issuedAt,
		"metadata":   metadata,
	}
	// An unresolved content id stays NULL; an empty string would read as a
	// set identifier.
	if contentID != "" {
		updates["content_id"] = contentID
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdateCertificateStatus(ctx, certificate.ID,
			enums.CertificateStatusApproved, enums.CertificateStatusIssued, updates)
		if err != nil {
			return err
		}
		if !ok {
			current, loadErr := repo.FindCertificate(ctx, certificate.ID)
			if loadErr != nil {
				return loadErr
			}
			if current.Status == enums.CertificateStatusIssued &&
				current.ProofHash != nil && *current.ProofHash == receipt.ProofHash {
				// A concurrent retry or the reconciler finished first.
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "certificate changed state during issuance")
		}
		return repo.UpsertLedgerTransaction(ctx, confirmedTx(certificate.ID, enums.LedgerTxKindIssue, receipt, issuedAt))
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		s.metrics.IncPartialFailure()
		s.logg.Error(s.logg.WithProofHash(ctx, receipt.ProofHash), "issuance confirmed on ledger but record store write failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodePartialFailure, err,
			"ledger holds the proof but the record store write failed; do not resubmit").
			WithDetails(map[string]any{"tx_id": receipt.TxID, "proof_hash": receipt.ProofHash})
	}

	s.metrics.IncSubmission("issue", "confirmed")
	s.logg.Info(s.logg.WithProofHash(ctx, receipt.ProofHash), "certificate issued")

	return &IssueResult{
		CertificateID:   certificate.ID,
		ProofHash:       receipt.ProofHash,
		ContentID:       contentID,
		TxID:            receipt.TxID,
		BlockNumber:     receipt.BlockNumber,
		IssuedAt:        issuedAt,
		ContentDegraded: degraded,
		Custodial:       custodial,
	}, nil
}

func (s *service) Revoke(ctx context.Context, certificateID int64) (*RevokeResult, error) {
	if certificateID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "certificate id required")
	}
	ctx = s.logg.WithCertificateID(ctx, certificateID)

	certificate, err := s.loadCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if !certificate.Status.CanTransitionTo(enums.CertificateStatusRevoked) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("certificate is %s, only issued certificates can be revoked", certificate.Status))
	}
	if certificate.ProofHash == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "issued certificate is missing its proof hash")
	}
	if !s.ledger.Ready() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "ledger gateway not ready")
	}
	proofHash := *certificate.ProofHash
	ctx = s.logg.WithProofHash(ctx, proofHash)

	// Resolve earlier revoke submissions the same way Issue does.
	if result, err := s.adoptPriorRevoke(ctx, certificate, proofHash); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	pending, err := s.ledger.SubmitRevoke(ctx, proofHash)
	if err != nil {
		s.metrics.IncSubmission("revoke", "rejected")
		return nil, err
	}
	s.metrics.IncSubmission("revoke", "submitted")
	submittedAt := s.now()

	s.recordPendingTx(ctx, certificate.ID, pending, enums.LedgerTxKindRevoke)

	receipt, err := s.ledger.WaitForInclusion(ctx, pending.TxID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeLedgerRejected) {
			s.markTxFailed(ctx, certificate.ID, pending.TxID, enums.LedgerTxKindRevoke)
		}
		return nil, err
	}
	s.metrics.ObserveInclusion("revoke", s.now().Sub(submittedAt))

	return s.finalizeRevoke(ctx, certificate, receipt, proofHash)
}

func (s *service) adoptPriorRevoke(ctx context.Context, certificate *models.Certificate, proofHash string) (*RevokeResult, error) {
	pendingTxs, err := s.repo.FindPendingTransactions(ctx, certificate.ID, enums.LedgerTxKindRevoke)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending ledger transactions")
	}
	for _, pendingTx := range pendingTxs {
		receipt, err := s.ledger.Receipt(ctx, pendingTx.TxID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err,
				fmt.Sprintf("resolve prior submission %s", pendingTx.TxID))
		}
		if receipt == nil {
			receipt, err = s.ledger.WaitForInclusion(ctx, pendingTx.TxID)
			if err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeLedgerRejected) {
					s.markTxFailed(ctx, certificate.ID, pendingTx.TxID, enums.LedgerTxKindRevoke)
					continue
				}
				return nil, err
			}
		}
		if receipt.Status == ledger.ReceiptStatusReverted {
			s.markTxFailed(ctx, certificate.ID, pendingTx.TxID, enums.LedgerTxKindRevoke)
			continue
		}
		s.logg.Info(ctx, "adopting previously included revocation")
		return s.finalizeRevoke(ctx, certificate, receipt, proofHash)
	}
	return nil, nil
}

func (s *service) finalizeRevoke(ctx context.Context, certificate *models.Certificate, receipt *ledger.Receipt, proofHash string) (*RevokeResult, error) {
	revokedAt := s.now()

	metadata := certificate.Metadata
	if metadata == nil {
		metadata = types.JSONMap{}
	}
	metadata["revoked_at"] = revokedAt.Format(time.RFC3339)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdateCertificateStatus(ctx, certificate.ID,
			enums.CertificateStatusIssued, enums.CertificateStatusRevoked,
			map[string]any{"metadata": metadata})
		if err != nil {
			return err
		}
		if !ok {
			current, loadErr := repo.FindCertificate(ctx, certificate.ID)
			if loadErr != nil {
				return loadErr
			}
			if current.Status == enums.CertificateStatusRevoked {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "certificate changed state during revocation")
		}
		return repo.UpsertLedgerTransaction(ctx, confirmedTx(certificate.ID, enums.LedgerTxKindRevoke, receipt, revokedAt))
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		s.metrics.IncPartialFailure()
		s.logg.Error(ctx, "revocation confirmed on ledger but record store write failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodePartialFailure, err,
			"ledger holds the revocation but the record store write failed; do not resubmit").
			WithDetails(map[string]any{"tx_id": receipt.TxID, "proof_hash": proofHash})
	}

	s.metrics.IncSubmission("revoke", "confirmed")
	s.logg.Info(ctx, "certificate revoked")

	return &RevokeResult{
		CertificateID: certificate.ID,
		ProofHash:     proofHash,
		TxID:          receipt.TxID,
		BlockNumber:   receipt.BlockNumber,
		RevokedAt:     revokedAt,
	}, nil
}

func (s *service) Verify(ctx context.Context, proofHash string) (*VerificationView, error) {
	if proofHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proof hash required")
	}
	if !s.ledger.Ready() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "ledger gateway not ready")
	}

	verification, err := s.ledger.Verify(ctx, proofHash)
	if err != nil {
		return nil, err
	}

	view := &VerificationView{
		ProofHash: proofHash,
		Valid:     verification.Valid,
		Ledger:    verification.Record,
	}

	certificate, err := s.repo.FindCertificateByProofHash(ctx, proofHash)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cross-reference certificate")
	}
	view.Certificate = certificate

	if verification.Valid {
		view.Consistent = certificate != nil && certificate.Status == enums.CertificateStatusIssued
	} else {
		// An unknown or revoked proof with no issued record is agreement.
		view.Consistent = certificate == nil || certificate.Status == enums.CertificateStatusRevoked
	}
	return view, nil
}

func (s *service) List(ctx context.Context, filters ListFilters, params pagination.Params) (*CertificateList, error) {
	list, err := s.repo.ListCertificates(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list certificates")
	}
	return list, nil
}

func (s *service) Detail(ctx context.Context, certificateID int64) (*Detail, error) {
	certificate, err := s.loadCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.repo.ListApprovals(ctx, certificateID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval history")
	}
	return &Detail{Certificate: *certificate, Approvals: approvals}, nil
}

func (s *service) Types(ctx context.Context) ([]models.CertificateType, error) {
	typesList, err := s.repo.ListCertificateTypes(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list certificate types")
	}
	return typesList, nil
}

func (s *service) Stats(ctx context.Context) (*StatusStats, error) {
	counts, err := s.repo.CountCertificatesByStatus(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count certificates")
	}
	stats := &StatusStats{
		Pending:  counts[enums.CertificateStatusPending],
		Approved: counts[enums.CertificateStatusApproved],
		Rejected: counts[enums.CertificateStatusRejected],
		Issued:   counts[enums.CertificateStatusIssued],
		Revoked:  counts[enums.CertificateStatusRevoked],
	}
	stats.Total = stats.Pending + stats.Approved + stats.Rejected + stats.Issued + stats.Revoked
	return stats, nil
}

// StudentView joins both systems for one student. The ledger side is
// best-effort: an unreachable ledger degrades the view instead of failing it.
func (s *service) StudentView(ctx context.Context, studentID int64) (*StudentView, error) {
	if studentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	if _, err := s.repo.FindUser(ctx, studentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}

	records, err := s.repo.ListCertificatesByStudent(ctx, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list student certificates")
	}

	view := &StudentView{StudentID: studentID, Certificates: records}
	if !s.ledger.Ready() {
		view.LedgerDegraded = true
		return view, nil
	}
	proofs, err := s.ledger.StudentProofs(ctx, formatStudentID(studentID))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "student_id", studentID), "ledger proofs unavailable for student view")
		view.LedgerDegraded = true
		return view, nil
	}
	view.LedgerProofs = proofs
	return view, nil
}

func (s *service) ContractInfo(ctx context.Context) (*ledger.ContractInfo, error) {
	if !s.ledger.Ready() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "ledger gateway not ready")
	}
	return s.ledger.ContractInfo(ctx)
}

func (s *service) loadCertificate(ctx context.Context, id int64) (*models.Certificate, error) {
	certificate, err := s.repo.FindCertificate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	return certificate, nil
}

// buildDocument assembles the immutable document anchored for a certificate.
func (s *service) buildDocument(certificate *models.Certificate) types.JSONMap {
	studentName := ""
	if certificate.Student != nil {
		studentName = certificate.Student.Name
	}
	typeName := ""
	if certificate.CertificateType != nil {
		typeName = certificate.CertificateType.Name
	}

	return types.JSONMap{
		"name":        fmt.Sprintf("%s Certificate - %s", typeName, studentName),
		"description": fmt.Sprintf("%s certificate issued to %s by %s", typeName, studentName, s.opts.InstitutionName),
		"standard":    "Certificate-v1",
		"version":     "1.0",
		"created":     s.now().Format(time.RFC3339),
		"certificate": map[string]any{
			"id":          certificate.ID,
			"type":        typeName,
			"achievement": map[string]any(certificate.AchievementPayload),
			"student": map[string]any{
				"id":   certificate.StudentID,
				"name": studentName,
			},
			"issuer": map[string]any{
				"name": s.opts.InstitutionName,
			},
		},
	}
}

// recordPendingTx anchors a submission before the inclusion wait. A failed
// write is logged, not fatal: the submission itself already happened.
func (s *service) recordPendingTx(ctx context.Context, certificateID int64, pending *ledger.PendingTx, kind enums.LedgerTxKind) {
	gasPrice := pending.GasPrice
	row := &models.LedgerTransaction{
		CertificateID: certificateID,
		TxID:          pending.TxID,
		Kind:          kind,
		Status:        enums.LedgerTxStatusPending,
	}
	if gasPrice != "" {
		row.GasPrice = &gasPrice
	}
	if err := s.repo.UpsertLedgerTransaction(ctx, row); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "tx_id", pending.TxID), "failed to record pending ledger transaction", err)
	}
}

func (s *service) markTxFailed(ctx context.Context, certificateID int64, txID string, kind enums.LedgerTxKind) {
	row := &models.LedgerTransaction{
		CertificateID: certificateID,
		TxID:          txID,
		Kind:          kind,
		Status:        enums.LedgerTxStatusFailed,
	}
	if err := s.repo.UpsertLedgerTransaction(ctx, row); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "tx_id", txID), "failed to mark ledger transaction failed", err)
	}
}

func confirmedTx(certificateID int64, kind enums.LedgerTxKind, receipt *ledger.Receipt, confirmedAt time.Time) *models.LedgerTransaction {
	blockNumber := receipt.BlockNumber
	blockHash := receipt.BlockHash
	gasUsed := receipt.GasUsed
	gasPrice := receipt.GasPrice

	row := &models.LedgerTransaction{
		CertificateID: certificateID,
		TxID:          receipt.TxID,
		Kind:          kind,
		Status:        enums.LedgerTxStatusConfirmed,
		BlockNumber:   &blockNumber,
		ConfirmedAt:   &confirmedAt,
	}
	if blockHash != "" {
		row.BlockHash = &blockHash
	}
	if gasUsed > 0 {
		row.GasUsed = &gasUsed
	}
	if gasPrice != "" {
		row.GasPrice = &gasPrice
	}
	return row
}

// receiptContentID recovers the content id for an adopted issuance from the
// ledger's canonical record.
func receiptContentID(ctx context.Context, gateway LedgerGateway, receipt *ledger.Receipt) string {
	if receipt.ProofHash == "" {
		return ""
	}
	verification, err := gateway.Verify(ctx, receipt.ProofHash)
	if err != nil || verification.Record == nil {
		return ""
	}
	return verification.Record.ContentID
}

func formatStudentID(id int64) string {
	return strconv.FormatInt(id, 10)
}

package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veridia-labs/certledger-backend/api/responses"
	"github.com/veridia-labs/certledger-backend/api/validators"
	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/pkg/db/models"
	"github.com/veridia-labs/certledger-backend/pkg/enums"
	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/pagination"
	"github.com/veridia-labs/certledger-backend/pkg/types"
)

type certificateRequestBody struct {
	StudentID          int64         `json:"student_id" validate:"required,min=1"`
	CertificateTypeID  int64         `json:"certificate_type_id" validate:"required,min=1"`
	AchievementPayload types.JSONMap `json:"achievement_payload" validate:"required"`
	ActorID            int64         `json:"actor_id" validate:"required,min=1"`
}

// CertificateRequest opens a new certificate in pending state.
func CertificateRequest(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload certificateRequestBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		certificate, err := svc.Request(r.Context(), certificates.RequestInput{
			StudentID:          payload.StudentID,
			CertificateTypeID:  payload.CertificateTypeID,
			AchievementPayload: payload.AchievementPayload,
			ActorID:            payload.ActorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, certificateResponseFromModel(certificate))
	}
}

// CertificateList pages certificates newest first with optional filters.
func CertificateList(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := parseListFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), filters, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]certificateResponse, 0, len(list.Certificates))
		for i := range list.Certificates {
			items = append(items, certificateResponseFromModel(&list.Certificates[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"certificates": items,
			"next_cursor":  list.NextCursor,
		})
	}
}

// CertificateDetail returns one certificate with its approval history.
func CertificateDetail(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certificateID, err := pathID(r, "certificateId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Detail(r.Context(), certificateID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		approvals := make([]approvalResponse, 0, len(detail.Approvals))
		for i := range detail.Approvals {
			approvals = append(approvals, approvalResponseFromModel(&detail.Approvals[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"certificate": certificateResponseFromModel(&detail.Certificate),
			"approvals":   approvals,
		})
	}
}

type decisionBody struct {
	ActorID int64  `json:"actor_id" validate:"required,min=1"`
	Comment string `json:"comment" validate:"max=1000"`
}

// CertificateApprove moves a pending certificate to approved.
func CertificateApprove(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return decisionHandler(svc.Approve, logg)
}

// CertificateReject moves a pending certificate to rejected. A comment is
// required; the service enforces it.
func CertificateReject(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return decisionHandler(svc.Reject, logg)
}

func decisionHandler(decide func(ctx context.Context, input certificates.DecisionInput) error, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certificateID, err := pathID(r, "certificateId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload decisionBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = decide(r.Context(), certificates.DecisionInput{
			CertificateID: certificateID,
			ActorID:       payload.ActorID,
			Comment:       validators.SanitizeString(payload.Comment, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"certificate_id": certificateID})
	}
}

type batchApproveBody struct {
	CertificateIDs []int64 `json:"certificate_ids" validate:"required,min=1,max=100"`
	ActorID        int64   `json:"actor_id" validate:"required,min=1"`
}

// CertificateBatchApprove approves a list of certificates, reporting per-item
// outcomes instead of failing the whole batch.
func CertificateBatchApprove(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload batchApproveBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]certificates.DecisionInput, 0, len(payload.CertificateIDs))
		for _, id := range payload.CertificateIDs {
			items = append(items, certificates.DecisionInput{CertificateID: id, ActorID: payload.ActorID})
		}
		responses.WriteSuccess(w, map[string]any{
			"results": svc.BatchApprove(r.Context(), items),
		})
	}
}

type issueBody struct {
	Destination string `json:"destination" validate:"max=128"`
}

// CertificateIssue anchors an approved certificate on the ledger. This call
// blocks until ledger inclusion or the bounded timeout.
func CertificateIssue(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certificateID, err := pathID(r, "certificateId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Custodial issuance sends no body at all.
		var payload issueBody
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Issue(r.Context(), certificates.IssueInput{
			CertificateID: certificateID,
			Destination:   strings.TrimSpace(payload.Destination),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CertificateRevoke revokes an issued certificate on the ledger.
func CertificateRevoke(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certificateID, err := pathID(r, "certificateId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Revoke(r.Context(), certificateID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CertificateTypes lists the active certificate types.
func CertificateTypes(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typesList, err := svc.Types(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]certificateTypeResponse, 0, len(typesList))
		for i := range typesList {
			items = append(items, certificateTypeResponseFromModel(&typesList[i]))
		}
		responses.WriteSuccess(w, map[string]any{"certificate_types": items})
	}
}

// CertificateStats counts certificates per lifecycle state.
func CertificateStats(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// StudentCertificates joins the record store and ledger views for a student.
func StudentCertificates(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID, err := pathID(r, "studentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.StudentView(r.Context(), studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]certificateResponse, 0, len(view.Certificates))
		for i := range view.Certificates {
			items = append(items, certificateResponseFromModel(&view.Certificates[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"student_id":      view.StudentID,
			"certificates":    items,
			"ledger_proofs":   view.LedgerProofs,
			"ledger_degraded": view.LedgerDegraded,
		})
	}
}

// LedgerContract reports the contract's self-described metadata.
func LedgerContract(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.ContractInfo(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, info)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a positive integer").
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

func parseListFilters(r *http.Request) (certificates.ListFilters, error) {
	filters := certificates.ListFilters{}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseCertificateStatus(raw)
		if err != nil {
			return filters, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter").
				WithDetails(map[string]any{"field": "status"})
		}
		filters.Status = &status
	}
	for field, target := range map[string]**int64{
		"student_id": &filters.StudentID,
		"type_id":    &filters.CertificateTypeID,
		"created_by": &filters.CreatedBy,
	} {
		raw := strings.TrimSpace(query.Get(field))
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filters, pkgerrors.New(pkgerrors.CodeValidation, "filter must be a positive integer").
				WithDetails(map[string]any{"field": field})
		}
		value := id
		*target = &value
	}
	return filters, nil
}

type certificateResponse struct {
	ID                 int64                   `json:"id"`
	StudentID          int64                   `json:"student_id"`
	StudentName        string                  `json:"student_name,omitempty"`
	CertificateTypeID  int64                   `json:"certificate_type_id"`
	CertificateType    string                  `json:"certificate_type,omitempty"`
	Status             enums.CertificateStatus `json:"status"`
	AchievementPayload types.JSONMap           `json:"achievement_payload"`
	ContentID          *string                 `json:"content_id,omitempty"`
	ProofHash          *string                 `json:"proof_hash,omitempty"`
	TxRef              *string                 `json:"tx_ref,omitempty"`
	Metadata           types.JSONMap           `json:"metadata,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	ApprovedAt         *time.Time              `json:"approved_at,omitempty"`
	IssuedAt           *time.Time              `json:"issued_at,omitempty"`
}

func certificateResponseFromModel(m *models.Certificate) certificateResponse {
	resp := certificateResponse{
		ID:                 m.ID,
		StudentID:          m.StudentID,
		CertificateTypeID:  m.CertificateTypeID,
		Status:             m.Status,
		AchievementPayload: m.AchievementPayload,
		ContentID:          m.ContentID,
		ProofHash:          m.ProofHash,
		TxRef:              m.TxRef,
		Metadata:           m.Metadata,
		CreatedAt:          m.CreatedAt,
		ApprovedAt:         m.ApprovedAt,
		IssuedAt:           m.IssuedAt,
	}
	if m.Student != nil {
		resp.StudentName = m.Student.Name
	}
	if m.CertificateType != nil {
		resp.CertificateType = m.CertificateType.Name
	}
	return resp
}

type approvalResponse struct {
	ID        int64                  `json:"id"`
	ActorID   int64                  `json:"actor_id"`
	ActorName string                 `json:"actor_name,omitempty"`
	Decision  enums.ApprovalDecision `json:"decision"`
	Comment   *string                `json:"comment,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func approvalResponseFromModel(m *models.CertificateApproval) approvalResponse {
	resp := approvalResponse{
		ID:        m.ID,
		ActorID:   m.ActorID,
		Decision:  m.Decision,
		Comment:   m.Comment,
		CreatedAt: m.CreatedAt,
	}
	if m.Actor != nil {
		resp.ActorName = m.Actor.Name
	}
	return resp
}

type certificateTypeResponse struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	AchievementSchema types.JSONMap `json:"achievement_schema"`
}

func certificateTypeResponseFromModel(m *models.CertificateType) certificateTypeResponse {
	return certificateTypeResponse{
		ID:                m.ID,
		Name:              m.Name,
		Description:       m.Description,
		AchievementSchema: m.AchievementSchema,
	}
}

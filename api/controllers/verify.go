package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/veridia-labs/certledger-backend/api/responses"
	"github.com/veridia-labs/certledger-backend/internal/certificates"
	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
)

// PublicVerify answers a third-party verification lookup by proof hash.
// An unknown hash is a successful response with valid=false, not an error.
func PublicVerify(svc certificates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proofHash := strings.TrimSpace(chi.URLParam(r, "proofHash"))
		if proofHash == "" {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "proof hash required"))
			return
		}

		view, err := svc.Verify(r.Context(), proofHash)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

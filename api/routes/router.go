package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veridia-labs/certledger-backend/api/controllers"
	"github.com/veridia-labs/certledger-backend/api/middleware"
	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/pkg/config"
	"github.com/veridia-labs/certledger-backend/pkg/db"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
)

type redisPinger interface {
	Ping(ctx context.Context) error
}

type gatewayProbe interface {
	Ready() bool
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisPinger,
	ledgerGW gatewayProbe,
	contentGW gatewayProbe,
	certificateService certificates.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient, ledgerGW, contentGW))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/verify/{proofHash}", controllers.PublicVerify(certificateService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/certificates", func(r chi.Router) {
			r.Get("/", controllers.CertificateList(certificateService, logg))
			r.Post("/", controllers.CertificateRequest(certificateService, logg))
			r.Get("/stats", controllers.CertificateStats(certificateService, logg))
			r.Post("/batch-approve", controllers.CertificateBatchApprove(certificateService, logg))
			r.Route("/{certificateId}", func(r chi.Router) {
				r.Get("/", controllers.CertificateDetail(certificateService, logg))
				r.Post("/approve", controllers.CertificateApprove(certificateService, logg))
				r.Post("/reject", controllers.CertificateReject(certificateService, logg))
				r.Post("/issue", controllers.CertificateIssue(certificateService, logg))
				r.Post("/revoke", controllers.CertificateRevoke(certificateService, logg))
			})
		})

		r.Get("/certificate-types", controllers.CertificateTypes(certificateService, logg))
		r.Get("/students/{studentId}/certificates", controllers.StudentCertificates(certificateService, logg))
		r.Get("/ledger/contract", controllers.LedgerContract(certificateService, logg))
	})

	return r
}

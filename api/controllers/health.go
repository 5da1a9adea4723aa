package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/veridia-labs/certledger-backend/api/responses"
	"github.com/veridia-labs/certledger-backend/pkg/config"
	"github.com/veridia-labs/certledger-backend/pkg/db"
	pkgerrors "github.com/veridia-labs/certledger-backend/pkg/errors"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
)

const readyProbeTimeout = 2 * time.Second

// readinessProbe is the degraded/ready surface the two gateways expose.
type readinessProbe interface {
	Ready() bool
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CertLedger-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady gates on the record store; the ledger and content gateways are
// reported but do not fail readiness, since the read surface still works
// while they are degraded.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP interface {
	Ping(ctx context.Context) error
}, ledgerGW, contentGW readinessProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CertLedger-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "record store unreachable"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "redis unreachable"))
				return
			}
		}

		checks := map[string]any{"status": "ready"}
		if ledgerGW != nil {
			checks["ledger"] = probeStatus(ledgerGW.Ready())
		}
		if contentGW != nil {
			checks["content_store"] = probeStatus(contentGW.Ready())
		}
		responses.WriteSuccess(w, checks)
	}
}

func probeStatus(ready bool) string {
	if ready {
		return "ready"
	}
	return "degraded"
}

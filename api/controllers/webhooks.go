package controllers

import (
	"io"
	"net/http"

	"github.com/atelierhq/atelier-backend/api/responses"
	"github.com/atelierhq/atelier-backend/internal/payments"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
	"github.com/atelierhq/atelier-backend/pkg/logger"
)

// PaymentWebhook receives gateway notifications. The gateway retries until it
// sees a plain "OK" body, so success is answered in that form rather than the
// JSON envelope.
func PaymentWebhook(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "failed to read webhook body"))
			return
		}

		if err := svc.HandleWebhook(r.Context(), raw); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteText(w, http.StatusOK, "OK")
	}
}

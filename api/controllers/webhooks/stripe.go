package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// PaymentWebhookProcessor verifies and applies one signed gateway delivery.
type PaymentWebhookProcessor interface {
	Process(ctx context.Context, payload []byte, sigHeader string) error
}

// PaymentWebhook receives gateway notifications. The raw body is required for
// signature verification, so it is read before any decoding.
func PaymentWebhook(svc PaymentWebhookProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if err := svc.Process(ctx, payload, r.Header.Get("Stripe-Signature")); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessMessage(w, http.StatusOK, "received", nil)
	}
}

package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	domain "github.com/shopsite/fulfillment/internal/domain"
	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/platform/httpx"
	"github.com/shopsite/fulfillment/internal/platform/requestctx"
	"github.com/shopsite/fulfillment/internal/services"
)

// writeServiceError maps a service error to its HTTP status. Internal and
// transient failures are logged in full and answered with a generic message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, op, orderID string, err error) {
	if err == nil {
		return
	}
	kind := services.KindOf(err)
	switch kind {
	case services.KindValidation,
		services.KindEmptyCandidateSet,
		services.KindInsufficientStock,
		services.KindProductUnavailable,
		services.KindProductNotFound,
		services.KindIllegalTransition:
		httpx.WriteError(ctx, w, httpx.NewError(string(kind), err.Error(), http.StatusBadRequest))
	case services.KindForbidden:
		httpx.WriteError(ctx, w, httpx.NewError(string(kind), "operation not permitted for this caller", http.StatusForbidden))
	case services.KindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case services.KindTransient:
		logServiceFailure(ctx, zap.WarnLevel, op, orderID, err)
		httpx.WriteError(ctx, w, httpx.NewError(string(kind), "service temporarily unavailable, retry later", http.StatusServiceUnavailable))
	default:
		logServiceFailure(ctx, zap.ErrorLevel, op, orderID, err)
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal server error", http.StatusInternalServerError))
	}
}

func logServiceFailure(ctx context.Context, level zapcore.Level, op, orderID string, err error) {
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if orderID != "" {
		fields = append(fields, zap.String("order_id", orderID))
	}
	requestctx.Logger(ctx).Log(level, "order request failed", fields...)
}

// callerFromRequest resolves the authenticated caller or writes a 401.
func callerFromRequest(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Caller{}, false
	}
	return identity.Caller(), true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

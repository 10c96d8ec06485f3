package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/fault"
	"github.com/xenking/orderkeeper/pkg/httpmiddleware"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	httpmiddleware.WriteError(w, status, msg)
}

// handleError maps a service error to a response. Internal failures are
// logged with their step and entity and reported to the client generically.
func handleError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	var (
		ve *fault.ValidationError
		nf *fault.NotFoundError
		se *fault.StorageError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Error())
	case errors.Is(err, archive.ErrArchivalInProgress):
		writeError(w, http.StatusConflict, "Archival already in progress")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		zctx.From(ctx).Info(op+" cancelled", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		fields := []zap.Field{zap.Error(err)}
		if errors.As(err, &se) {
			fields = append(fields,
				zap.String("step", se.Step),
				zap.String("entity", se.Entity),
				zap.Bool("retryable", se.Retryable),
			)
		}
		zctx.From(ctx).Error(op+" failed", fields...)
		if fault.IsRetryable(err) {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

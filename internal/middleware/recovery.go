package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "github.com/notifyd/notifyd/internal/errors"
	"github.com/notifyd/notifyd/internal/sentry"
	"github.com/notifyd/notifyd/internal/telemetry"
)

// Recovery converts panics into 500 responses with a structured error
// body and reports them to Sentry.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.Request.Context()
				correlationID := telemetry.GetCorrelationID(ctx)

				telemetry.LogFromContext(ctx).WithFields(map[string]interface{}{
					"panic_value": fmt.Sprintf("%v", r),
					"stack_trace": string(debug.Stack()),
					"path":        c.Request.URL.Path,
				}).Error("Panic recovered in HTTP handler")

				err := apperrors.NewInternalError(fmt.Sprintf("panic in handler: %v", r), nil).
					WithCorrelationID(correlationID)
				sentry.CaptureError(err,
					map[string]string{"path": c.Request.URL.Path},
					map[string]interface{}{"correlation_id": correlationID},
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err})
			}
		}()

		c.Next()
	}
}

// RespondError writes an AppError (or a wrapped internal error) as the
// JSON response with its mapped status code.
func RespondError(c *gin.Context, err error) {
	correlationID := telemetry.GetCorrelationID(c.Request.Context())

	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.NewInternalError("An unexpected error occurred", err)
	}
	if appErr.CorrelationID == "" {
		appErr = appErr.WithCorrelationID(correlationID)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{"error": appErr})
}

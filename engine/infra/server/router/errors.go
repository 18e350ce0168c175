package router

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// RequestIDHeader carries the request correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

const correlationKey = "correlation_id"

// ErrorInfo is the single client-facing error shape. Every non-2xx response
// body carries exactly this envelope.
type ErrorInfo struct {
	Message       string `json:"message"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// ErrorEnvelope wraps ErrorInfo under the stable "error" key.
type ErrorEnvelope struct {
	Error ErrorInfo `json:"error"`
}

// EnsureCorrelationID validates the inbound correlation header or mints a
// fresh id, stores it on the request, and echoes it on the response.
func EnsureCorrelationID(c *gin.Context) string {
	inbound := c.GetHeader(RequestIDHeader)
	if uuid.Validate(inbound) != nil {
		inbound = uuid.NewString()
	}
	c.Set(correlationKey, inbound)
	c.Header(RequestIDHeader, inbound)
	return inbound
}

// CorrelationID returns the request's correlation id, minting one if the
// middleware has not run (direct handler tests).
func CorrelationID(c *gin.Context) string {
	if id, ok := c.Get(correlationKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return EnsureCorrelationID(c)
}

// RespondError maps a domain error onto the uniform envelope and aborts the
// request. Untyped errors are logged with their cause but surface only a
// generic message.
func RespondError(c *gin.Context, err error) {
	code := core.CodeOf(err)
	status := core.StatusOf(code)
	correlationID := CorrelationID(c)

	if typed, ok := core.AsError(err); ok {
		if typed.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(typed.RetryAfter))
		}
	} else {
		logger.FromContext(c.Request.Context()).Error("Unhandled error in request",
			"correlation_id", correlationID, "error", core.RedactError(err))
	}

	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: ErrorInfo{
		Message:       core.SafeMessage(err),
		Code:          code,
		CorrelationID: correlationID,
	}})
}

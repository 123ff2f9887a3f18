// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/datatypes"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/middleware"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/observability"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/services"
)

var tracer = otel.Tracer("fieldtek.assistant.handlers")

// HandleAssist returns the handler for POST /v1/assist.
//
// # Description
//
// The handler owns the HTTP boundary of the guardrail pipeline:
//
//  1. Decode the body with strict JSON and size caps. Malformed or
//     over-limit requests are 400s, audited with the blocked reason, and
//     never reach the pipeline.
//  2. Run the pipeline. Injection rejections are 400s; retrieval or
//     model failures are 502s; nothing is retried here.
//  3. Stream the terminal response over SSE: delta events, one metadata
//     event, then [DONE]. Refusals use the same 200 SSE shape as
//     answers, so clients render them identically.
//
// The response text sits in an mlocked accumulator between the pipeline
// returning and the stream draining, and is wiped when the handler
// exits.
//
// # Inputs
//
//   - pipeline: The guardrail pipeline. Must not be nil.
//   - auditor: Audit store for structural rejections the pipeline never
//     sees. Must not be nil.
func HandleAssist(pipeline *services.AssistPipeline, auditor *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAssist")
		defer span.End()
		started := time.Now()

		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		req, err := datatypes.DecodeAssistRequest(c.Request.Body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode failed")
			observability.RecordRequest(datatypes.AuditOutcomeRejected, time.Since(started).Seconds())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()

		if err := req.Validate(); err != nil {
			rejectStructural(ctx, c, auditor, req, authInfo.TenantID, authInfo.UserID, started, err)
			return
		}
		if err := req.CheckLimits(); err != nil {
			rejectStructural(ctx, c, auditor, req, authInfo.TenantID, authInfo.UserID, started, err)
			return
		}

		result, err := pipeline.Run(ctx, req, authInfo)
		if err != nil {
			span.RecordError(err)
			writePipelineError(c, err, started)
			return
		}

		streamResult(c, result, started)
	}
}

// rejectStructural answers a 400 for a request that failed validation
// before the pipeline, and writes the audit record the pipeline would
// otherwise own.
func rejectStructural(
	ctx context.Context,
	c *gin.Context,
	auditor *audit.Store,
	req *datatypes.AssistRequest,
	tenantID, userID string,
	started time.Time,
	cause error,
) {
	record := &datatypes.AuditRecord{
		RequestID:     req.RequestID,
		TenantID:      tenantID,
		UserID:        userID,
		UserMessage:   req.LatestUserMessage(),
		ContextType:   req.Context.ContextKind(),
		ContextID:     req.Context.ContextID(),
		Outcome:       datatypes.AuditOutcomeRejected,
		Blocked:       true,
		BlockedReason: cause.Error(),
		LatencyMs:     time.Since(started).Milliseconds(),
	}
	if err := auditor.Write(context.WithoutCancel(ctx), record); err != nil {
		slog.Error("Failed to write audit record for rejected request",
			"error", err, "request_id", req.RequestID)
	}
	observability.RecordRequest(datatypes.AuditOutcomeRejected, time.Since(started).Seconds())
	c.JSON(http.StatusBadRequest, gin.H{"error": cause.Error()})
}

// writePipelineError maps pipeline errors onto HTTP statuses. The
// pipeline has already written the audit record for these.
func writePipelineError(c *gin.Context, err error, started time.Time) {
	switch {
	case services.IsInjection(err):
		observability.RecordRequest(datatypes.AuditOutcomeRejected, time.Since(started).Seconds())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message content not allowed"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		observability.RecordRequest(datatypes.AuditOutcomeIncomplete, time.Since(started).Seconds())
		c.Abort()
	default:
		// Upstream retrieval or model failure. Internals stay in the
		// logs, not the response.
		slog.Error("Assist pipeline failed", "error", err)
		observability.RecordRequest(datatypes.AuditOutcomeError, time.Since(started).Seconds())
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream service unavailable"})
	}
}

// streamResult sends the validated response text as an SSE stream. The
// text is parked in the secure accumulator first so the full response
// never sits in swappable memory while the stream drains.
func streamResult(c *gin.Context, result *services.PipelineResult, started time.Time) {
	acc, err := NewResponseAccumulator()
	if err != nil {
		slog.Error("Failed to allocate response buffer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer acc.Destroy()

	if err := acc.Write(result.Response); err != nil {
		slog.Error("Failed to buffer response", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	writer, err := NewStreamWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	observability.StreamOpened()
	defer observability.StreamClosed()

	if err := writer.StreamText(acc.Bytes()); err != nil {
		// Client went away mid-stream; the audit record already exists.
		slog.Warn("SSE stream interrupted", "error", err)
		observability.RecordRequest(datatypes.AuditOutcomeIncomplete, time.Since(started).Seconds())
		return
	}
	if result.Metadata != nil {
		if err := writer.WriteMetadata(result.Metadata); err != nil {
			slog.Warn("Failed to write metadata event", "error", err)
		}
	}
	if err := writer.WriteDone(); err != nil {
		slog.Warn("Failed to write done event", "error", err)
	}

	observability.RecordRequest(result.Outcome, time.Since(started).Seconds())
}

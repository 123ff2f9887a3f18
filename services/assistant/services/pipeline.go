// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/datatypes"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/observability"
	"github.com/WizardJames69/FieldTek-sub002/services/guardrail"
	"github.com/WizardJames69/FieldTek-sub002/services/llm"
)

// Pipeline outcomes. These map one-to-one onto audit outcomes and HTTP
// semantics: responded and refused are 200s, rejected is a 400, error is
// a 502.
const (
	OutcomeResponded = datatypes.AuditOutcomeResponded
	OutcomeRefused   = datatypes.AuditOutcomeRefused
	OutcomeRejected  = datatypes.AuditOutcomeRejected
)

// systemPromptHeader is the fixed instruction block. Context sections and
// document excerpts are appended below it; the guardrail validator, not
// this prompt, is what actually enforces the citation rule.
const systemPromptHeader = `You are a field-service assistant for trade technicians.
Answer only from the document excerpts provided below.
Cite every technical fact with [Source: <document name>] using the exact document name.
If the excerpts do not contain the answer, reply exactly:
I cannot find this information in the uploaded documents.`

// =============================================================================
// Errors
// =============================================================================

// InjectionError is returned when the injection scanner flags the user
// message. Handlers map it to HTTP 400.
type InjectionError struct {
	Finding guardrail.InjectionFinding
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("prompt injection detected: %s/%s", e.Finding.Category, e.Finding.PatternId)
}

// IsInjection checks if an error is an *InjectionError.
func IsInjection(err error) bool {
	var ie *InjectionError
	return errors.As(err, &ie)
}

// UpstreamError is returned when retrieval or the model backend fails.
// Handlers map it to HTTP 502. Nothing is retried internally.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failure: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream checks if an error is an *UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// =============================================================================
// Pipeline
// =============================================================================

// PipelineResult is the terminal state of one assist request.
type PipelineResult struct {
	// Outcome is responded, refused, or rejected.
	Outcome string

	// Response is the text to send: the validated model answer or the
	// canonical refusal. Empty for rejected input.
	Response string

	// Metadata accompanies responded outcomes as the terminal SSE event.
	Metadata *datatypes.ResponseMetadata
}

// PipelineConfig carries the tunables read from the environment at
// startup.
type PipelineConfig struct {
	// TopK is the retrieval depth.
	TopK int

	// MaxAnswerTokens bounds the model completion.
	MaxAnswerTokens int

	// ModelID names the backend model for the audit record.
	ModelID string
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TopK:            6,
		MaxAnswerTokens: 1024,
		ModelID:         "unknown",
	}
}

// AssistPipeline drives a request through the guardrail stages:
// injection scan, retrieval, document sanitization, the retrieval gate,
// the deterministic model call, and response validation. It owns writing
// the audit record: exactly one per request, at the terminal state.
//
// The pipeline is stateless between requests; all state is request-scoped.
// Safe for concurrent use.
type AssistPipeline struct {
	engine    *guardrail.Engine
	retriever Retriever
	llmClient llm.Client
	auditor   *audit.Store
	secLog    extensions.SecurityLogger
	config    PipelineConfig
}

// NewAssistPipeline wires the pipeline. All dependencies are required
// except secLog, which defaults to the slog-backed logger.
func NewAssistPipeline(
	engine *guardrail.Engine,
	retriever Retriever,
	llmClient llm.Client,
	auditor *audit.Store,
	secLog extensions.SecurityLogger,
	config PipelineConfig,
) *AssistPipeline {
	if secLog == nil {
		secLog = &extensions.SlogSecurityLogger{}
	}
	if config.TopK <= 0 {
		config.TopK = DefaultPipelineConfig().TopK
	}
	if config.MaxAnswerTokens <= 0 {
		config.MaxAnswerTokens = DefaultPipelineConfig().MaxAnswerTokens
	}
	return &AssistPipeline{
		engine:    engine,
		retriever: retriever,
		llmClient: llmClient,
		auditor:   auditor,
		secLog:    secLog,
		config:    config,
	}
}

// Run executes the pipeline for one structurally valid request.
//
// # Description
//
// The stages run in fixed order and each opens its own span:
//
//  1. Injection scan of the latest user message. A match is terminal:
//     rejected, no model call.
//  2. Tenant-scoped retrieval, with every chunk passed through the
//     sanitizer. Redactions are logged and counted, never fatal.
//  3. The retrieval gate. Insufficient evidence is terminal: the
//     canonical refusal without a model call.
//  4. The model call, always at temperature 0 and top_p 0.1. The full
//     response is buffered; nothing reaches the caller until validation
//     has accepted all of it.
//  5. Validation: the global citation rule, the per-paragraph rule, and
//     the fabricated-citation check. Any rejection substitutes the
//     canonical refusal verbatim.
//
// Exactly one audit record is written, at whichever state is terminal.
// If the client disconnects mid-call the model stream is abandoned and a
// partial record is written with the incomplete outcome.
//
// # Outputs
//
//   - *PipelineResult: Non-nil for responded, refused, and rejected.
//   - error: *InjectionError (rejected), *UpstreamError (502), or a
//     context error when the client went away.
func (p *AssistPipeline) Run(ctx context.Context, req *datatypes.AssistRequest, authInfo *extensions.AuthInfo) (*PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "AssistPipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("tenant.id", authInfo.TenantID),
	)

	started := time.Now()
	userMessage := req.LatestUserMessage()

	record := &datatypes.AuditRecord{
		RequestID:   req.RequestID,
		TenantID:    authInfo.TenantID,
		UserID:      authInfo.UserID,
		UserMessage: userMessage,
		ContextType: req.Context.ContextKind(),
		ContextID:   req.Context.ContextID(),
		ModelID:     p.config.ModelID,
	}
	finish := func(outcome string) {
		record.Outcome = outcome
		record.LatencyMs = time.Since(started).Milliseconds()
		if err := p.auditor.Write(context.WithoutCancel(ctx), record); err != nil {
			slog.Error("Failed to write audit record",
				"error", err, "request_id", req.RequestID, "outcome", outcome)
		}
	}

	// Stage 1: injection scan.
	if finding, matched := p.scanInjection(ctx, userMessage); matched {
		span.SetAttributes(attribute.String("guardrail.injection_category", finding.Category))
		record.Blocked = true
		record.BlockedReason = "prompt_injection"
		record.MatchedPatterns = []string{finding.Category + "/" + finding.PatternId}
		observability.RecordInjection(finding.Category)
		finish(OutcomeRejected)
		p.secLog.Log(ctx, extensions.SecurityEvent{
			EventType: "guardrail.injection",
			TenantID:  authInfo.TenantID,
			Outcome:   "blocked",
			Metadata: extensions.NewMetadata().
				Set("request_id", req.RequestID).
				Set("category", finding.Category),
		})
		return &PipelineResult{Outcome: OutcomeRejected}, &InjectionError{Finding: finding}
	}

	// Stage 2: retrieval + sanitization.
	chunks, knownDocuments, err := p.retrieve(ctx, authInfo.TenantID, userMessage)
	if err != nil {
		record.Blocked = false
		record.BlockedReason = "retrieval_failure"
		finish(datatypes.AuditOutcomeError)
		return nil, &UpstreamError{Stage: "retrieval", Err: err}
	}
	record.DocsAvailable = len(knownDocuments)

	// Stage 3: the gate.
	decision := p.gate(ctx, chunks, userMessage)
	if decision.RequiresHumanReview {
		span.SetAttributes(attribute.Bool("guardrail.requires_review", true))
		record.Blocked = true
		record.BlockedReason = "insufficient_evidence"
		record.ResponseText = guardrail.CanonicalRefusal
		observability.RecordRefusal(record.BlockedReason)
		finish(OutcomeRefused)
		return &PipelineResult{
			Outcome:  OutcomeRefused,
			Response: guardrail.CanonicalRefusal,
			Metadata: refusalMetadata(),
		}, nil
	}
	usable := decision.UsableChunks
	record.DocsWithContent = distinctSources(usable)

	// Stage 4: the model call. Deterministic sampling always.
	response, err := p.callModel(ctx, req, usable)
	if err != nil {
		if ctx.Err() != nil {
			record.BlockedReason = "client_disconnected"
			finish(datatypes.AuditOutcomeIncomplete)
			return nil, ctx.Err()
		}
		record.BlockedReason = "model_failure"
		finish(datatypes.AuditOutcomeError)
		return nil, &UpstreamError{Stage: "model", Err: err}
	}

	// Stage 5: validation over the complete buffered response.
	verdict, reason := p.validate(ctx, response, usable, knownDocuments, req, authInfo)
	record.CitationPresent = verdict.CitationPresent
	record.MatchedPatterns = verdict.MatchedClaimClasses
	if reason != "" {
		span.SetAttributes(attribute.String("guardrail.rejection_reason", reason))
		record.Blocked = true
		record.BlockedReason = reason
		record.ResponseText = guardrail.CanonicalRefusal
		observability.RecordRefusal(reason)
		finish(OutcomeRefused)
		p.secLog.Log(ctx, extensions.SecurityEvent{
			EventType: "guardrail.validation_failed",
			TenantID:  authInfo.TenantID,
			Outcome:   "rejected",
			Metadata: extensions.NewMetadata().
				Set("request_id", req.RequestID).
				Set("reason", reason),
		})
		return &PipelineResult{
			Outcome:  OutcomeRefused,
			Response: guardrail.CanonicalRefusal,
			Metadata: refusalMetadata(),
		}, nil
	}

	record.ResponseText = response
	finish(OutcomeResponded)
	return &PipelineResult{
		Outcome:  OutcomeResponded,
		Response: response,
		Metadata: responseMetadata(usable),
	}, nil
}

// =============================================================================
// Stages
// =============================================================================

func (p *AssistPipeline) scanInjection(ctx context.Context, userMessage string) (guardrail.InjectionFinding, bool) {
	_, span := tracer.Start(ctx, "AssistPipeline.scanInjection")
	defer span.End()
	return p.engine.Detect(userMessage)
}

func (p *AssistPipeline) retrieve(ctx context.Context, tenantID, query string) ([]guardrail.RetrievedChunk, []string, error) {
	ctx, span := tracer.Start(ctx, "AssistPipeline.retrieve")
	defer span.End()

	knownDocuments, err := p.retriever.DocumentNames(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document registry failed")
		return nil, nil, err
	}

	chunks, err := p.retriever.Search(ctx, tenantID, query, p.config.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, nil, err
	}

	redacted := 0
	for i := range chunks {
		result := p.engine.Sanitize(chunks[i].Text)
		if result.InjectionDetected {
			redacted++
			slog.Warn("Redacted injection content in retrieved chunk",
				"tenant_id", tenantID, "chunk_id", chunks[i].ID)
		}
		chunks[i].Text = result.Sanitized
	}
	observability.RecordRedactedChunks(redacted)
	span.SetAttributes(
		attribute.Int("retrieval.chunks", len(chunks)),
		attribute.Int("retrieval.redacted", redacted),
	)
	return chunks, knownDocuments, nil
}

func (p *AssistPipeline) gate(ctx context.Context, chunks []guardrail.RetrievedChunk, query string) guardrail.GateDecision {
	_, span := tracer.Start(ctx, "AssistPipeline.gate")
	defer span.End()
	decision := p.engine.EvaluateChunks(chunks, query)
	span.SetAttributes(attribute.Int("gate.usable_chunks", len(decision.UsableChunks)))
	return decision
}

func (p *AssistPipeline) callModel(ctx context.Context, req *datatypes.AssistRequest, chunks []guardrail.RetrievedChunk) (string, error) {
	ctx, span := tracer.Start(ctx, "AssistPipeline.callModel")
	defer span.End()

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: buildSystemPrompt(req.Context, chunks),
	})
	for i := range req.Messages {
		msg := &req.Messages[i]
		messages = append(messages, llm.Message{
			Role:    msg.Role,
			Content: msg.CombinedText(),
			Images:  msg.ImageData(),
		})
	}

	response, err := p.llmClient.Chat(ctx, messages, llm.DeterministicParams(p.config.MaxAnswerTokens))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return "", err
	}
	span.SetAttributes(attribute.Int("model.response_bytes", len(response)))
	return response, nil
}

// validate runs the three validation granularities in order and returns
// the verdict plus the first rejection reason, empty when the response is
// accepted.
func (p *AssistPipeline) validate(
	ctx context.Context,
	response string,
	chunks []guardrail.RetrievedChunk,
	knownDocuments []string,
	req *datatypes.AssistRequest,
	authInfo *extensions.AuthInfo,
) (guardrail.Verdict, string) {
	_, span := tracer.Start(ctx, "AssistPipeline.validate")
	defer span.End()

	hasDocuments := len(knownDocuments) > 0
	verdict := p.engine.Validate(response, hasDocuments)
	if !verdict.Valid {
		return verdict, verdict.Reason
	}

	if report := p.engine.ValidateParagraphs(response); report.UncitedParagraphs > 0 {
		return verdict, guardrail.ReasonUncitedParagraph
	}

	if verdict.CitationPresent {
		codeRefs := authInfo.CodeReferencesEnabled ||
			(req.Context != nil && req.Context.CodeReferenceEnabled)
		known := append(append([]string{}, knownDocuments...), req.Context.DocumentNames()...)
		fabricated := p.engine.ValidateCitationSources(verdict.CitedSources, known, codeRefs)
		if len(fabricated) > 0 {
			slog.Warn("Fabricated citation in model response", "sources", fabricated)
			return verdict, guardrail.ReasonFabricatedCitation
		}
	}
	return verdict, ""
}

// =============================================================================
// Helpers
// =============================================================================

func buildSystemPrompt(assistCtx *datatypes.AssistContext, chunks []guardrail.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	b.WriteString("\n\n")
	if section := assistCtx.FormatForPrompt(); section != "" {
		b.WriteString(section)
		b.WriteString("\n")
	}
	b.WriteString("## Document Excerpts\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[Excerpt %d from %s]\n%s\n\n", i+1, chunk.Source, chunk.Text)
	}
	return b.String()
}

func distinctSources(chunks []guardrail.RetrievedChunk) int {
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.Source != "" {
			seen[c.Source] = struct{}{}
		}
	}
	return len(seen)
}

func refusalMetadata() *datatypes.ResponseMetadata {
	return &datatypes.ResponseMetadata{
		RetrievalQuality: 0,
		Confidence:       datatypes.ConfidenceLow,
		ChunkCount:       0,
		DocumentsUsed:    0,
	}
}

func responseMetadata(chunks []guardrail.RetrievedChunk) *datatypes.ResponseMetadata {
	if len(chunks) == 0 {
		return refusalMetadata()
	}
	var total float64
	for _, c := range chunks {
		total += c.Similarity
	}
	mean := total / float64(len(chunks))
	docs := distinctSources(chunks)
	return &datatypes.ResponseMetadata{
		RetrievalQuality: mean,
		Confidence:       datatypes.ConfidenceTier(mean, docs),
		ChunkCount:       len(chunks),
		DocumentsUsed:    docs,
	}
}

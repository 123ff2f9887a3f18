// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/middleware"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/services"
	"github.com/WizardJames69/FieldTek-sub002/services/guardrail"
	"github.com/WizardJames69/FieldTek-sub002/services/llm"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRetriever struct{}

func (s *stubRetriever) Search(_ context.Context, _, _ string, _ int) ([]guardrail.RetrievedChunk, error) {
	return []guardrail.RetrievedChunk{
		{ID: "c1", Text: "Breaker panel schedule for unit 4.", Similarity: 0.9, Source: "Panel Schedule.pdf"},
		{ID: "c2", Text: "Disconnect ratings and fusing.", Similarity: 0.82, Source: "Panel Schedule.pdf"},
	}, nil
}

func (s *stubRetriever) DocumentNames(_ context.Context, _ string) ([]string, error) {
	return []string{"Panel Schedule.pdf"}, nil
}

type stubLLM struct{}

func (s *stubLLM) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return "The panel schedule lists unit 4 on breaker 12 [Source: Panel Schedule].", nil
}

// newTestRouter assembles the full route surface the way main does,
// with the Nop auth provider so any non-empty bearer token works.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	t.Setenv("ASSIST_INSECURE_MEMORY", "true")

	engine, err := guardrail.NewEngine()
	require.NoError(t, err)
	auditor, err := audit.Open(audit.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditor.Close() })

	pipeline := services.NewAssistPipeline(
		engine, &stubRetriever{}, &stubLLM{}, auditor,
		&extensions.NopSecurityLogger{},
		services.PipelineConfig{ModelID: "test-model"},
	)
	opts := extensions.DefaultOptions().WithSecurityLogger(&extensions.NopSecurityLogger{})
	limiter := middleware.NewRateLimiter(auditor, opts.SecurityLogger)

	router := gin.New()
	SetupRoutes(router, pipeline, auditor, &opts, limiter)
	return router
}

// ============================================================================
// Route Tests
// ============================================================================

func TestRoutes_HealthIsPublic(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRoutes_MetricsIsPublic(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_AssistRequiresBearerToken(t *testing.T) {
	router := newTestRouter(t)

	body := `{"messages":[{"role":"user","content":"Which breaker feeds unit 4?"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/assist", strings.NewReader(body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_AssistEndToEnd(t *testing.T) {
	router := newTestRouter(t)

	body := `{"messages":[{"role":"user","content":"Which breaker feeds unit 4?"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/assist", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer dev-token")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Panel Schedule")
	assert.Contains(t, w.Body.String(), "data: [DONE]")
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRoutes_AuditRequiresBearerToken(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer dev-token")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_UsageReportsQuotaStanding(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/usage", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// One assist request consumes one unit of quota.
	body := `{"messages":[{"role":"user","content":"Which breaker feeds unit 4?"}]}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/assist", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer dev-token")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer dev-token")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var usage struct {
		Limit     int    `json:"limit"`
		Used      int    `json:"used"`
		Remaining int    `json:"remaining"`
		ResetsAt  string `json:"resets_at"`
		Tier      string `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, usage.Limit-1, usage.Remaining)
	assert.Equal(t, extensions.TierFleet, usage.Tier)
	assert.NotEmpty(t, usage.ResetsAt)

	// Polling usage must not consume quota.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer dev-token")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, 1, usage.Used)
}

// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package services contains the assist pipeline orchestrator and its
// retrieval provider.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/WizardJames69/FieldTek-sub002/services/assistant/datatypes"
	"github.com/WizardJames69/FieldTek-sub002/services/guardrail"
)

var tracer = otel.Tracer("fieldtek.assistant.services")

// documentRegistryLimit caps the document-name registry query. Tenants
// upload at most a few hundred documents; the cap is a safety stop, not a
// product limit.
const documentRegistryLimit = 10000

// Retriever is the black-box retrieval provider the pipeline consumes.
// Chunking, embedding and indexing happen in the ingestion service; this
// side only queries.
type Retriever interface {
	// Search returns the topK most similar chunks for the query, scoped
	// to the tenant. Similarity is normalized to [0,1].
	Search(ctx context.Context, tenantID, query string, topK int) ([]guardrail.RetrievedChunk, error)

	// DocumentNames returns the distinct names of the tenant's indexed
	// documents, for the citation-source check.
	DocumentNames(ctx context.Context, tenantID string) ([]string, error)
}

// WeaviateRetriever implements Retriever over the TenantDocument class
// with nearText queries.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client handles connection
// pooling.
type WeaviateRetriever struct {
	client *weaviate.Client
}

var _ Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever over the given client. The
// client must already be connected; the TenantDocument class is managed
// by the ingestion service.
func NewWeaviateRetriever(client *weaviate.Client) *WeaviateRetriever {
	return &WeaviateRetriever{client: client}
}

// Search implements Retriever.
//
// # Description
//
// Runs a nearText GraphQL query filtered on tenant_id, requesting
// certainty as the similarity score. Chunks with no certainty in the
// response are dropped rather than passed on with a zero score.
func (r *WeaviateRetriever) Search(ctx context.Context, tenantID, query string, topK int) ([]guardrail.RetrievedChunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Search")
	defer span.End()

	tenantFilter := filters.Where().
		WithPath([]string{"tenant_id"}).
		WithOperator(filters.Equal).
		WithValueString(tenantID)

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "chunk_text"},
		{Name: "document_name"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(datatypes.TenantDocumentClass).
		WithFields(fields...).
		WithWhere(tenantFilter).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		slog.Error("Weaviate retrieval failed", "error", err, "tenant_id", tenantID)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.TenantDocumentQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse retrieval results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	chunks := make([]guardrail.RetrievedChunk, 0, len(parsed.Get.TenantDocument))
	for _, doc := range parsed.Get.TenantDocument {
		if doc.Additional.Certainty == nil {
			slog.Debug("Dropping chunk without certainty", "id", doc.Additional.ID)
			continue
		}
		chunks = append(chunks, guardrail.RetrievedChunk{
			ID:         doc.Additional.ID,
			Text:       doc.ChunkText,
			Similarity: float64(*doc.Additional.Certainty),
			Source:     doc.DocumentName,
		})
	}
	slog.Debug("Retrieved chunks", "tenant_id", tenantID, "count", len(chunks))
	return chunks, nil
}

// DocumentNames implements Retriever by listing the tenant's chunks and
// deduplicating their document_name property. The result is sorted for
// stable prompts and logs.
func (r *WeaviateRetriever) DocumentNames(ctx context.Context, tenantID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.DocumentNames")
	defer span.End()

	tenantFilter := filters.Where().
		WithPath([]string{"tenant_id"}).
		WithOperator(filters.Equal).
		WithValueString(tenantID)

	result, err := r.client.GraphQL().Get().
		WithClassName(datatypes.TenantDocumentClass).
		WithFields(graphql.Field{Name: "document_name"}).
		WithWhere(tenantFilter).
		WithLimit(documentRegistryLimit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate document listing failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.TenantDocumentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document listing: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, doc := range parsed.Get.TenantDocument {
		if doc.DocumentName == "" {
			continue
		}
		if _, dup := seen[doc.DocumentName]; dup {
			continue
		}
		seen[doc.DocumentName] = struct{}{}
		names = append(names, doc.DocumentName)
	}
	sort.Strings(names)
	return names, nil
}

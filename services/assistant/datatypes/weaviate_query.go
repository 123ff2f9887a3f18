// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert
// Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed struct. The target type T must carry json tags matching
// the response shape.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("TenantDocument").Do(ctx)
//	parsed, err := ParseGraphQLResponse[TenantDocumentQueryResponse](resp)
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// =============================================================================
// TenantDocument Query Types
// =============================================================================

// TenantDocumentClass is the Weaviate class holding chunked tenant
// uploads. Every object carries a tenant_id property and every query in
// this codebase filters on it.
const TenantDocumentClass = "TenantDocument"

// TenantDocumentQueryResponse is the Get-query response shape for the
// TenantDocument class.
type TenantDocumentQueryResponse struct {
	Get struct {
		TenantDocument []TenantDocumentResult `json:"TenantDocument"`
	} `json:"Get"`
}

// TenantDocumentResult is a single retrieved chunk. Certainty is
// requested instead of distance because it is always normalized to [0,1]
// regardless of the index's distance metric.
type TenantDocumentResult struct {
	ChunkText    string `json:"chunk_text"`
	DocumentName string `json:"document_name"`
	TenantID     string `json:"tenant_id"`
	Additional   struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package datatypes

// Confidence tiers presented to the technician alongside the answer.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Confidence-tier thresholds on mean retrieval similarity.
const (
	highConfidenceFloor   = 0.80
	mediumConfidenceFloor = 0.65
	highConfidenceMinDocs = 2
)

// ResponseMetadata is the terminal SSE metadata event of a successful
// assist call: how good the retrieval was and how much of it backed the
// answer.
type ResponseMetadata struct {
	// RetrievalQuality is the mean similarity of the chunks that passed
	// the gate, 0 when retrieval was empty.
	RetrievalQuality float64 `json:"retrieval_quality"`

	// Confidence is the tier derived from RetrievalQuality and the
	// document spread: "high", "medium", or "low".
	Confidence string `json:"confidence"`

	// ChunkCount is the number of chunks passed to the model.
	ChunkCount int `json:"chunk_count"`

	// DocumentsUsed is the number of distinct source documents among
	// those chunks.
	DocumentsUsed int `json:"documents_used"`
}

// ConfidenceTier maps retrieval quality to a tier. High requires both a
// strong mean similarity and corroboration from at least two documents;
// a single excellent chunk caps out at medium.
func ConfidenceTier(meanSimilarity float64, documentsUsed int) string {
	switch {
	case meanSimilarity >= highConfidenceFloor && documentsUsed >= highConfidenceMinDocs:
		return ConfidenceHigh
	case meanSimilarity >= mediumConfidenceFloor:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

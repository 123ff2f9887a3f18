// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package guardrail

import "strings"

// Retrieval gate thresholds.
const (
	// EscalationSimilarityFloor is the minimum similarity a chunk must
	// reach to count as evidence for an escalation-class query. Chunks
	// below the floor are discarded, not down-weighted.
	EscalationSimilarityFloor = 0.65

	// SingleChunkSimilarity is the similarity a lone surviving chunk must
	// reach to be sufficient on its own for an escalation-class query.
	SingleChunkSimilarity = 0.80

	// SingleChunkMinChars is the minimum text length a lone surviving
	// chunk must have to be sufficient on its own. A single short chunk
	// is never sufficient: brittle single-source claims on safety and
	// compliance topics are the highest-risk failure mode.
	SingleChunkMinChars = 200

	// MinEscalationChunks is the surviving-chunk count that satisfies the
	// escalation sufficiency rule without the single-strong-chunk path.
	MinEscalationChunks = 2
)

// EvaluateChunks applies the retrieval gate to the chunks returned for a
// query.
//
// # Description
//
// If the query matches the escalation keyword set (warranty, coverage,
// void, compliance, liability, safety procedure), every chunk below
// EscalationSimilarityFloor is discarded, and the survivors must satisfy
// the sufficiency rule: at least MinEscalationChunks chunks, OR exactly
// one chunk that is simultaneously high-similarity (>= 0.80) and long
// (>= 200 characters).
//
// Non-escalation queries pass the chunk set through unfiltered; they are
// insufficient only when retrieval returned nothing at all.
//
// When the decision is insufficient, RequiresHumanReview is set and the
// orchestrator must short-circuit to the canonical refusal without calling
// the model: cheaper, and strictly safer than letting the model guess.
//
// # Inputs
//
//   - chunks: Retrieved chunks in provider order.
//   - queryText: The user's query, used only for escalation classification.
//
// # Outputs
//
//   - GateDecision: Usable chunks plus the escalation/review flags.
//
// Pure function; safe for concurrent use.
func (e *Engine) EvaluateChunks(chunks []RetrievedChunk, queryText string) GateDecision {
	escalation := e.IsEscalationQuery(queryText)

	if !escalation {
		return GateDecision{
			UsableChunks:        chunks,
			RequiresHumanReview: len(chunks) == 0,
		}
	}

	usable := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Similarity >= EscalationSimilarityFloor {
			usable = append(usable, c)
		}
	}

	return GateDecision{
		UsableChunks:        usable,
		RequiresHumanReview: !escalationEvidenceSufficient(usable),
		EscalationClass:     true,
	}
}

// IsEscalationQuery reports whether the query touches an escalation topic
// (case-insensitive substring match against the embedded keyword set).
func (e *Engine) IsEscalationQuery(queryText string) bool {
	lowered := normalize(queryText)
	for _, kw := range e.escalationKeywords {
		if kw != "" && strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// escalationEvidenceSufficient implements the sufficiency rule for
// escalation-class queries over the post-filter survivors.
func escalationEvidenceSufficient(usable []RetrievedChunk) bool {
	if len(usable) >= MinEscalationChunks {
		return true
	}
	if len(usable) == 1 {
		c := usable[0]
		return c.Similarity >= SingleChunkSimilarity && len(c.Text) >= SingleChunkMinChars
	}
	return false
}

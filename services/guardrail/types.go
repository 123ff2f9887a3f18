// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"fmt"
	"regexp"
	"sort"
)

// PatternFile mirrors the structure of the embedded guardrail_patterns.yaml.
type PatternFile struct {
	InjectionCategories []InjectionCategory `yaml:"injection_categories"`
	ClaimClasses        []ClaimClass        `yaml:"claim_classes"`
	EscalationKeywords  []string            `yaml:"escalation_keywords"`
	CodePrefixes        []string            `yaml:"code_prefixes"`
	ParagraphIndicators []string            `yaml:"paragraph_indicators"`
}

// InjectionCategory groups injection patterns of one attack family.
// Categories are evaluated from highest to lowest priority; within a
// category, patterns are evaluated in file order.
type InjectionCategory struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is a single named regex rule.
type Pattern struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

// ClaimClass is one technical-claim type that requires a citation.
type ClaimClass struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

// Compile compiles every regex in the file and sorts injection categories
// by priority (highest first). Must be called once before the file is used
// for matching. Returns an error naming the first regex that fails to
// compile.
func (f *PatternFile) Compile() error {
	for i := range f.InjectionCategories {
		cat := &f.InjectionCategories[i]
		for j := range cat.Patterns {
			p := &cat.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile injection pattern %s: %w", p.Id, err)
			}
			p.compiled = re
		}
	}
	for i := range f.ClaimClasses {
		cc := &f.ClaimClasses[i]
		re, err := regexp.Compile(cc.Regex)
		if err != nil {
			return fmt.Errorf("failed to compile claim class %s: %w", cc.Name, err)
		}
		cc.compiled = re
	}
	sort.SliceStable(f.InjectionCategories, func(i, j int) bool {
		return f.InjectionCategories[i].Priority > f.InjectionCategories[j].Priority
	})
	return nil
}

// RetrievedChunk is one snippet of tenant document text returned by the
// retrieval provider, with its similarity score to the query (0-1).
// Chunks are ephemeral: produced per request, never persisted beyond the
// audit record counts.
type RetrievedChunk struct {
	ID         string  `json:"id"`
	Text       string  `json:"chunk_text"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source,omitempty"`
}

// InjectionFinding describes a matched injection pattern, for audit logging.
type InjectionFinding struct {
	Category  string `json:"category"`
	PatternId string `json:"pattern_id"`
	Matched   string `json:"matched_content"`
}

// GateDecision is the outcome of the retrieval gate.
type GateDecision struct {
	// UsableChunks are the chunks that survived filtering, in the order
	// the retrieval provider returned them.
	UsableChunks []RetrievedChunk

	// RequiresHumanReview is set when the surviving evidence is not
	// sufficient to answer safely; the orchestrator must short-circuit to
	// the canonical refusal without calling the model.
	RequiresHumanReview bool

	// EscalationClass reports whether the query matched the escalation
	// keyword set and was therefore held to the stricter evidence bar.
	EscalationClass bool
}

// Verdict is the outcome of the global response validation.
type Verdict struct {
	Valid bool `json:"valid"`

	// Reason is a short machine-readable reason when Valid is false.
	Reason string `json:"reason,omitempty"`

	// MatchedClaimClasses lists the technical-claim classes found in the
	// response, cited or not. Recorded in the audit trail either way.
	MatchedClaimClasses []string `json:"matched_claim_classes,omitempty"`

	// CitationPresent reports whether at least one well-formed citation
	// with a non-empty source name was found.
	CitationPresent bool `json:"citation_present"`

	// CitedSources are the trimmed source names extracted from citations.
	CitedSources []string `json:"cited_sources,omitempty"`
}

// ParagraphReport is the outcome of the stricter paragraph-level check.
type ParagraphReport struct {
	// UncitedParagraphs counts technical paragraphs lacking their own
	// citation.
	UncitedParagraphs int `json:"uncited_paragraphs"`

	// TotalTechnicalParagraphs counts paragraphs that triggered the
	// technical-indicator rule at all.
	TotalTechnicalParagraphs int `json:"total_technical_paragraphs"`
}

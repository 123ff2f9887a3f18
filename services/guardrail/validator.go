// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"strings"
)

// ParagraphMinChars is the minimum paragraph length for the paragraph-level
// citation rule. Shorter paragraphs (headers, single-line answers) are
// exempt from the per-paragraph requirement and covered only by the global
// rule.
const ParagraphMinChars = 150

// Validation rejection reasons recorded in the audit trail.
const (
	ReasonUncitedTechnicalClaim = "uncited_technical_claim"
	ReasonCitationWithoutDocs   = "citation_without_documents"
	ReasonUncitedParagraph      = "uncited_technical_paragraph"
	ReasonFabricatedCitation    = "fabricated_citation"
)

// Validate applies the global citation rule to a complete model response.
//
// # Description
//
// The response is scanned for technical-claim patterns: numeric pressures
// (psi/kPa/bar), temperatures, electrical values, refrigerant codes,
// step-by-step procedural phrasing, and hedged diagnostic conclusions.
// These are exactly the claim types a technician could act on unsafely if
// hallucinated.
//
// Decision rule: if any blocked pattern matches anywhere in the response,
// at least one valid citation must be present, where a valid citation is a
// bracketed [Source: <name>] token with a non-empty, non-whitespace name.
// `[Source: ]` never satisfies the rule.
//
// Hallucinated-citation defense: if a citation is present but hasDocuments
// is false (no documents were ever available to this tenant/request), the
// response is rejected anyway. A citation cannot be trusted when no source
// material could have produced it.
//
// # Inputs
//
//   - response: The complete (buffered) model response text.
//   - hasDocuments: Whether any source document was available to the
//     request at all.
//
// # Outputs
//
//   - Verdict: Valid flag, rejection reason, matched claim classes, and
//     the extracted citation sources for downstream fabrication checks.
//
// On rejection the orchestrator substitutes CanonicalRefusal verbatim.
func (e *Engine) Validate(response string, hasDocuments bool) Verdict {
	lowered := normalize(response)

	var matched []string
	for _, cc := range e.claimClasses {
		if cc.compiled.MatchString(lowered) {
			matched = append(matched, cc.Name)
		}
	}

	sources := ExtractCitationSources(response)
	citationPresent := len(sources) > 0

	verdict := Verdict{
		Valid:               true,
		MatchedClaimClasses: matched,
		CitationPresent:     citationPresent,
		CitedSources:        sources,
	}

	if citationPresent && !hasDocuments {
		verdict.Valid = false
		verdict.Reason = ReasonCitationWithoutDocs
		return verdict
	}

	if len(matched) > 0 && !citationPresent {
		verdict.Valid = false
		verdict.Reason = ReasonUncitedTechnicalClaim
		return verdict
	}

	return verdict
}

// ValidateParagraphs applies the stricter per-paragraph citation rule.
//
// # Description
//
// The response is split on blank lines. Every paragraph longer than
// ParagraphMinChars that contains a technical indicator (any claim-class
// match, "step N", "procedure", "specification", "warranty") must contain
// its own citation: a single global citation cannot cover multiple
// unrelated technical paragraphs.
//
// The paragraph rule reuses the same compiled claim-class set as Validate,
// so the two granularities cannot drift apart.
//
// # Inputs
//
//   - response: The complete model response text.
//
// # Outputs
//
//   - ParagraphReport: Counts of technical paragraphs and of those lacking
//     a citation. UncitedParagraphs > 0 means rejection.
func (e *Engine) ValidateParagraphs(response string) ParagraphReport {
	var report ParagraphReport

	for _, para := range splitParagraphs(response) {
		if len(para) <= ParagraphMinChars {
			continue
		}
		if !e.isTechnicalParagraph(para) {
			continue
		}
		report.TotalTechnicalParagraphs++
		if len(ExtractCitationSources(para)) == 0 {
			report.UncitedParagraphs++
		}
	}

	return report
}

// ValidateCitationSources checks every cited source name against the
// tenant's known documents.
//
// # Description
//
// A cited name is legitimate when it fuzzy-matches a known uploaded
// document name (case-insensitive, substring in either direction after
// trimming a file extension), or - only when code-reference mode is
// enabled - starts with a recognized regulatory code prefix (NEC, CEC,
// CSA, IPC, ...). Everything else is fabricated and the response must be
// rejected.
//
// # Inputs
//
//   - sources: Citation source names as extracted by Validate.
//   - knownDocuments: The tenant's uploaded document names.
//   - codeReferencesEnabled: Whether regulatory code citations are allowed
//     for this tenant.
//
// # Outputs
//
//   - []string: The fabricated source names, empty when all check out.
func (e *Engine) ValidateCitationSources(sources, knownDocuments []string, codeReferencesEnabled bool) []string {
	var fabricated []string
	for _, src := range sources {
		if e.sourceIsKnown(src, knownDocuments, codeReferencesEnabled) {
			continue
		}
		fabricated = append(fabricated, src)
	}
	return fabricated
}

// ExtractCitationSources returns the trimmed, non-empty source names from
// every [Source: <name>] token in the text. Empty or whitespace-only names
// are dropped, so `[Source: ]` and `[Source:    ]` yield nothing.
func ExtractCitationSources(text string) []string {
	var sources []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name != "" {
			sources = append(sources, name)
		}
	}
	return sources
}

// isTechnicalParagraph reports whether a paragraph triggers the
// technical-indicator rule.
func (e *Engine) isTechnicalParagraph(para string) bool {
	lowered := normalize(para)
	for _, cc := range e.claimClasses {
		if cc.compiled.MatchString(lowered) {
			return true
		}
	}
	for _, re := range e.paragraphIndicators {
		if re.MatchString(lowered) {
			return true
		}
	}
	return false
}

// sourceIsKnown implements the fuzzy match between a cited name and the
// tenant's document registry, plus the optional code-prefix path.
func (e *Engine) sourceIsKnown(source string, knownDocuments []string, codeReferencesEnabled bool) bool {
	cited := strings.ToLower(strings.TrimSpace(source))
	if cited == "" {
		return false
	}

	for _, doc := range knownDocuments {
		known := strings.ToLower(strings.TrimSpace(trimFileExtension(doc)))
		if known == "" {
			continue
		}
		if strings.Contains(known, cited) || strings.Contains(cited, known) {
			return true
		}
	}

	if codeReferencesEnabled {
		upper := strings.ToUpper(strings.TrimSpace(source))
		for _, prefix := range e.codePrefixes {
			if strings.HasPrefix(upper, strings.ToUpper(prefix)) {
				return true
			}
		}
	}

	return false
}

// trimFileExtension drops a trailing ".pdf"-style extension so "Service
// Manual.pdf" matches a citation of "Service Manual".
func trimFileExtension(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 && len(name)-idx <= 5 {
		return name[:idx]
	}
	return name
}

// splitParagraphs splits text on blank lines, trimming each paragraph.
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package guardrail implements the response guardrail pipeline for the
// FieldTek field assistant: injection scanning, document sanitization, the
// retrieval-evidence gate, and response/citation validation.
//
// All components are pure functions over an immutable Engine: patterns are
// compiled once from an embedded YAML file at startup, matching retains no
// state between calls, and identical inputs always produce identical
// results. The Engine is safe for concurrent use.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/WizardJames69/FieldTek-sub002/services/guardrail/enforcement"
	"gopkg.in/yaml.v3"
)

// CanonicalRefusal is the fixed fallback string substituted whenever
// evidence or validation is insufficient. Never a partially redacted
// version of the model's real output: partial output could leak fragments
// of unverified claims.
const CanonicalRefusal = "I cannot find this information in the uploaded documents."

// RedactionMarker replaces injected instructions found in document text.
// Matches are replaced rather than deleted so surrounding technical context
// and paragraph structure survive for the model.
const RedactionMarker = "[REDACTED]"

// citationPattern matches a bracketed [Source: <name>] token. The captured
// name may still be empty or whitespace; callers must check that
// separately so `[Source: ]` never counts as a citation.
var citationPattern = regexp.MustCompile(`(?i)\[source:([^\]]*)\]`)

// Engine holds the compiled guardrail rule sets. Construct once via
// NewEngine and share across requests.
type Engine struct {
	injectionCategories []InjectionCategory
	claimClasses        []ClaimClass
	escalationKeywords  []string
	codePrefixes        []string
	paragraphIndicators []*regexp.Regexp

	// redactionPatterns are case-insensitive variants of the injection
	// patterns, used by Sanitize to redact matches in original-case text.
	redactionPatterns []*regexp.Regexp
}

// sanitizerPatterns returns the case-insensitive injection patterns used
// for in-place redaction of document text.
func (e *Engine) sanitizerPatterns() []*regexp.Regexp {
	return e.redactionPatterns
}

// NewEngine parses the embedded guardrail_patterns.yaml, compiles every
// regex, and returns a ready Engine. Returns an error if the embedded YAML
// is malformed or contains an invalid regex; both indicate a build defect,
// so callers should treat a failure as fatal at startup.
func NewEngine() (*Engine, error) {
	var file PatternFile
	if err := yaml.Unmarshal(enforcement.GuardrailPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded guardrail patterns: %w", err)
	}
	if err := file.Compile(); err != nil {
		return nil, fmt.Errorf("failed to compile guardrail patterns: %w", err)
	}

	indicators := make([]*regexp.Regexp, 0, len(file.ParagraphIndicators))
	for _, raw := range file.ParagraphIndicators {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to compile paragraph indicator %q: %w", raw, err)
		}
		indicators = append(indicators, re)
	}

	keywords := make([]string, len(file.EscalationKeywords))
	for i, kw := range file.EscalationKeywords {
		keywords[i] = strings.ToLower(kw)
	}

	var redaction []*regexp.Regexp
	for _, cat := range file.InjectionCategories {
		for _, p := range cat.Patterns {
			re, err := regexp.Compile("(?i:" + p.Regex + ")")
			if err != nil {
				return nil, fmt.Errorf("failed to compile redaction pattern %s: %w", p.Id, err)
			}
			redaction = append(redaction, re)
		}
	}

	return &Engine{
		injectionCategories: file.InjectionCategories,
		claimClasses:        file.ClaimClasses,
		escalationKeywords:  keywords,
		codePrefixes:        file.CodePrefixes,
		paragraphIndicators: indicators,
		redactionPatterns:   redaction,
	}, nil
}

// normalize lowercases text before pattern matching. Every pattern in the
// embedded file is written against lowercased input.
func normalize(text string) string {
	return strings.ToLower(text)
}

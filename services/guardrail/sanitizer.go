// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package guardrail

import "strings"

// SanitizeResult is the outcome of sanitizing one document chunk.
type SanitizeResult struct {
	Sanitized         string
	InjectionDetected bool
}

// Sanitize cleans extracted document text before it enters model context.
//
// # Description
//
// Two passes:
//
//  1. Strip non-printable control characters and bidirectional-text
//     override characters. Uploaded manuals are a smuggling vector for
//     null bytes and hidden-direction text.
//  2. Run the injection pattern set against the cleaned text and replace
//     every match in place with RedactionMarker. Matches are replaced,
//     not deleted, so surrounding technical text and paragraph structure
//     are preserved for the model while the injected instruction is
//     neutralized.
//
// Sanitize is idempotent: sanitizing already-sanitized text is a no-op.
// Runs once per retrieved chunk.
//
// # Inputs
//
//   - raw: Extracted document text, possibly hostile.
//
// # Outputs
//
//   - SanitizeResult: The cleaned text and whether any injection pattern
//     was redacted.
func (e *Engine) Sanitize(raw string) SanitizeResult {
	cleaned := stripControlCharacters(raw)

	detected := false
	for _, re := range e.sanitizerPatterns() {
		if re.MatchString(cleaned) {
			detected = true
			cleaned = re.ReplaceAllString(cleaned, RedactionMarker)
		}
	}

	return SanitizeResult{Sanitized: cleaned, InjectionDetected: detected}
}

// stripControlCharacters removes C0/C1 control characters (keeping tab,
// newline, carriage return) and Unicode direction-control characters.
func stripControlCharacters(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || (r >= 0x7F && r <= 0x9F) {
			continue
		}
		if isDirectionControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isDirectionControl reports whether r is a bidirectional override,
// embedding, isolate, or zero-width character.
func isDirectionControl(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F: // zero-width space/joiners, LRM, RLM
		return true
	case r >= 0x202A && r <= 0x202E: // LRE, RLE, PDF, LRO, RLO
		return true
	case r >= 0x2066 && r <= 0x2069: // LRI, RLI, FSI, PDI
		return true
	case r == 0xFEFF: // zero-width no-break space / BOM
		return true
	}
	return false
}

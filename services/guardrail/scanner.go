// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package guardrail

// Detect scans text for prompt-injection attempts.
//
// # Description
//
// The input is case-normalized, then tested against the ordered injection
// categories (instruction override, role reassignment, prompt disclosure,
// jailbreak keywords, chat-template delimiter tokens). The first matching
// pattern wins; its category and id are returned for audit logging.
//
// The scanner is heuristic and false-negative-tolerant by design, but it
// must not flag ordinary urgency or social-engineering phrasing ("my boss
// said...", "this is urgent"): every pattern is anchored on an explicit
// command verb plus an instruction/restriction noun.
//
// Detect is used identically on user input (pre-request gate: a match
// rejects the whole request) and on retrieved document text (a match
// redacts and flags, see Sanitize).
//
// # Inputs
//
//   - text: Arbitrary text, a user message or a document chunk.
//
// # Outputs
//
//   - InjectionFinding: Category, pattern id, and matched span of the
//     first hit. Zero value when no pattern matched.
//   - bool: True if an injection pattern matched.
//
// Pure function: no retained scan position, no side effects. Repeated
// calls with identical text yield identical results.
func (e *Engine) Detect(text string) (InjectionFinding, bool) {
	lowered := normalize(text)
	for _, cat := range e.injectionCategories {
		for _, p := range cat.Patterns {
			if match := p.compiled.FindString(lowered); match != "" {
				return InjectionFinding{
					Category:  cat.Name,
					PatternId: p.Id,
					Matched:   match,
				}, true
			}
		}
	}
	return InjectionFinding{}, false
}

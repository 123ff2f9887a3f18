// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime guardrail logic. It uses
the Go embed package to bake guardrail_patterns.yaml directly into the
compiled binary, so the safety rules are immutable at runtime and travel
with the executable.
*/

package enforcement

import (
	_ "embed"
)

// GuardrailPatterns holds the raw byte content of 'guardrail_patterns.yaml'.
//
// Populated at compile time via the Go 'embed' directive. Baking the YAML
// into the binary guarantees the injection and citation rules cannot be
// tampered with on the host filesystem without recompiling the service.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.GuardrailPatterns, &targetStruct)
//
//go:embed guardrail_patterns.yaml
var GuardrailPatterns []byte

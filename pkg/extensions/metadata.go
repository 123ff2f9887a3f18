// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package extensions

import "time"

// Metadata stores arbitrary key-value pairs for context and logging.
//
// Using a defined type rather than map[string]any provides clearer intent
// in signatures and type-safe accessors.
//
// # Common Keys
//
//   - "request_id": request correlation ID
//   - "tenant_id": the tenant involved
//   - "ip_address": client IP address
//   - "category": matched guardrail category
//   - "duration_ms": operation duration
//
// # Thread Safety
//
// Metadata is NOT thread-safe. Do not share a single instance across
// goroutines without external synchronization.
//
// Example:
//
//	meta := extensions.NewMetadata().
//	    Set("request_id", requestID).
//	    Set("tenant_id", tenantID)
type Metadata map[string]any

// NewMetadata creates an empty Metadata instance.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Set adds or updates a key-value pair and returns the Metadata for
// chaining.
func (m Metadata) Set(key string, value any) Metadata {
	m[key] = value
	return m
}

// Get retrieves a value by key, with a boolean indicating whether the key
// exists.
func (m Metadata) Get(key string) (any, bool) {
	value, ok := m[key]
	return value, ok
}

// GetString is the type-safe accessor for string values. Returns "" and
// false when the key is absent or the value is not a string.
func (m Metadata) GetString(key string) (string, bool) {
	value, ok := m[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// GetInt is the type-safe accessor for int values.
func (m Metadata) GetInt(key string) (int, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	i, ok := value.(int)
	return i, ok
}

// GetBool is the type-safe accessor for bool values.
func (m Metadata) GetBool(key string) (bool, bool) {
	value, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// GetTime is the type-safe accessor for time.Time values.
func (m Metadata) GetTime(key string) (time.Time, bool) {
	value, ok := m[key]
	if !ok {
		return time.Time{}, false
	}
	t, ok := value.(time.Time)
	return t, ok
}

// Has reports whether a key exists, regardless of its value.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Clone creates a shallow copy of the Metadata. Values that are pointers
// or references still point to the same underlying data.
func (m Metadata) Clone() Metadata {
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Merge copies all key-value pairs from another Metadata into this one,
// overwriting existing keys. A nil argument is a no-op.
func (m Metadata) Merge(other Metadata) Metadata {
	if other == nil {
		return m
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the injection points for hosted deployments.
//
// The single-region build of the assistant works from environment
// configuration alone. Hosted multi-region deployments add capabilities
// by providing concrete implementations of these interfaces and injecting
// them via ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Token validation and tenant identity (AuthProvider)
//   - security_log.go: Security-event logging (SecurityLogger)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// Pass this to service constructors. All fields are optional; nil values
// are replaced with defaults when DefaultOptions() is called.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens.
	// Default: NopAuthProvider (any non-empty token maps to local-tenant)
	AuthProvider AuthProvider

	// SecurityLogger records security-relevant events (auth failures,
	// rate-limit hits, injection detections).
	// Default: SlogSecurityLogger (structured log output)
	SecurityLogger SecurityLogger
}

// DefaultOptions returns ServiceOptions suitable for a single-region
// development deployment.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:   &NopAuthProvider{},
		SecurityLogger: &SlogSecurityLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithSecurityLogger returns a copy of opts with the given SecurityLogger.
func (opts ServiceOptions) WithSecurityLogger(logger SecurityLogger) ServiceOptions {
	opts.SecurityLogger = logger
	return opts
}

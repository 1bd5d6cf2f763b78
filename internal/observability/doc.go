// Package observability provides structured logging and metrics
// for the portal gateway.
//
// This package implements:
//   - zap logger construction (json or console encoding)
//   - Prometheus collectors for signing key fetches, key cache lookups
//     and authorization decisions
//   - Log-safe token redaction
//
// Every authorization check is logged with its outcome and, on failure,
// the specific error kind.
package observability

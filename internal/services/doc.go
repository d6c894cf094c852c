// Package services defines shared utilities consumed by the pipeline and the
// external adapter integrations.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper that let adapter failures
//     be classified once at the orchestrator boundary (transient, auth
//     expired, quota, rejected, authorization lost).
//   - Context helpers that stamp episode keys and run identifiers for logging.
//
// Use these helpers when wiring new adapter logic so operational behaviour
// (error handling, retries, observability) stays uniform across the pipeline.
package services

// Package pipeline drives episodes through the review lifecycle: scrape the
// serial's listing, render the review video, publish it, and record every
// step in the catalog. The orchestrator owns the retry budget, exponential
// backoff, the per-serial quota cooldown, and the system-wide publish halt;
// adapters stay narrow and report failures through the shared taxonomy.
package pipeline

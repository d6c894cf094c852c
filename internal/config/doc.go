// Package config loads, validates, and normalizes the serialreel TOML
// configuration.
//
// Configuration sections by subsystem:
//   - top level: data and log directories
//   - [[serial]]: the tracked serial registry (name, external id, thumbnail)
//   - [scraper]: listing page endpoint and request timeout
//   - [renderer]: ffmpeg binary and render timeout
//   - [youtube]: OAuth token endpoint, upload endpoint, client credentials
//   - [pipeline]: retry budget, backoff, quota cooldown, worker pool size,
//     token safety margin
//   - [scheduler]: per-serial interval, sweep interval, artifact retention
//   - [logging]: log format, level, and retention
//   - [notifications]: ntfy push notification settings
//
// The serial registry is loaded once at process start and never mutated at
// runtime; serial ids must be unique.
package config

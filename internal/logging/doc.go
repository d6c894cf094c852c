// Package logging builds the slog loggers used across serialreel.
//
// It provides a console handler tuned for operator terminals, a JSON handler
// for machine ingestion, shared attribute helpers, standardized field names,
// and retention pruning for the on-disk log files. All components receive a
// *slog.Logger decorated with a component attribute; alert-worthy events carry
// the alert field so operators can route them to pagers.
package logging

// Package daemon composes the long-running process: it opens the catalog and
// credential stores, wires the default adapters into the pipeline, enforces
// single-instance execution with a lock file, and drives the scheduler loop
// until shutdown.
package daemon

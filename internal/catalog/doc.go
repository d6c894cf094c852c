// Package catalog persists every observed episode in SQLite and exposes the
// lifecycle operations the pipeline drives.
//
// The Store is the single source of truth for idempotency: Reconcile creates
// Discovered records for unseen candidates, Transition performs
// compare-and-swap stage changes (returning ErrConflict when another run got
// there first), CompleteRender hands a rendered episode to the upload stage
// and stores its artifact in one durable write, and
// RecordArtifact/RecordPublished are idempotent terminal writes. Records are never deleted; they remain as an audit trail after
// their artifact files are reclaimed by the retention sweeper.
//
// Every mutation is durably committed before the call returns, so a crash
// after a successful call is observed on restart. Schema changes bump the
// version in schema.go.
package catalog

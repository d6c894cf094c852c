package testsupport

import (
	"context"
	"testing"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedEpisode inserts a Discovered record for tests using the provided store.
func SeedEpisode(t testing.TB, store *catalog.Store, serialID, nativeID string) *catalog.Record {
	t.Helper()

	records, err := store.Reconcile(context.Background(), serialID, []catalog.Candidate{
		{NativeID: nativeID, Title: "Episode " + nativeID, SourceURL: "https://example.test/" + nativeID},
	})
	if err != nil {
		t.Fatalf("store.Reconcile: %v", err)
	}
	key := catalog.EpisodeKey(serialID, nativeID)
	for _, record := range records {
		if record.EpisodeKey == key {
			return record
		}
	}
	t.Fatalf("seeded episode %s missing from reconcile result", key)
	return nil
}

// AdvanceTo walks a record from its current stage to the target stage through
// the shortest legal path, without bumping attempt counts.
func AdvanceTo(t testing.TB, store *catalog.Store, episodeKey string, target catalog.Stage) *catalog.Record {
	t.Helper()

	record, err := store.Get(context.Background(), episodeKey)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	path := map[catalog.Stage]catalog.Stage{
		catalog.StageDiscovered:   catalog.StageRendering,
		catalog.StageRendering:    catalog.StageUploading,
		catalog.StageUploading:    catalog.StagePublished,
		catalog.StageRenderFailed: catalog.StageRendering,
		catalog.StageUploadFailed: catalog.StageUploading,
	}
	for record.Stage != target {
		next, ok := path[record.Stage]
		if !ok {
			t.Fatalf("no path from %s to %s", record.Stage, target)
		}
		switch {
		case record.Stage == catalog.StageRendering && target == catalog.StageRenderFailed:
			next = catalog.StageRenderFailed
		case record.Stage == catalog.StageUploading && target == catalog.StageUploadFailed:
			next = catalog.StageUploadFailed
		}
		from := record.Stage
		record, err = store.Transition(context.Background(), episodeKey, from, next, false)
		if err != nil {
			t.Fatalf("transition %s -> %s: %v", from, next, err)
		}
	}
	return record
}

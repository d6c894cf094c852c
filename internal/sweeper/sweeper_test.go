package sweeper_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/sweeper"
	"serialreel/internal/testsupport"
)

const retention = 48 * time.Hour

func artifactFor(t *testing.T, store *catalog.Store, cfg *config.Config, nativeID string, target catalog.Stage) (string, *catalog.Record) {
	t.Helper()
	record := testsupport.SeedEpisode(t, store, "test-serial", nativeID)
	testsupport.AdvanceTo(t, store, record.EpisodeKey, catalog.StageUploading)

	path := filepath.Join(cfg.VideoDir(), "test-serial", nativeID+".mp4")
	testsupport.WriteFile(t, path, 256)
	if err := store.RecordArtifact(context.Background(), record.EpisodeKey, path); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	record = testsupport.AdvanceTo(t, store, record.EpisodeKey, target)
	return path, record
}

func TestSweepRemovesOldPublishedArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	s := sweeper.New(cfg, store, nil)

	oldPath, _ := artifactFor(t, store, cfg, "ep-old", catalog.StagePublished)
	freshPath, _ := artifactFor(t, store, cfg, "ep-fresh", catalog.StagePublished)

	// The published record is hours old from the sweep's point of view.
	future := time.Now().Add(retention + time.Hour)
	result, err := s.Sweep(context.Background(), future, retention)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 2 {
		t.Fatalf("expected 2 deletions, got %#v", result)
	}
	for _, path := range []string{oldPath, freshPath} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s removed: %v", path, err)
		}
	}
}

func TestSweepKeepsRecentAndActiveArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	s := sweeper.New(cfg, store, nil)

	publishedPath, _ := artifactFor(t, store, cfg, "ep-1", catalog.StagePublished)
	uploadingPath, _ := artifactFor(t, store, cfg, "ep-2", catalog.StageUploading)

	// Within the retention window nothing may be touched.
	result, err := s.Sweep(context.Background(), time.Now(), retention)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 0 {
		t.Fatalf("expected no deletions, got %#v", result)
	}

	// Even far beyond the window an in-flight upload keeps its artifact.
	future := time.Now().Add(30 * 24 * time.Hour)
	if _, err := s.Sweep(context.Background(), future, retention); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if _, err := os.Stat(uploadingPath); err != nil {
		t.Fatalf("uploading artifact must survive: %v", err)
	}
	if _, err := os.Stat(publishedPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("published artifact should be gone: %v", err)
	}
}

func TestSweepRemovesDeadLetterArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	s := sweeper.New(cfg, store, nil)

	path, record := artifactFor(t, store, cfg, "ep-1", catalog.StageUploadFailed)
	if err := store.DeadLetter(context.Background(), record.EpisodeKey, cfg.Pipeline.MaxAttempts); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	future := time.Now().Add(retention + time.Hour)
	result, err := s.Sweep(context.Background(), future, retention)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected dead-letter artifact removed, got %#v", result)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected %s removed: %v", path, err)
	}
}

func TestSweepKeepsRetryableFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	s := sweeper.New(cfg, store, nil)

	// One failed attempt, budget not exhausted: still the pipeline's file.
	path, _ := artifactFor(t, store, cfg, "ep-1", catalog.StageUploadFailed)

	future := time.Now().Add(retention + time.Hour)
	if _, err := s.Sweep(context.Background(), future, retention); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("retryable artifact must survive: %v", err)
	}
}

func TestSweepRemovesOldUnownedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	s := sweeper.New(cfg, store, nil)

	debris := filepath.Join(cfg.VideoDir(), "test-serial", "orphan.mp4.tmp.mp4")
	testsupport.WriteFile(t, debris, 64)
	testsupport.AgeFile(t, debris, retention+time.Hour)

	fresh := filepath.Join(cfg.VideoDir(), "test-serial", "fresh-orphan.mp4")
	testsupport.WriteFile(t, fresh, 64)

	result, err := s.Sweep(context.Background(), time.Now(), retention)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected only aged debris removed, got %#v", result)
	}
	if _, err := os.Stat(debris); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected debris removed: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh unowned file must survive: %v", err)
	}
}

func TestSweepMissingVideoDirIsNotAnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := os.RemoveAll(cfg.VideoDir()); err != nil {
		t.Fatalf("remove video dir: %v", err)
	}

	s := sweeper.New(cfg, store, nil)
	if _, err := s.Sweep(context.Background(), time.Now(), retention); err != nil {
		t.Fatalf("Sweep should tolerate a missing directory: %v", err)
	}
}

package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/pipeline"
	"serialreel/internal/services"
	"serialreel/internal/services/renderer"
	"serialreel/internal/services/youtube"
	"serialreel/internal/testsupport"
)

type fakeScraper struct {
	mu         sync.Mutex
	candidates []catalog.Candidate
	err        error
}

func (f *fakeScraper) ListEpisodes(ctx context.Context, serial config.Serial) ([]catalog.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]catalog.Candidate(nil), f.candidates...), nil
}

type fakeRenderer struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	jobs     []renderer.Job
	renderFn func(job renderer.Job) error
}

func (f *fakeRenderer) Render(ctx context.Context, job renderer.Job) (string, error) {
	f.mu.Lock()
	f.calls++
	f.jobs = append(f.jobs, job)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	hook := f.renderFn
	f.mu.Unlock()

	if hook != nil {
		if hookErr := hook(job); hookErr != nil {
			return "", hookErr
		}
	}
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(job.OutputPath, []byte("video"), 0o644); err != nil {
		return "", err
	}
	return job.OutputPath, nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRenderer) jobFor(episodeKey string) (renderer.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.EpisodeKey == episodeKey {
			return job, true
		}
	}
	return renderer.Job{}, false
}

type fakePublisher struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	id       string
	uploadFn func(filePath string) (string, error)
}

func (f *fakePublisher) Upload(ctx context.Context, token, filePath string, meta youtube.Metadata) (string, error) {
	f.mu.Lock()
	f.calls++
	hook := f.uploadFn
	var err error
	if hook == nil && len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	id := f.id
	f.mu.Unlock()

	if hook != nil {
		return hook(filePath)
	}
	if err != nil {
		return "", err
	}
	if id == "" {
		return "vid-1", nil
	}
	return id, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTokens struct {
	mu         sync.Mutex
	refreshes  int
	tokenErr   error
	refreshErr error
	lost       bool
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "access-1", nil
}

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "access-2", nil
}

func (f *fakeTokens) AuthorizationLost() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lost
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fakeNotifier struct {
	mu          sync.Mutex
	published   int
	deadLetters int
	authLost    int
}

func (f *fakeNotifier) NotifyPublished(ctx context.Context, serialName, episodeKey, videoID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return nil
}

func (f *fakeNotifier) NotifyDeadLetter(ctx context.Context, episodeKey, stage, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters++
	return nil
}

func (f *fakeNotifier) NotifyAuthorizationLost(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authLost++
	return nil
}

func (f *fakeNotifier) TestNotification(ctx context.Context) error { return nil }

func (f *fakeNotifier) counts() (published, deadLetters, authLost int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published, f.deadLetters, f.authLost
}

type fixture struct {
	cfg       *config.Config
	store     *catalog.Store
	serial    config.Serial
	scraper   *fakeScraper
	renderer  *fakeRenderer
	publisher *fakePublisher
	tokens    *fakeTokens
	notifier  *fakeNotifier
	orch      *pipeline.Orchestrator
}

func newFixture(t *testing.T, candidates ...catalog.Candidate) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	// Zero backoff so retries are eligible immediately within a test.
	cfg.Pipeline.BackoffBaseSeconds = 0
	cfg.Pipeline.BackoffCapSeconds = 0

	thumb := filepath.Join(t.TempDir(), "thumb.jpg")
	testsupport.WriteFile(t, thumb, 64)
	cfg.Serials[0].Thumbnail = thumb

	f := &fixture{
		cfg:       cfg,
		store:     testsupport.MustOpenStore(t, cfg),
		serial:    cfg.Serials[0],
		scraper:   &fakeScraper{candidates: candidates},
		renderer:  &fakeRenderer{},
		publisher: &fakePublisher{},
		tokens:    &fakeTokens{},
		notifier:  &fakeNotifier{},
	}
	f.orch = pipeline.New(cfg, f.store, f.scraper, f.renderer, f.publisher, f.tokens, f.notifier, nil)
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	if err := f.orch.RunSerial(context.Background(), f.serial); err != nil {
		t.Fatalf("RunSerial failed: %v", err)
	}
}

func (f *fixture) record(t *testing.T, nativeID string) *catalog.Record {
	t.Helper()
	record, err := f.store.Get(context.Background(), catalog.EpisodeKey(f.serial.ID, nativeID))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return record
}

func TestRunSerialPublishesDiscoveredEpisodes(t *testing.T) {
	f := newFixture(t,
		catalog.Candidate{NativeID: "ep-1", Title: "Episode 1", SourceURL: "https://example.test/ep-1"},
		catalog.Candidate{NativeID: "ep-2", Title: "Episode 2", SourceURL: "https://example.test/ep-2"},
	)
	f.run(t)

	for _, id := range []string{"ep-1", "ep-2"} {
		record := f.record(t, id)
		if record.Stage != catalog.StagePublished {
			t.Fatalf("%s: expected published, got %s", id, record.Stage)
		}
		if record.ArtifactPath == "" || record.PlatformVideoID == "" {
			t.Fatalf("%s: missing artifact or video id: %#v", id, record)
		}
		job, ok := f.renderer.jobFor(record.EpisodeKey)
		if !ok {
			t.Fatalf("%s: no render job captured", id)
		}
		if job.SourceURL != "https://example.test/"+id {
			t.Fatalf("%s: source asset not handed to the renderer, got %q", id, job.SourceURL)
		}
	}
	published, _, _ := f.notifier.counts()
	if published != 2 {
		t.Fatalf("expected 2 publish notifications, got %d", published)
	}
}

func TestRunSerialSkipsOnScrapeFailure(t *testing.T) {
	f := newFixture(t)
	f.scraper.err = services.Wrap(services.ErrTransient, "hotstar", "list", "listing down", nil)
	f.run(t)
	if f.renderer.callCount() != 0 {
		t.Fatal("no work expected after scrape failure")
	}
}

func TestTransientRenderFailureDeadLettersAfterBudget(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})
	renderErr := services.Wrap(services.ErrTransient, "renderer", "render", "ffmpeg crashed", nil)
	f.renderer.errs = []error{renderErr, renderErr, renderErr, renderErr}

	for i := 0; i < 5; i++ {
		f.run(t)
	}

	record := f.record(t, "ep-1")
	if record.Stage != catalog.StageRenderFailed {
		t.Fatalf("expected render_failed, got %s", record.Stage)
	}
	if record.AttemptCount != f.cfg.Pipeline.MaxAttempts {
		t.Fatalf("expected attempts stopped at %d, got %d", f.cfg.Pipeline.MaxAttempts, record.AttemptCount)
	}
	if f.renderer.callCount() != f.cfg.Pipeline.MaxAttempts {
		t.Fatalf("dead letter must not be retried: %d render calls", f.renderer.callCount())
	}
	_, deadLetters, _ := f.notifier.counts()
	if deadLetters != 1 {
		t.Fatalf("expected exactly one dead letter alert, got %d", deadLetters)
	}
	if record.ErrorMessage == "" {
		t.Fatal("expected failure detail recorded")
	}
}

func TestPermanentRenderFailureDeadLettersImmediately(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})
	f.renderer.errs = []error{services.Wrap(services.ErrRejected, "renderer", "render", "bad thumbnail", nil)}

	f.run(t)
	f.run(t)

	record := f.record(t, "ep-1")
	if !record.IsDeadLetter(f.cfg.Pipeline.MaxAttempts) {
		t.Fatalf("expected dead letter, got %#v", record)
	}
	if f.renderer.callCount() != 1 {
		t.Fatalf("permanent failure must not retry: %d render calls", f.renderer.callCount())
	}
	_, deadLetters, _ := f.notifier.counts()
	if deadLetters != 1 {
		t.Fatalf("expected one dead letter alert, got %d", deadLetters)
	}
}

func TestExpiredTokenRefreshesAndRetriesOnce(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})
	f.publisher.errs = []error{services.Wrap(services.ErrAuthExpired, "youtube", "upload", "401", nil)}

	f.run(t)

	record := f.record(t, "ep-1")
	if record.Stage != catalog.StagePublished {
		t.Fatalf("expected published after refresh, got %s", record.Stage)
	}
	if record.AttemptCount != 0 {
		t.Fatalf("token refresh must not consume the budget, got %d attempts", record.AttemptCount)
	}
	if f.tokens.refreshCount() != 1 {
		t.Fatalf("expected one forced refresh, got %d", f.tokens.refreshCount())
	}
	if f.publisher.callCount() != 2 {
		t.Fatalf("expected upload retried once, got %d calls", f.publisher.callCount())
	}
}

func TestQuotaExceededPausesSerialWithoutBurningAttempts(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})
	f.publisher.errs = []error{services.Wrap(services.ErrQuotaExceeded, "youtube", "upload", "quotaExceeded", nil)}

	f.run(t)

	record := f.record(t, "ep-1")
	if record.Stage != catalog.StageUploadFailed {
		t.Fatalf("expected upload_failed, got %s", record.Stage)
	}
	if record.AttemptCount != 0 {
		t.Fatalf("quota must not consume the budget, got %d attempts", record.AttemptCount)
	}

	// Cooldown active: the next run must not touch the publisher.
	calls := f.publisher.callCount()
	f.run(t)
	if f.publisher.callCount() != calls {
		t.Fatalf("expected publish skipped during cooldown, got %d calls", f.publisher.callCount())
	}

	record = f.record(t, "ep-1")
	if record.Stage != catalog.StageUploadFailed {
		t.Fatalf("cooldown skip must leave the stage alone, got %s", record.Stage)
	}
}

func TestRejectedUploadDeadLettersImmediately(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})
	f.publisher.errs = []error{services.Wrap(services.ErrRejected, "youtube", "upload", "400", nil)}

	f.run(t)

	record := f.record(t, "ep-1")
	if !record.IsDeadLetter(f.cfg.Pipeline.MaxAttempts) {
		t.Fatalf("expected dead letter, got %#v", record)
	}
	if record.Stage != catalog.StageUploadFailed {
		t.Fatalf("expected upload_failed, got %s", record.Stage)
	}
}

func TestAuthorizationLostHaltsPublishingButKeepsRendering(t *testing.T) {
	f := newFixture(t,
		catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"},
		catalog.Candidate{NativeID: "ep-2", Title: "Episode 2"},
	)
	f.tokens.tokenErr = services.Wrap(services.ErrAuthorizationLost, "creds", "refresh", "invalid_grant", nil)

	f.run(t)
	f.run(t)

	if !f.orch.PublishHalted() {
		t.Fatal("expected publishing halted")
	}
	for _, id := range []string{"ep-1", "ep-2"} {
		record := f.record(t, id)
		if record.Stage != catalog.StageUploading {
			t.Fatalf("%s: expected backlog parked at uploading, got %s", id, record.Stage)
		}
		if record.ArtifactPath == "" {
			t.Fatalf("%s: rendering should continue while halted", id)
		}
	}
	if f.publisher.callCount() != 0 {
		t.Fatalf("no uploads expected without a valid token, got %d", f.publisher.callCount())
	}
	_, _, authLost := f.notifier.counts()
	if authLost != 1 {
		t.Fatalf("expected exactly one authorization alert, got %d", authLost)
	}

	// Operator installs a new token; the backlog drains.
	f.tokens.mu.Lock()
	f.tokens.tokenErr = nil
	f.tokens.mu.Unlock()
	f.orch.ResumePublishing()
	f.run(t)
	for _, id := range []string{"ep-1", "ep-2"} {
		if record := f.record(t, id); record.Stage != catalog.StagePublished {
			t.Fatalf("%s: expected published after recovery, got %s", id, record.Stage)
		}
	}
}

func TestBackoffSkipsRecentFailures(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})
	f.cfg.Pipeline.BackoffBaseSeconds = 3600
	f.cfg.Pipeline.BackoffCapSeconds = 7200
	f.renderer.errs = []error{services.Wrap(services.ErrTransient, "renderer", "render", "flaky", nil)}

	f.run(t)
	record := f.record(t, "ep-1")
	if record.Stage != catalog.StageRenderFailed || record.AttemptCount != 1 {
		t.Fatalf("unexpected record after first failure: %#v", record)
	}

	// Too soon: the failed episode waits out its delay.
	f.run(t)
	if f.renderer.callCount() != 1 {
		t.Fatalf("expected backoff skip, got %d render calls", f.renderer.callCount())
	}
}

func TestConflictingClaimIsSilentlySkipped(t *testing.T) {
	f := newFixture(t, catalog.Candidate{NativeID: "ep-1", Title: "Episode 1"})

	// Another worker already claimed the episode between reconcile and
	// processing.
	records, err := f.store.Reconcile(context.Background(), f.serial.ID, f.scraper.candidates)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, err := f.store.Transition(context.Background(), records[0].EpisodeKey, catalog.StageDiscovered, catalog.StageRendering, false); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if err := f.orch.RunSerial(context.Background(), f.serial); err != nil {
		t.Fatalf("RunSerial should swallow the conflict: %v", err)
	}
}

func TestBuildMetadataTemplatesSerialAndDate(t *testing.T) {
	day := time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)
	meta := pipeline.BuildMetadata(config.Serial{Name: "Karthika Deepam", ID: "karthika-deepam"}, day, "public")

	if meta.Title != "Karthika Deepam - February 3, 2025 - Today Episode Full Review" {
		t.Fatalf("unexpected title %q", meta.Title)
	}
	if meta.PrivacyStatus != "public" {
		t.Fatalf("unexpected privacy %q", meta.PrivacyStatus)
	}
	if len(meta.Tags) == 0 {
		t.Fatal("expected tags")
	}
	wantTag := "Karthika Deepam Episode Review"
	found := false
	for _, tag := range meta.Tags {
		if tag == wantTag {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tag %q in %v", wantTag, meta.Tags)
	}
}

func TestUploadingWithoutArtifactGoesBackThroughRender(t *testing.T) {
	f := newFixture(t)
	record := testsupport.SeedEpisode(t, f.store, f.serial.ID, "ep-1")
	testsupport.AdvanceTo(t, f.store, record.EpisodeKey, catalog.StageUploading)

	f.run(t)

	got := f.record(t, "ep-1")
	if got.Stage != catalog.StagePublished {
		t.Fatalf("expected published after re-render, got %s", got.Stage)
	}
	if got.ArtifactPath == "" {
		t.Fatal("expected the re-render to record an artifact")
	}
	if f.renderer.callCount() != 1 {
		t.Fatalf("expected one render, got %d", f.renderer.callCount())
	}
}

func TestRetriedArtifactlessDeadLetterRendersAgain(t *testing.T) {
	f := newFixture(t)
	record := testsupport.SeedEpisode(t, f.store, f.serial.ID, "ep-1")
	testsupport.AdvanceTo(t, f.store, record.EpisodeKey, catalog.StageUploadFailed)

	ctx := context.Background()
	if err := f.store.DeadLetter(ctx, record.EpisodeKey, f.cfg.Pipeline.MaxAttempts); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}
	if _, err := f.store.RetryDeadLettered(ctx, record.EpisodeKey); err != nil {
		t.Fatalf("RetryDeadLettered failed: %v", err)
	}

	f.run(t)

	got := f.record(t, "ep-1")
	if got.Stage != catalog.StagePublished {
		t.Fatalf("expected published after operator retry, got %s", got.Stage)
	}
	if f.renderer.callCount() != 1 {
		t.Fatalf("expected the renderer to run again, got %d calls", f.renderer.callCount())
	}
}

func TestEpisodeFailureDoesNotAbortSiblings(t *testing.T) {
	f := newFixture(t,
		catalog.Candidate{NativeID: "ep-a", Title: "Episode A"},
		catalog.Candidate{NativeID: "ep-b", Title: "Episode B"},
	)
	f.cfg.Pipeline.WorkerCount = 2

	brokenUpload := make(chan struct{})
	f.publisher.uploadFn = func(filePath string) (string, error) {
		if strings.Contains(filePath, "ep-a") {
			close(brokenUpload)
			// Broken adapter: neither an id nor an error.
			return "", nil
		}
		return "vid-b", nil
	}
	// The sibling's render finishes only after the broken episode has
	// already surfaced its error.
	f.renderer.renderFn = func(job renderer.Job) error {
		if strings.HasSuffix(job.EpisodeKey, "/ep-b") {
			<-brokenUpload
			time.Sleep(20 * time.Millisecond)
		}
		return nil
	}

	if err := f.orch.RunSerial(context.Background(), f.serial); err == nil {
		t.Fatal("expected the broken episode's error to surface from the run")
	}

	got := f.record(t, "ep-b")
	if got.Stage != catalog.StagePublished {
		t.Fatalf("sibling episode should still publish, got %s", got.Stage)
	}
}

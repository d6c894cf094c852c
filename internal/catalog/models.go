package catalog

import (
	"strings"
	"time"
)

// Stage represents the lifecycle position of an episode.
type Stage string

const (
	StageDiscovered   Stage = "discovered"
	StageRendering    Stage = "rendering"
	StageRenderFailed Stage = "render_failed"
	StageUploading    Stage = "uploading"
	StageUploadFailed Stage = "upload_failed"
	StagePublished    Stage = "published"
)

var allStages = []Stage{
	StageDiscovered,
	StageRendering,
	StageRenderFailed,
	StageUploading,
	StageUploadFailed,
	StagePublished,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// allowedTransitions is the directed stage graph. Transitions only move
// forward or into the failure sibling of the stage that failed; nothing
// leaves Published.
var allowedTransitions = map[Stage]map[Stage]struct{}{
	StageDiscovered:   {StageRendering: {}},
	StageRendering:    {StageRenderFailed: {}, StageUploading: {}},
	StageRenderFailed: {StageRendering: {}},
	StageUploading:    {StageUploadFailed: {}, StagePublished: {}},
	StageUploadFailed: {StageUploading: {}},
	StagePublished:    {},
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// TransitionAllowed reports whether the stage graph permits from → to.
func TransitionAllowed(from, to Stage) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// IsFailureStage reports whether a stage records a failed attempt.
func (s Stage) IsFailureStage() bool {
	return s == StageRenderFailed || s == StageUploadFailed
}

// IsProcessing reports whether a stage reflects an in-flight operation whose
// artifact must never be reclaimed.
func (s Stage) IsProcessing() bool {
	return s == StageRendering || s == StageUploading
}

// Candidate is one episode reported by the scrape adapter.
type Candidate struct {
	NativeID  string
	Title     string
	SourceURL string
}

// EpisodeKey builds the idempotency key for a serial's native episode id.
func EpisodeKey(serialID, nativeID string) string {
	return serialID + "/" + nativeID
}

// Record is one unit of work persisted in the catalog.
type Record struct {
	EpisodeKey      string
	SerialID        string
	NativeID        string
	Title           string
	SourceURL       string
	Stage           Stage
	AttemptCount    int
	ArtifactPath    string
	PlatformVideoID string
	ErrorMessage    string
	DiscoveredAt    time.Time
	LastUpdatedAt   time.Time
}

// IsDeadLetter reports whether the record has exhausted its retry budget and
// requires operator intervention.
func (r *Record) IsDeadLetter(maxAttempts int) bool {
	return r.Stage.IsFailureStage() && r.AttemptCount >= maxAttempts
}

// HealthSummary aggregates catalog counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Waiting    int
	Processing int
	Failed     int
	Published  int
}

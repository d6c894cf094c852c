package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	// SQLite permits one writer; a single pooled connection keeps every
	// session on the connection the pragmas were applied to.
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Reconcile inserts a Discovered record for every candidate not already
// present, then returns all non-Published records for the serial ordered
// oldest-discovered-first so the backlog drains in discovery order.
func (s *Store) Reconcile(ctx context.Context, serialID string, candidates []Candidate) ([]*Record, error) {
	if serialID == "" {
		return nil, errors.New("serial id required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, candidate := range candidates {
		if candidate.NativeID == "" {
			continue
		}
		key := EpisodeKey(serialID, candidate.NativeID)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO episodes (
                episode_key, serial_id, native_id, title, source_url,
                stage, attempt_count, discovered_at, last_updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
            ON CONFLICT(episode_key) DO NOTHING`,
			key,
			serialID,
			candidate.NativeID,
			nullableString(candidate.Title),
			nullableString(candidate.SourceURL),
			StageDiscovered,
			now,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert candidate %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}

	return s.PendingForSerial(ctx, serialID)
}

// Get fetches a record by episode key. A missing record returns ErrNotFound.
func (s *Store) Get(ctx context.Context, episodeKey string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM episodes WHERE episode_key = ?`, episodeKey)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, episodeKey)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return record, nil
}

// Transition performs a compare-and-swap stage change. It fails with
// ErrConflict when the record's current stage is not from, and with
// ErrInvariant when the stage graph forbids the edge. bumpAttempt increments
// attempt_count and is set by callers recording a failed attempt; moving from
// Rendering into Uploading resets the count for the new stage. The updated
// record is returned on success.
func (s *Store) Transition(ctx context.Context, episodeKey string, from, to Stage, bumpAttempt bool) (*Record, error) {
	if !TransitionAllowed(from, to) {
		return nil, fmt.Errorf("%w: no %s -> %s edge", ErrInvariant, from, to)
	}

	resetAttempt := from == StageRendering && to == StageUploading
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes
         SET stage = ?,
             attempt_count = CASE
                 WHEN ? THEN attempt_count + 1
                 WHEN ? THEN 0
                 ELSE attempt_count
             END,
             last_updated_at = ?
         WHERE episode_key = ? AND stage = ?`,
		to,
		boolToInt(bumpAttempt),
		boolToInt(resetAttempt),
		time.Now().UTC().Format(time.RFC3339Nano),
		episodeKey,
		from,
	)
	if err != nil {
		return nil, fmt.Errorf("transition episode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, err := s.Get(ctx, episodeKey)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, episodeKey, current.Stage, from)
	}
	return s.Get(ctx, episodeKey)
}

// CompleteRender moves a record from Rendering into Uploading and stores the
// artifact path in the same durable write, so no committed state ever shows
// an upload-stage record without its artifact. The attempt count resets for
// the new stage. ErrConflict when the record is not Rendering; ErrInvariant
// when a different artifact is already recorded.
func (s *Store) CompleteRender(ctx context.Context, episodeKey, artifactPath string) (*Record, error) {
	if artifactPath == "" {
		return nil, fmt.Errorf("%w: empty artifact path", ErrInvariant)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes
         SET stage = ?, attempt_count = 0, artifact_path = ?, last_updated_at = ?
         WHERE episode_key = ? AND stage = ?
           AND (artifact_path IS NULL OR artifact_path = '' OR artifact_path = ?)`,
		StageUploading,
		artifactPath,
		time.Now().UTC().Format(time.RFC3339Nano),
		episodeKey,
		StageRendering,
		artifactPath,
	)
	if err != nil {
		return nil, fmt.Errorf("complete render: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, err := s.Get(ctx, episodeKey)
		if err != nil {
			return nil, err
		}
		if current.Stage != StageRendering {
			return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, episodeKey, current.Stage, StageRendering)
		}
		return nil, fmt.Errorf("%w: %s already has artifact %q, refusing %q",
			ErrInvariant, episodeKey, current.ArtifactPath, artifactPath)
	}
	return s.Get(ctx, episodeKey)
}

// SetErrorMessage stores the latest failure detail for operator display.
func (s *Store) SetErrorMessage(ctx context.Context, episodeKey, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET error_message = ? WHERE episode_key = ?`,
		nullableString(message), episodeKey,
	)
	if err != nil {
		return fmt.Errorf("set error message: %w", err)
	}
	return nil
}

// RecordArtifact stores the rendered artifact path. Idempotent: re-applying
// the same path succeeds silently; a different path fails with ErrInvariant.
// The record must already be in a stage that owns an artifact.
func (s *Store) RecordArtifact(ctx context.Context, episodeKey, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty artifact path", ErrInvariant)
	}
	return s.recordTerminalValue(ctx, episodeKey, "artifact_path", path,
		[]Stage{StageUploading, StageUploadFailed, StagePublished})
}

// RecordPublished stores the platform video id. Idempotent with the same
// rules as RecordArtifact.
func (s *Store) RecordPublished(ctx context.Context, episodeKey, videoID string) error {
	if videoID == "" {
		return fmt.Errorf("%w: empty platform video id", ErrInvariant)
	}
	return s.recordTerminalValue(ctx, episodeKey, "platform_video_id", videoID,
		[]Stage{StageUploading, StagePublished})
}

func (s *Store) recordTerminalValue(ctx context.Context, episodeKey, column, value string, stages []Stage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin terminal write tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current sql.NullString
	var stageStr string
	row := tx.QueryRowContext(ctx,
		`SELECT `+column+`, stage FROM episodes WHERE episode_key = ?`, episodeKey)
	if err := row.Scan(&current, &stageStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, episodeKey)
		}
		return fmt.Errorf("read %s: %w", column, err)
	}

	if current.Valid && current.String != "" {
		if current.String == value {
			return nil
		}
		return fmt.Errorf("%w: %s already has %s %q, refusing %q",
			ErrInvariant, episodeKey, column, current.String, value)
	}

	stageOK := false
	for _, stage := range stages {
		if Stage(stageStr) == stage {
			stageOK = true
			break
		}
	}
	if !stageOK {
		return fmt.Errorf("%w: cannot set %s while %s is %s", ErrInvariant, column, episodeKey, stageStr)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE episodes SET `+column+` = ?, last_updated_at = ? WHERE episode_key = ?`,
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
		episodeKey,
	); err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", column, err)
	}
	return nil
}

// DeadLetter raises attempt_count to at least floor for a record sitting in a
// failure stage, used when a permanent rejection must exhaust the budget
// immediately.
func (s *Store) DeadLetter(ctx context.Context, episodeKey string, floor int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes
         SET attempt_count = CASE WHEN attempt_count < ? THEN ? ELSE attempt_count END,
             last_updated_at = ?
         WHERE episode_key = ? AND stage IN (?, ?)`,
		floor,
		floor,
		time.Now().UTC().Format(time.RFC3339Nano),
		episodeKey,
		StageRenderFailed,
		StageUploadFailed,
	)
	if err != nil {
		return fmt.Errorf("dead letter episode: %w", err)
	}
	return nil
}

// ResetStuckRendering moves records abandoned mid-render by a crashed
// process back into render_failed so the pipeline picks them up again. The
// attempt budget is untouched; an interrupted run is not a failed attempt.
// Returns the number of records reset.
func (s *Store) ResetStuckRendering(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET stage = ?, last_updated_at = ? WHERE stage = ?`,
		StageRenderFailed,
		time.Now().UTC().Format(time.RFC3339Nano),
		StageRendering,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck episodes: %w", err)
	}
	return res.RowsAffected()
}

// ResetArtifactlessUploads sends upload-stage records that have no artifact
// recorded back to render_failed so they go through rendering again. Such
// rows violate the artifact invariant and cannot be published; re-rendering
// is the only way forward. The attempt budget resets because the count now
// measures render attempts. With no keys every such record is repaired.
// Returns the number of records touched.
func (s *Store) ResetArtifactlessUploads(ctx context.Context, keys ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE episodes
        SET stage = ?, attempt_count = 0, error_message = NULL, last_updated_at = ?
        WHERE stage IN (?, ?) AND (artifact_path IS NULL OR artifact_path = '')`
	args := []any{StageRenderFailed, now, StageUploading, StageUploadFailed}
	if len(keys) > 0 {
		query += ` AND episode_key IN (` + makePlaceholders(len(keys)) + `)`
		for _, key := range keys {
			args = append(args, key)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset artifactless uploads: %w", err)
	}
	return res.RowsAffected()
}

// RetryDeadLettered resets the attempt budget for the given failure-stage
// records so the pipeline picks them up again. With no keys, every
// failure-stage record is reset. Returns the number of records touched.
func (s *Store) RetryDeadLettered(ctx context.Context, keys ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(keys) == 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE episodes
             SET attempt_count = 0, error_message = NULL, last_updated_at = ?
             WHERE stage IN (?, ?)`,
			now, StageRenderFailed, StageUploadFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed episodes: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(keys)+3)
	args = append(args, now, StageRenderFailed, StageUploadFailed)
	for _, key := range keys {
		args = append(args, key)
	}
	query := `UPDATE episodes
        SET attempt_count = 0, error_message = NULL, last_updated_at = ?
        WHERE stage IN (?, ?) AND episode_key IN (` + makePlaceholders(len(keys)) + `)`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected episodes: %w", err)
	}
	return res.RowsAffected()
}

// PendingForSerial returns the serial's non-Published records ordered
// oldest-discovered-first.
func (s *Store) PendingForSerial(ctx context.Context, serialID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM episodes
         WHERE serial_id = ? AND stage != ?
         ORDER BY discovered_at, episode_key`,
		serialID, StagePublished,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending episodes: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// List returns records filtered by stage set (or all records when no stage is
// provided), ordered by discovery time.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Record, error) {
	baseQuery := `SELECT ` + recordColumns + ` FROM episodes`
	orderClause := ` ORDER BY discovered_at, episode_key`

	var (
		rows *sql.Rows
		err  error
	)
	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		query := baseQuery + ` WHERE stage IN (` + makePlaceholders(len(stages)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ByArtifactPath returns the record owning an artifact file, or nil when no
// record references it.
func (s *Store) ByArtifactPath(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM episodes WHERE artifact_path = ? LIMIT 1`, path)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by artifact path: %w", err)
	}
	return record, nil
}

// Stats returns a count of records grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM episodes GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// Health aggregates catalog state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for stage, count := range stats {
		health.Total += count
		switch stage {
		case StageDiscovered:
			health.Waiting += count
		case StageRendering, StageUploading:
			health.Processing += count
		case StageRenderFailed, StageUploadFailed:
			health.Failed += count
		case StagePublished:
			health.Published += count
		}
	}
	return health, nil
}

const recordColumns = "episode_key, serial_id, native_id, title, source_url, stage, attempt_count, artifact_path, platform_video_id, error_message, discovered_at, last_updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		episodeKey    string
		serialID      string
		nativeID      string
		title         sql.NullString
		sourceURL     sql.NullString
		stageStr      string
		attemptCount  int
		artifactPath  sql.NullString
		videoID       sql.NullString
		errorMessage  sql.NullString
		discoveredRaw string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&episodeKey,
		&serialID,
		&nativeID,
		&title,
		&sourceURL,
		&stageStr,
		&attemptCount,
		&artifactPath,
		&videoID,
		&errorMessage,
		&discoveredRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		EpisodeKey:      episodeKey,
		SerialID:        serialID,
		NativeID:        nativeID,
		Title:           title.String,
		SourceURL:       sourceURL.String,
		Stage:           Stage(stageStr),
		AttemptCount:    attemptCount,
		ArtifactPath:    artifactPath.String,
		PlatformVideoID: videoID.String,
		ErrorMessage:    errorMessage.String,
	}
	if discovered, err := parseTimeString(discoveredRaw); err == nil {
		record.DiscoveredAt = discovered
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.LastUpdatedAt = updated
	}
	return record, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

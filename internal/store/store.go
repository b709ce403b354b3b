// Package store persists missions, runs, steps, artifacts, telemetry,
// queue jobs, run controls, and the episodic/semantic memory logs in an
// embedded relational database.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrEmptyQueue indicates a dequeue against an empty queue. Under
// correct enqueue/claim sequencing this is a bug, not a transient
// condition.
var ErrEmptyQueue = errors.New("queue is empty")

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("record not found")

// Store is a gorm-backed durable store. Writes are committed before the
// call that produced them returns.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and
// migrates the schema. The connection pool is restricted to a single
// connection, which sqlite requires for concurrent writers.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&Mission{}, &Run{}, &Step{}, &Artifact{}, &TelemetryEvent{},
		&QueueJob{}, &RunControl{}, &EpisodicMemory{}, &SemanticMemory{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// upsert inserts value or replaces the existing row with the same
// primary id.
func (s *Store) upsert(value any) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

func (s *Store) SaveMission(m *Mission) error {
	if err := s.upsert(m); err != nil {
		return fmt.Errorf("saving mission %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetMission(id string) (*Mission, error) {
	var m Mission
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("mission %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading mission %s: %w", id, err)
	}
	return &m, nil
}

func (s *Store) SaveRun(r *Run) error {
	if err := s.upsert(r); err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	if err := s.db.First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return &r, nil
}

// RunsForMission returns a mission's runs, newest first.
func (s *Store) RunsForMission(missionID string) ([]Run, error) {
	var runs []Run
	if err := s.db.Where("mission_id = ?", missionID).Order("created_at DESC, id DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("loading runs for mission %s: %w", missionID, err)
	}
	return runs, nil
}

func (s *Store) SaveStep(st *Step) error {
	if err := s.upsert(st); err != nil {
		return fmt.Errorf("saving step %s: %w", st.ID, err)
	}
	return nil
}

// StepsForRun returns a run's steps in creation order.
func (s *Store) StepsForRun(runID string) ([]Step, error) {
	var steps []Step
	if err := s.db.Where("run_id = ?", runID).Order("created_at, id").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("loading steps for run %s: %w", runID, err)
	}
	return steps, nil
}

func (s *Store) SaveArtifact(a *Artifact) error {
	if err := s.upsert(a); err != nil {
		return fmt.Errorf("saving artifact %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) SaveTelemetry(ev *TelemetryEvent) error {
	if err := s.db.Create(ev).Error; err != nil {
		return fmt.Errorf("saving telemetry %s: %w", ev.Name, err)
	}
	return nil
}

// Enqueue appends a queued job carrying payload for the given run.
func (s *Store) Enqueue(runID string, payload map[string]any) error {
	job := QueueJob{RunID: runID, Payload: payload, State: JobQueued}
	if err := s.db.Create(&job).Error; err != nil {
		return fmt.Errorf("enqueueing job for run %s: %w", runID, err)
	}
	return nil
}

// Dequeue claims the oldest queued job. The claim is a single atomic
// conditional update, so two concurrent claimers can never take the
// same job: the loser's update matches zero rows and it moves on to
// the next candidate.
func (s *Store) Dequeue() (*QueueJob, error) {
	for {
		var job QueueJob
		err := s.db.Where("state = ?", JobQueued).Order("id").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmptyQueue
		}
		if err != nil {
			return nil, fmt.Errorf("selecting queued job: %w", err)
		}

		res := s.db.Model(&QueueJob{}).
			Where("id = ? AND state = ?", job.ID, JobQueued).
			Update("state", JobProcessing)
		if res.Error != nil {
			return nil, fmt.Errorf("claiming job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.State = JobProcessing
			return &job, nil
		}
		// Lost the race for this job; try the next queued one.
	}
}

// Ack marks a claimed job done.
func (s *Store) Ack(jobID uint) error {
	if err := s.db.Model(&QueueJob{}).Where("id = ?", jobID).Update("state", JobDone).Error; err != nil {
		return fmt.Errorf("acking job %d: %w", jobID, err)
	}
	return nil
}

// SetRunControl sets the run's control record to status, creating the
// record on first use.
func (s *Store) SetRunControl(runID, status string) error {
	ctl := RunControl{RunID: runID, Status: status}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&ctl).Error; err != nil {
		return fmt.Errorf("setting run control %s=%s: %w", runID, status, err)
	}
	return nil
}

// GetRunControl returns the run's control status, defaulting to active
// when no record exists.
func (s *Store) GetRunControl(runID string) (string, error) {
	var ctl RunControl
	err := s.db.First(&ctl, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ControlActive, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading run control %s: %w", runID, err)
	}
	return ctl.Status, nil
}

// PushEpisodic appends a raw event to the domain's episodic log.
func (s *Store) PushEpisodic(namespace, content string) error {
	rec := EpisodicMemory{Namespace: namespace, Content: content}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("pushing episodic memory: %w", err)
	}
	return nil
}

// PushSemantic appends a result snippet to the domain's semantic log.
func (s *Store) PushSemantic(namespace, content, embeddingHint string) error {
	rec := SemanticMemory{Namespace: namespace, Content: content, EmbeddingHint: embeddingHint}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("pushing semantic memory: %w", err)
	}
	return nil
}

// RecentEpisodic returns up to limit episodic entries for the
// namespace, newest first.
func (s *Store) RecentEpisodic(namespace string, limit int) ([]string, error) {
	return s.recentMemory(&EpisodicMemory{}, namespace, limit)
}

// RecentSemantic returns up to limit semantic entries for the
// namespace, newest first.
func (s *Store) RecentSemantic(namespace string, limit int) ([]string, error) {
	return s.recentMemory(&SemanticMemory{}, namespace, limit)
}

func (s *Store) recentMemory(model any, namespace string, limit int) ([]string, error) {
	var contents []string
	err := s.db.Model(model).
		Where("namespace = ?", namespace).
		Order("id DESC").
		Limit(limit).
		Pluck("content", &contents).Error
	if err != nil {
		return nil, fmt.Errorf("reading memory for %s: %w", namespace, err)
	}
	return contents, nil
}

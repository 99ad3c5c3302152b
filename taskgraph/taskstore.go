package taskgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TaskRunStatus is the durable status of one (run, task) execution.
type TaskRunStatus string

const (
	TaskRunPending   TaskRunStatus = "pending"
	TaskRunRunning   TaskRunStatus = "running"
	TaskRunSucceeded TaskRunStatus = "succeeded"
	TaskRunFailed    TaskRunStatus = "failed"
)

// TaskRun is the durable record of a single task execution within a run,
// keyed so that a worker crash mid-task leaves enough state for another
// worker to re-invoke it.
type TaskRun struct {
	RunID    string `gorm:"primaryKey"`
	TaskName string `gorm:"primaryKey"`
	Status   TaskRunStatus
	Attempt  int
	// Output is the JSON-encoded task result, persisted once Status
	// becomes succeeded so a replayed DAG can skip re-execution and
	// reuse the output.
	Output    []byte
	Error     string
	UpdatedAt time.Time
}

// TaskStore is the durable-state side of crash recovery: every Engine
// needs one so a task already marked succeeded is never re-run after a
// worker restart, and any in-flight task is recognized as resumable.
type TaskStore interface {
	Get(ctx context.Context, runID, taskName string) (*TaskRun, error)
	MarkRunning(ctx context.Context, runID, taskName string, attempt int) error
	MarkSucceeded(ctx context.Context, runID, taskName string, output []byte) error
	MarkFailed(ctx context.Context, runID, taskName string, errMsg string) error
}

// GormTaskStore is the Postgres-backed TaskStore, sharing the same
// database as TranscriptStore.
type GormTaskStore struct {
	db *gorm.DB
}

// NewGormTaskStore wraps an already-connected *gorm.DB.
func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

// AutoMigrate creates/updates the task_runs table.
func (s *GormTaskStore) AutoMigrate() error {
	return s.db.AutoMigrate(&TaskRun{})
}

// Get implements TaskStore.
func (s *GormTaskStore) Get(ctx context.Context, runID, taskName string) (*TaskRun, error) {
	var tr TaskRun
	err := s.db.WithContext(ctx).First(&tr, "run_id = ? AND task_name = ?", runID, taskName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskgraph: get task run: %w", err)
	}
	return &tr, nil
}

// MarkRunning implements TaskStore, upserting a (run, task) row to
// running and bumping its attempt counter.
func (s *GormTaskStore) MarkRunning(ctx context.Context, runID, taskName string, attempt int) error {
	tr := TaskRun{RunID: runID, TaskName: taskName, Status: TaskRunRunning, Attempt: attempt}
	return s.db.WithContext(ctx).
		Where("run_id = ? AND task_name = ?", runID, taskName).
		Assign(tr).
		FirstOrCreate(&TaskRun{}).Error
}

// MarkSucceeded implements TaskStore.
func (s *GormTaskStore) MarkSucceeded(ctx context.Context, runID, taskName string, output []byte) error {
	return s.db.WithContext(ctx).Model(&TaskRun{}).
		Where("run_id = ? AND task_name = ?", runID, taskName).
		Updates(map[string]any{"status": TaskRunSucceeded, "output": output, "error": ""}).Error
}

// MarkFailed implements TaskStore.
func (s *GormTaskStore) MarkFailed(ctx context.Context, runID, taskName string, errMsg string) error {
	return s.db.WithContext(ctx).Model(&TaskRun{}).
		Where("run_id = ? AND task_name = ?", runID, taskName).
		Updates(map[string]any{"status": TaskRunFailed, "error": errMsg}).Error
}

// decodeOutput is a helper for Execute to unmarshal a cached TaskRun.Output.
func decodeOutput[T any](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

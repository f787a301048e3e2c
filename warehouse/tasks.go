package warehouse

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const ErrTextInterrupted = "processing was interrupted during the previous run"

var ErrTaskNotPending = errors.New("file task is not pending")

// CreateTask inserts a freshly discovered task. The status is forced to pending.
func CreateTask(db *gorm.DB, t *FileTask) error {
	t.Status = TaskPending
	t.ProcessedAt = nil
	t.Error = ""
	return db.Create(t).Error
}

// RecoverInterrupted fails every task a previous run left pending. Such files
// are never resumed; they have to be delivered again.
func RecoverInterrupted(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Model(&FileTask{}).
		Where("status = ?", TaskPending).
		Updates(map[string]any{"status": TaskFailed, "error": ErrTextInterrupted, "processed_at": now})
	return res.RowsAffected, res.Error
}

func SetComputedDate(db *gorm.DB, t *FileTask, date time.Time) error {
	if err := db.Model(&FileTask{}).Where("id = ?", t.ID).Update("file_date_computed", date).Error; err != nil {
		return err
	}
	t.FileDateComputed = &date
	return nil
}

// MarkTaskSucceeded moves a pending task to succeeded.
func MarkTaskSucceeded(db *gorm.DB, t *FileTask, now time.Time) error {
	if err := transition(db, t, map[string]any{"status": TaskSucceeded, "processed_at": now, "error": ""}); err != nil {
		return err
	}
	t.Status = TaskSucceeded
	t.ProcessedAt = &now
	t.Error = ""
	return nil
}

// MarkTaskFailed moves a pending task to failed with the given reason.
func MarkTaskFailed(db *gorm.DB, t *FileTask, reason string, now time.Time) error {
	if reason == "" {
		return fmt.Errorf("task %d: empty failure reason", t.ID)
	}
	if err := transition(db, t, map[string]any{"status": TaskFailed, "processed_at": now, "error": reason}); err != nil {
		return err
	}
	t.Status = TaskFailed
	t.ProcessedAt = &now
	t.Error = reason
	return nil
}

func transition(db *gorm.DB, t *FileTask, updates map[string]any) error {
	res := db.Model(&FileTask{}).Where("id = ? AND status = ?", t.ID, TaskPending).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %d: %w", t.ID, ErrTaskNotPending)
	}
	return nil
}

// NextPendingTask returns the pending task with the earliest file date, ties
// broken by file name, or nil when nothing is left.
func NextPendingTask(db *gorm.DB) (*FileTask, error) {
	var t FileTask
	err := db.Where("status = ?", TaskPending).
		Order("file_date_computed asc").
		Order("file_name asc").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RunErrors returns the failed tasks discovered by the given run.
func RunErrors(db *gorm.DB, runID string) ([]FileTask, error) {
	var out []FileTask
	err := db.Where("run_id = ? AND status = ?", runID, TaskFailed).
		Order("file_name asc").
		Find(&out).Error
	return out, err
}

// LatestRunID returns the run id of the most recent discovery pass, or "" when
// the log is empty.
func LatestRunID(db *gorm.DB) (string, error) {
	var t FileTask
	err := db.Order("discovered_at desc").Order("id desc").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.RunID, nil
}

// LatestTerminalUpdate returns the newest effective_from in the terminal
// dimension, or 1900-01-01 when the dimension is empty.
func LatestTerminalUpdate(db *gorm.DB) (time.Time, error) {
	var v TerminalVersion
	err := db.Order("effective_from desc").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return v.EffectiveFrom.UTC(), nil
}

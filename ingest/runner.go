// Package ingest moves input files through discovery, date validation, load,
// apply and archival, recording every step in the file task log.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fraudwatch/metrics"
	"fraudwatch/warehouse"
)

// Failure reasons recorded on file tasks.
const (
	ErrTextInvalidDate = "invalid date in file name"
	ErrTextFutureDate  = "file date is in the future"
	ErrTextReadData    = "could not read data"
	ErrTextApply       = "could not update warehouse tables"
)

var ErrTextStaleTerminals = ErrStaleTerminals.Error()

type RunnerConfig struct {
	DataDir    string
	ArchiveDir string
	// ErrorDir receives files that failed validation or load. Defaults to
	// <ArchiveDir>/error.
	ErrorDir string
	// Now is the clock used for validation and timestamps. Defaults to
	// time.Now in UTC.
	Now func() time.Time
}

type Runner struct {
	cfg     RunnerConfig
	db      *gorm.DB
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// RunResult summarizes one ingestion pass.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	Recovered  int64
	Discovered int
	Succeeded  int
	Failed     int
	// Errors are the failed tasks discovered by this run, by file name.
	Errors []warehouse.FileTask
}

func NewRunner(db *gorm.DB, cfg RunnerConfig, log zerolog.Logger, rec *metrics.Recorder) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("DataDir is required")
	}
	if strings.TrimSpace(cfg.ArchiveDir) == "" {
		return nil, fmt.Errorf("ArchiveDir is required")
	}
	if strings.TrimSpace(cfg.ErrorDir) == "" {
		cfg.ErrorDir = filepath.Join(cfg.ArchiveDir, "error")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{cfg: cfg, db: db, log: log, metrics: rec}, nil
}

// RunOnce recovers interrupted tasks, discovers new files and processes every
// pending task one at a time in file date order. Per-file failures are
// recorded on the task and never abort the pass; only database errors on the
// task log itself are returned.
func (r *Runner) RunOnce(ctx context.Context) (*RunResult, error) {
	db := r.db.WithContext(ctx)
	res := &RunResult{RunID: uuid.NewString(), StartedAt: r.cfg.Now()}
	log := r.log.With().Str("run_id", res.RunID).Logger()

	n, err := warehouse.RecoverInterrupted(db, res.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	res.Recovered = n
	if n > 0 {
		log.Warn().Int64("tasks", n).Msg("failed tasks left pending by a previous run")
	}

	discovered, err := r.discover(db, log, res)
	if err != nil {
		return nil, err
	}
	res.Discovered = discovered

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, err := warehouse.NextPendingTask(db)
		if err != nil {
			return nil, fmt.Errorf("select candidate: %w", err)
		}
		if task == nil {
			break
		}
		if err := r.process(db, log, task); err != nil {
			return nil, err
		}
		if task.Status == warehouse.TaskSucceeded {
			res.Succeeded++
		}
	}

	res.Errors, err = warehouse.RunErrors(db, res.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run errors: %w", err)
	}
	res.Failed = len(res.Errors)
	log.Info().
		Int("discovered", res.Discovered).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("ingestion finished")
	return res, nil
}

// discover records one task per matching file in the data directory and
// validates its date.
func (r *Runner) discover(db *gorm.DB, log zerolog.Logger, res *RunResult) (int, error) {
	entries, err := os.ReadDir(r.cfg.DataDir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", r.cfg.DataDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	count := 0
	for _, name := range names {
		fn, ok := ParseFileName(name)
		if !ok {
			log.Debug().Str("file", name).Msg("ignoring file")
			continue
		}
		task := &warehouse.FileTask{
			RunID:        res.RunID,
			FileName:     fn.Name,
			InfoType:     fn.InfoType,
			DataFormat:   fn.Format,
			FileDate:     fn.DateToken,
			DiscoveredAt: res.StartedAt,
		}
		if err := warehouse.CreateTask(db, task); err != nil {
			return count, fmt.Errorf("record %s: %w", name, err)
		}
		count++
		flog := log.With().Str("file", name).Uint("task_id", task.ID).Logger()
		flog.Debug().Msg("file discovered")
		if err := r.validate(db, flog, task); err != nil {
			return count, err
		}
	}
	return count, nil
}

// validate computes the task's file date. An invalid, future or stale date
// fails the task and quarantines the file.
func (r *Runner) validate(db *gorm.DB, log zerolog.Logger, task *warehouse.FileTask) error {
	date, err := ParseFileDate(task.FileDate)
	if err != nil {
		return r.fail(db, log, task, ErrTextInvalidDate, err)
	}
	if err := warehouse.SetComputedDate(db, task, date); err != nil {
		return fmt.Errorf("task %d: set file date: %w", task.ID, err)
	}
	if date.After(r.cfg.Now()) {
		return r.fail(db, log, task, ErrTextFutureDate, nil)
	}
	if task.InfoType == warehouse.InfoTerminals {
		latest, err := warehouse.LatestTerminalUpdate(db)
		if err != nil {
			return fmt.Errorf("task %d: latest terminal update: %w", task.ID, err)
		}
		if !date.After(latest) {
			return r.fail(db, log, task, ErrTextStaleTerminals, nil)
		}
	}
	return nil
}

// process loads one pending task and applies it. Load, apply and the success
// mark commit together; the file is archived after commit.
func (r *Runner) process(db *gorm.DB, log zerolog.Logger, task *warehouse.FileTask) error {
	log = log.With().Str("file", task.FileName).Uint("task_id", task.ID).Logger()
	path := filepath.Join(r.cfg.DataDir, task.FileName)

	table, err := ReadTable(path, task.DataFormat)
	if err != nil {
		return r.fail(db, log, task, ErrTextReadData, err)
	}
	fileDate := time.Time{}
	if task.FileDateComputed != nil {
		fileDate = task.FileDateComputed.UTC()
	}

	var (
		applied ApplyResult
		staged  int
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		stg, err := LoadStaging(tx, task, table)
		if err != nil {
			return err
		}
		staged = stg.Rows
		applied, err = apply(tx, stg, fileDate)
		if err != nil {
			return err
		}
		if err := stg.Drop(tx); err != nil {
			return fmt.Errorf("drop staging: %w", err)
		}
		return warehouse.MarkTaskSucceeded(tx, task, r.cfg.Now())
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformed):
		return r.fail(db, log, task, ErrTextReadData, err)
	case errors.Is(err, ErrStaleTerminals):
		return r.fail(db, log, task, ErrTextStaleTerminals, nil)
	default:
		// The rollback restored the task row; reset the in-memory copy too.
		task.Status = warehouse.TaskPending
		task.ProcessedAt = nil
		return r.fail(db, log, task, ErrTextApply, err)
	}

	ev := log.Info().
		Str("info_type", string(task.InfoType)).
		Int("staged", staged).
		Int64("inserted", applied.Inserted)
	if task.InfoType == warehouse.InfoTerminals {
		ev = ev.Int("new", len(applied.Plan.New)).
			Int("changed", len(applied.Plan.Changed)).
			Int("deleted", len(applied.Plan.Deleted))
	}
	ev.Msg("file processed")
	r.metrics.FileHandled(string(task.InfoType), "succeeded")
	r.archive(log, path, r.cfg.ArchiveDir)
	return nil
}

// fail records reason on the task and moves the file to the error directory.
// Only a failure to write the task log is returned.
func (r *Runner) fail(db *gorm.DB, log zerolog.Logger, task *warehouse.FileTask, reason string, cause error) error {
	ev := log.Warn().Str("reason", reason)
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("file rejected")

	if err := warehouse.MarkTaskFailed(db, task, reason, r.cfg.Now()); err != nil {
		return fmt.Errorf("task %d: mark failed: %w", task.ID, err)
	}
	r.metrics.FileHandled(string(task.InfoType), "failed")
	r.archive(log, filepath.Join(r.cfg.DataDir, task.FileName), r.cfg.ErrorDir)
	return nil
}

// archive is best-effort: the task state is already final.
func (r *Runner) archive(log zerolog.Logger, path string, dir string) {
	dst, err := Archive(path, dir)
	if err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("could not archive file")
		return
	}
	log.Debug().Str("archive", dst).Msg("file archived")
}

// Package fraud scans the transactions of one window with a fixed set of
// rules, records new fraud events and rebuilds the fraud report for the
// window.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fraudwatch/metrics"
	"fraudwatch/warehouse"
)

type EngineConfig struct {
	// OverridePath is the window override file. Empty or missing means no
	// override.
	OverridePath string
	Now          func() time.Time
}

type Engine struct {
	db      *gorm.DB
	cfg     EngineConfig
	rules   []Rule
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// RunResult describes one fraud run. Skipped is set when there were no
// transactions.
type RunResult struct {
	Skipped    bool
	Window     Window
	Overridden bool
	// Inserted counts new events per rule name.
	Inserted   map[string]int64
	ReportRows int
}

func NewEngine(db *gorm.DB, cfg EngineConfig, log zerolog.Logger, rec *metrics.Recorder) *Engine {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{db: db, cfg: cfg, rules: DefaultRules(), log: log, metrics: rec}
}

// Run resolves the window and runs every rule and the report rebuild in one
// transaction. Any error rolls the whole run back.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	db := e.db.WithContext(ctx)
	latest, ok, err := LatestTransactionDay(db)
	if err != nil {
		return nil, fmt.Errorf("latest transaction day: %w", err)
	}
	if !ok {
		e.log.Info().Msg("no transactions, fraud report not built")
		return &RunResult{Skipped: true}, nil
	}

	res := &RunResult{Inserted: make(map[string]int64, len(e.rules))}
	res.Window, res.Overridden = e.resolveWindow(latest)
	log := e.log.With().
		Time("window_start", res.Window.Start).
		Time("window_end", res.Window.End).
		Logger()
	log.Info().Bool("override", res.Overridden).Msg("fraud window " + res.Window.String())

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := seedFraudTypes(tx); err != nil {
			return fmt.Errorf("seed fraud types: %w", err)
		}
		h, err := loadHistory(tx, res.Window, MaxLookback(e.rules))
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		for _, rule := range e.rules {
			n, err := insertEvents(tx, rule, rule.Detect(h))
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.Name, err)
			}
			res.Inserted[rule.Name] = n
			log.Debug().Str("rule", rule.Name).Int64("inserted", n).Msg("rule applied")
		}
		res.ReportRows, err = rebuildReport(tx, res.Window, e.cfg.Now())
		if err != nil {
			return fmt.Errorf("rebuild report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name, n := range res.Inserted {
		e.metrics.FraudEvents(name, n)
	}
	e.metrics.Window(res.Window.Start, res.Window.End, res.ReportRows)
	log.Info().Int("report_rows", res.ReportRows).Msg("fraud report rebuilt")
	return res, nil
}

// resolveWindow applies the override when it is valid for latest, otherwise
// the default window of the latest day.
func (e *Engine) resolveWindow(latest time.Time) (Window, bool) {
	o, err := LoadOverride(e.cfg.OverridePath)
	if err != nil {
		e.log.Warn().Err(err).Str("path", e.cfg.OverridePath).Msg("window override ignored")
		return DefaultWindow(latest), false
	}
	w, err := o.Window(latest)
	switch {
	case err == nil:
		return w, true
	case errors.Is(err, ErrOverrideInactive):
		return DefaultWindow(latest), false
	default:
		e.log.Warn().Err(err).Str("path", e.cfg.OverridePath).Msg("window override ignored")
		return DefaultWindow(latest), false
	}
}

func seedFraudTypes(tx *gorm.DB) error {
	ids := make([]int, 0, len(TypeLabels))
	for id := range TypeLabels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	types := make([]warehouse.FraudType, 0, len(ids))
	for _, id := range ids {
		types = append(types, warehouse.FraudType{ID: id, Label: TypeLabels[id]})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fraud_type_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fraud_type"}),
	}).Create(&types).Error
}

// insertEvents records one event per flagged transaction. Pairs already in
// the table are skipped by the unique (trans_id, fraud_type_id) index.
func insertEvents(tx *gorm.DB, rule Rule, flagged []Txn) (int64, error) {
	if len(flagged) == 0 {
		return 0, nil
	}
	events := make([]warehouse.FraudEvent, 0, len(flagged))
	for _, t := range flagged {
		events = append(events, warehouse.FraudEvent{TransID: t.TransID, TransDate: t.TransDate, FraudTypeID: rule.TypeID})
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(events, inChunk)
	return res.RowsAffected, res.Error
}

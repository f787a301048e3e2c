package ingest

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fraudwatch/dimension"
	"fraudwatch/warehouse"
)

// ErrStaleTerminals is returned when a terminal feed is not newer than the
// dimension it would update.
var ErrStaleTerminals = errors.New("terminal dimension already holds more recent data")

// ApplyResult counts what one staged file changed in the warehouse.
type ApplyResult struct {
	Inserted int64
	Plan     dimension.Plan
}

// apply merges a task's staged rows into the warehouse table for its info
// type.
func apply(tx *gorm.DB, s *Staging, fileDate time.Time) (ApplyResult, error) {
	switch s.InfoType {
	case warehouse.InfoTransactions:
		n, err := applyTransactions(tx, s)
		return ApplyResult{Inserted: n}, err
	case warehouse.InfoPassportBlacklist:
		n, err := applyPassports(tx, s)
		return ApplyResult{Inserted: n}, err
	case warehouse.InfoTerminals:
		latest, err := warehouse.LatestTerminalUpdate(tx)
		if err != nil {
			return ApplyResult{}, err
		}
		if !fileDate.After(latest) {
			return ApplyResult{}, ErrStaleTerminals
		}
		records, err := s.Terminals(tx)
		if err != nil {
			return ApplyResult{}, err
		}
		plan, err := dimension.Apply(tx, records, fileDate)
		return ApplyResult{Plan: plan}, err
	default:
		return ApplyResult{}, fmt.Errorf("unknown info type %q", s.InfoType)
	}
}

// applyTransactions inserts staged transactions whose id is not yet known.
func applyTransactions(tx *gorm.DB, s *Staging) (int64, error) {
	staged, err := s.Transactions(tx)
	if err != nil {
		return 0, err
	}
	if len(staged) == 0 {
		return 0, nil
	}
	rows := make([]warehouse.Transaction, 0, len(staged))
	for _, st := range staged {
		rows = append(rows, warehouse.Transaction{
			TransID:    st.TransID,
			TransDate:  st.TransDate,
			CardNum:    st.CardNum,
			OperType:   st.OperType,
			Amount:     st.Amount,
			OperResult: st.OperResult,
			Terminal:   st.Terminal,
		})
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500)
	return res.RowsAffected, res.Error
}

// applyPassports inserts staged passports that are not blacklisted yet.
func applyPassports(tx *gorm.DB, s *Staging) (int64, error) {
	staged, err := s.Passports(tx)
	if err != nil {
		return 0, err
	}
	if len(staged) == 0 {
		return 0, nil
	}
	rows := make([]warehouse.BlacklistedPassport, 0, len(staged))
	for _, st := range staged {
		rows = append(rows, warehouse.BlacklistedPassport{PassportNum: st.PassportNum, EntryDate: st.EntryDate})
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500)
	return res.RowsAffected, res.Error
}

package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"fraudwatch/dimension"
	"fraudwatch/warehouse"
)

// ErrMalformed marks content errors: the file was read but its columns or
// values do not fit the expected layout.
var ErrMalformed = errors.New("malformed file content")

var (
	transactionColumns = []string{"transaction_id", "transaction_date", "amount", "card_num", "oper_type", "oper_result", "terminal"}
	passportColumns    = []string{"date", "passport"}
	terminalColumns    = []string{"terminal_id", "terminal_type", "terminal_city", "terminal_address"}
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
}

// Staging is the handle to one task's staged rows. Rows of different tasks
// never mix: every staged row carries its owner's TaskID.
type Staging struct {
	TaskID   uint
	InfoType warehouse.InfoType
	Rows     int
}

// LoadStaging converts the table for the task's info type and writes it to the
// staging tables. Any column or value error wraps ErrMalformed.
func LoadStaging(tx *gorm.DB, task *warehouse.FileTask, table *Table) (*Staging, error) {
	s := &Staging{TaskID: task.ID, InfoType: task.InfoType}
	var (
		n   int
		err error
	)
	switch task.InfoType {
	case warehouse.InfoTransactions:
		n, err = stageTransactions(tx, task.ID, table)
	case warehouse.InfoPassportBlacklist:
		n, err = stagePassports(tx, task.ID, table)
	case warehouse.InfoTerminals:
		n, err = stageTerminals(tx, task.ID, table)
	default:
		return nil, fmt.Errorf("%w: unknown info type %q", ErrMalformed, task.InfoType)
	}
	if err != nil {
		return nil, err
	}
	s.Rows = n
	return s, nil
}

func stageTransactions(tx *gorm.DB, taskID uint, table *Table) (int, error) {
	cols, err := table.Columns(transactionColumns...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rows := make([]warehouse.StagedTransaction, 0, len(table.Rows))
	for i, r := range table.Rows {
		id := strings.TrimSpace(r[cols[0]])
		if id == "" {
			return 0, rowError(i, "empty transaction_id")
		}
		ts, err := parseTimestamp(r[cols[1]])
		if err != nil {
			return 0, rowError(i, "transaction_date: %v", err)
		}
		amt, err := parseAmount(r[cols[2]])
		if err != nil {
			return 0, rowError(i, "amount: %v", err)
		}
		rows = append(rows, warehouse.StagedTransaction{
			TaskID:     taskID,
			TransID:    id,
			TransDate:  ts,
			Amount:     amt,
			CardNum:    strings.TrimSpace(r[cols[3]]),
			OperType:   strings.ToUpper(strings.TrimSpace(r[cols[4]])),
			OperResult: strings.ToUpper(strings.TrimSpace(r[cols[5]])),
			Terminal:   strings.TrimSpace(r[cols[6]]),
		})
	}
	return len(rows), insertStaged(tx, rows)
}

func stagePassports(tx *gorm.DB, taskID uint, table *Table) (int, error) {
	cols, err := table.Columns(passportColumns...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rows := make([]warehouse.StagedPassport, 0, len(table.Rows))
	for i, r := range table.Rows {
		ts, err := parseTimestamp(r[cols[0]])
		if err != nil {
			return 0, rowError(i, "date: %v", err)
		}
		passport := strings.TrimSpace(r[cols[1]])
		if passport == "" {
			return 0, rowError(i, "empty passport")
		}
		rows = append(rows, warehouse.StagedPassport{TaskID: taskID, PassportNum: passport, EntryDate: ts})
	}
	return len(rows), insertStaged(tx, rows)
}

func stageTerminals(tx *gorm.DB, taskID uint, table *Table) (int, error) {
	cols, err := table.Columns(terminalColumns...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rows := make([]warehouse.StagedTerminal, 0, len(table.Rows))
	for i, r := range table.Rows {
		id := strings.TrimSpace(r[cols[0]])
		if id == "" {
			return 0, rowError(i, "empty terminal_id")
		}
		rows = append(rows, warehouse.StagedTerminal{
			TaskID:       taskID,
			TerminalID:   id,
			TerminalType: strings.TrimSpace(r[cols[1]]),
			TerminalCity: strings.TrimSpace(r[cols[2]]),
			Address:      strings.TrimSpace(r[cols[3]]),
		})
	}
	return len(rows), insertStaged(tx, rows)
}

func insertStaged[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, 500).Error
}

func rowError(i int, format string, args ...any) error {
	// +2: one for the header, one for 1-based numbering.
	return fmt.Errorf("%w: row %d: %s", ErrMalformed, i+2, fmt.Sprintf(format, args...))
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty value")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	// Spreadsheet cells read raw hold serial day numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		ts, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC().Round(time.Second), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time %q", s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	return decimal.NewFromString(s)
}

// Transactions returns the staged transaction rows.
func (s *Staging) Transactions(tx *gorm.DB) ([]warehouse.StagedTransaction, error) {
	var out []warehouse.StagedTransaction
	err := tx.Where("task_id = ?", s.TaskID).Order("id").Find(&out).Error
	return out, err
}

func (s *Staging) Passports(tx *gorm.DB) ([]warehouse.StagedPassport, error) {
	var out []warehouse.StagedPassport
	err := tx.Where("task_id = ?", s.TaskID).Order("id").Find(&out).Error
	return out, err
}

// Terminals returns the staged terminals in file order as dimension records.
func (s *Staging) Terminals(tx *gorm.DB) ([]dimension.Record, error) {
	var rows []warehouse.StagedTerminal
	if err := tx.Where("task_id = ?", s.TaskID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]dimension.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, dimension.Record{
			TerminalID: r.TerminalID,
			Attributes: dimension.Attributes{Type: r.TerminalType, City: r.TerminalCity, Address: r.Address},
		})
	}
	return out, nil
}

// Drop removes the task's staged rows.
func (s *Staging) Drop(tx *gorm.DB) error {
	var model any
	switch s.InfoType {
	case warehouse.InfoTransactions:
		model = &warehouse.StagedTransaction{}
	case warehouse.InfoPassportBlacklist:
		model = &warehouse.StagedPassport{}
	case warehouse.InfoTerminals:
		model = &warehouse.StagedTerminal{}
	default:
		return nil
	}
	return tx.Where("task_id = ?", s.TaskID).Delete(model).Error
}

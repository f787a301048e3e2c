package warehouse

import (
	"time"

	"github.com/shopspring/decimal"
)

type InfoType string

const (
	InfoTransactions      InfoType = "transactions"
	InfoPassportBlacklist InfoType = "passport_blacklist"
	InfoTerminals         InfoType = "terminals"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// FileTask is one discovered input file. Rows are never deleted: the table is
// the audit log of every file the pipeline has seen.
type FileTask struct {
	ID         uint     `gorm:"primaryKey"`
	RunID      string   `gorm:"index;size:36"`
	FileName   string   `gorm:"index;size:128"`
	InfoType   InfoType `gorm:"size:32"`
	DataFormat string   `gorm:"size:8"`
	// FileDate is the raw DDMMYYYY token from the file name.
	FileDate         string     `gorm:"size:8"`
	FileDateComputed *time.Time `gorm:"index"`
	DiscoveredAt     time.Time  `gorm:"index"`
	Status           TaskStatus `gorm:"index;size:16"`
	ProcessedAt      *time.Time
	Error            string `gorm:"size:256"`
}

func (FileTask) TableName() string { return "meta_file_processing_log" }

// State returns the task status together with the failure reason, which is
// only non-empty for failed tasks.
func (t *FileTask) State() (TaskStatus, string) {
	if t.Status == TaskFailed {
		return t.Status, t.Error
	}
	return t.Status, ""
}

// TerminalVersion is one validity interval of a terminal's attributes.
type TerminalVersion struct {
	ID            uint      `gorm:"primaryKey"`
	TerminalID    string    `gorm:"index;size:128"`
	TerminalType  string    `gorm:"size:128"`
	TerminalCity  string    `gorm:"size:128"`
	Address       string    `gorm:"column:terminal_address;size:256"`
	EffectiveFrom time.Time `gorm:"index"`
	EffectiveTo   time.Time `gorm:"index"`
	Deleted       bool      `gorm:"column:deleted_flg"`
}

func (TerminalVersion) TableName() string { return "dwh_dim_terminals_hist" }

type Transaction struct {
	TransID    string          `gorm:"primaryKey;size:128"`
	TransDate  time.Time       `gorm:"index"`
	CardNum    string          `gorm:"index;size:128"`
	OperType   string          `gorm:"size:32"`
	Amount     decimal.Decimal `gorm:"column:amt;type:decimal(14,2)"`
	OperResult string          `gorm:"size:32"`
	Terminal   string          `gorm:"index;size:128"`
}

func (Transaction) TableName() string { return "dwh_fact_transactions" }

type BlacklistedPassport struct {
	PassportNum string    `gorm:"primaryKey;size:128"`
	EntryDate   time.Time `gorm:"column:entry_dt"`
}

func (BlacklistedPassport) TableName() string { return "dwh_fact_passport_blacklist" }

// Card, Account and Client are reference data maintained outside the pipeline.
type Card struct {
	CardNum string `gorm:"primaryKey;size:128"`
	Account string `gorm:"index;size:128"`
}

func (Card) TableName() string { return "stg_cards" }

type Account struct {
	Account string    `gorm:"primaryKey;size:128"`
	ValidTo time.Time `gorm:"type:date"`
	Client  string    `gorm:"index;size:128"`
}

func (Account) TableName() string { return "stg_accounts" }

type Client struct {
	ClientID        string `gorm:"primaryKey;size:128"`
	LastName        string `gorm:"size:128"`
	FirstName       string `gorm:"size:128"`
	Patronymic      string `gorm:"size:128"`
	DateOfBirth     *time.Time
	PassportNum     string `gorm:"index;size:128"`
	PassportValidTo *time.Time
	Phone           string `gorm:"size:128"`
}

func (Client) TableName() string { return "stg_clients" }

type FraudType struct {
	ID    int    `gorm:"column:fraud_type_id;primaryKey;autoIncrement:false"`
	Label string `gorm:"column:fraud_type;size:128"`
}

func (FraudType) TableName() string { return "meta_fraud_types" }

// FraudEvent is unique per (TransID, FraudTypeID).
type FraudEvent struct {
	ID          uint      `gorm:"primaryKey"`
	TransID     string    `gorm:"uniqueIndex:uniq_fraud_trans_type;size:128"`
	TransDate   time.Time `gorm:"index"`
	FraudTypeID int       `gorm:"uniqueIndex:uniq_fraud_trans_type"`
	CreatedAt   time.Time
}

func (FraudEvent) TableName() string { return "dwh_dim_fraud" }

type FraudReportEntry struct {
	ID         uint      `gorm:"primaryKey"`
	EventDate  time.Time `gorm:"column:event_dt;index"`
	Passport   string    `gorm:"size:128"`
	FullName   string    `gorm:"column:fio;size:384"`
	Phone      string    `gorm:"size:128"`
	EventType  string    `gorm:"size:128"`
	ReportDate time.Time `gorm:"column:report_dt"`
}

func (FraudReportEntry) TableName() string { return "rep_fraud" }

// Staging rows belong to exactly one FileTask.

type StagedTransaction struct {
	ID         uint   `gorm:"primaryKey"`
	TaskID     uint   `gorm:"index"`
	TransID    string `gorm:"size:128"`
	TransDate  time.Time
	CardNum    string          `gorm:"size:128"`
	OperType   string          `gorm:"size:32"`
	Amount     decimal.Decimal `gorm:"type:decimal(14,2)"`
	OperResult string          `gorm:"size:32"`
	Terminal   string          `gorm:"size:128"`
}

func (StagedTransaction) TableName() string { return "stg_load_transactions" }

type StagedPassport struct {
	ID          uint   `gorm:"primaryKey"`
	TaskID      uint   `gorm:"index"`
	PassportNum string `gorm:"size:128"`
	EntryDate   time.Time
}

func (StagedPassport) TableName() string { return "stg_load_passports" }

type StagedTerminal struct {
	ID           uint   `gorm:"primaryKey"`
	TaskID       uint   `gorm:"index"`
	TerminalID   string `gorm:"size:128"`
	TerminalType string `gorm:"size:128"`
	TerminalCity string `gorm:"size:128"`
	Address      string `gorm:"size:256"`
}

func (StagedTerminal) TableName() string { return "stg_load_terminals" }

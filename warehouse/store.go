package warehouse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Config holds the connection parameters. Path is used by sqlite only; the
// remaining fields by postgres.
type Config struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Debug enables gorm statement logging.
	Debug bool
}

// DSN renders the postgres connection string.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

func dialector(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("sqlite path is empty")
		}
		return sqlite.Open(cfg.Path), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Models lists every table the pipeline owns, in migration order.
func Models() []any {
	return []any{
		&FileTask{},
		&TerminalVersion{},
		&Transaction{},
		&BlacklistedPassport{},
		&Card{},
		&Account{},
		&Client{},
		&FraudType{},
		&FraudEvent{},
		&FraudReportEntry{},
		&StagedTransaction{},
		&StagedPassport{},
		&StagedTerminal{},
	}
}

// Open connects to the warehouse and migrates the pipeline tables.
func Open(cfg Config) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	level := gormlogger.Silent
	if cfg.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

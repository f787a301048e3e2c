package fraud

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fraudwatch/dimension"
	"fraudwatch/metrics"
	"fraudwatch/warehouse"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := warehouse.Open(warehouse.Config{Driver: warehouse.DriverSQLite, Path: filepath.Join(t.TempDir(), "dwh.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = warehouse.Close(db) })
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatal(err)
	}
}

// seed creates one client with card 4000 on account 40817 and two terminals.
func seed(t *testing.T, db *gorm.DB, passportValidTo time.Time) {
	t.Helper()
	mustCreate(t, db, &warehouse.Client{
		ClientID: "C1", LastName: "Ivanov", FirstName: "Ivan", Patronymic: "",
		PassportNum: "4510 123456", PassportValidTo: &passportValidTo, Phone: "+7 900 000 00 00",
	})
	mustCreate(t, db, &warehouse.Account{Account: "40817", ValidTo: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), Client: "C1"})
	mustCreate(t, db, &warehouse.Card{CardNum: "4000", Account: "40817"})
	for _, v := range []warehouse.TerminalVersion{
		{TerminalID: "P-MSK", TerminalType: "POS", TerminalCity: "Moscow", EffectiveFrom: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveTo: dimension.OpenEnd},
		{TerminalID: "P-KZN", TerminalType: "POS", TerminalCity: "Kazan", EffectiveFrom: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveTo: dimension.OpenEnd},
	} {
		mustCreate(t, db, &v)
	}
}

func txn(id string, ts time.Time, terminal, operType string, amount int64, result string) *warehouse.Transaction {
	return &warehouse.Transaction{
		TransID: id, TransDate: ts, CardNum: "4000", OperType: operType,
		Amount: decimal.NewFromInt(amount), OperResult: result, Terminal: terminal,
	}
}

func newTestEngine(db *gorm.DB, override string) *Engine {
	now := time.Date(2021, 3, 4, 8, 0, 0, 0, time.UTC)
	return NewEngine(db, EngineConfig{OverridePath: override, Now: func() time.Time { return now }}, zerolog.Nop(), metrics.New())
}

func TestEngine_SkipsWithoutTransactions(t *testing.T) {
	db := openTestDB(t)
	res, err := newTestEngine(db, "").Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Fatalf("expected skipped run")
	}
}

func TestEngine_DetectsAndRebuildsReport(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, tx := range []*warehouse.Transaction{
		txn("X", at(10, 0), "P-MSK", "PAYMENT", 10, "SUCCESS"),
		txn("Y", at(10, 30), "P-KZN", "PAYMENT", 10, "SUCCESS"),
		txn("G1", at(15, 0), "P-KZN", "PAYMENT", 100, "REJECT"),
		txn("G2", at(15, 5), "P-KZN", "PAYMENT", 80, "REJECT"),
		txn("G3", at(15, 15), "P-KZN", "PAYMENT", 50, "SUCCESS"),
	} {
		mustCreate(t, db, tx)
	}

	e := newTestEngine(db, "")
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Window.Start.Equal(latest) || !res.Window.End.Equal(latest.Add(24*time.Hour)) || res.Overridden {
		t.Fatalf("unexpected window %s overridden=%v", res.Window, res.Overridden)
	}
	if res.Inserted["different_cities"] != 1 || res.Inserted["amount_guessing"] != 1 {
		t.Fatalf("unexpected inserts %v", res.Inserted)
	}

	var events []warehouse.FraudEvent
	if err := db.Order("fraud_type_id").Find(&events).Error; err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].TransID != "Y" || events[0].FraudTypeID != TypeCities || events[1].TransID != "G3" {
		t.Fatalf("unexpected events %+v", events)
	}

	var report []warehouse.FraudReportEntry
	if err := db.Order("event_dt").Find(&report).Error; err != nil {
		t.Fatal(err)
	}
	if len(report) != 2 || res.ReportRows != 2 {
		t.Fatalf("expected 2 report rows, got %d", len(report))
	}
	if report[0].FullName != "Ivanov Ivan" || report[0].Passport != "4510 123456" || report[0].EventType != TypeLabels[TypeCities] {
		t.Fatalf("unexpected report row %+v", report[0])
	}
	if !report[0].EventDate.Equal(at(10, 30)) {
		t.Fatalf("unexpected event date %v", report[0].EventDate)
	}

	// Re-running over the same window inserts nothing and rebuilds the
	// same report.
	res, err = e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for name, n := range res.Inserted {
		if n != 0 {
			t.Fatalf("rule %s inserted %d on re-run", name, n)
		}
	}
	var count int64
	if err := db.Model(&warehouse.FraudEvent{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events after re-run, got %d", count)
	}
	if err := db.Model(&warehouse.FraudReportEntry{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 report rows after re-run, got %d", count)
	}
}

func TestEngine_PassportRulesShareType(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC))
	mustCreate(t, db, &warehouse.BlacklistedPassport{PassportNum: "4510 123456", EntryDate: time.Date(2021, 2, 15, 0, 0, 0, 0, time.UTC)})
	mustCreate(t, db, txn("P1", at(9, 0), "P-MSK", "DEPOSIT", 10, "SUCCESS"))

	res, err := newTestEngine(db, "").Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted["passport_expired"] != 1 || res.Inserted["passport_blacklisted"] != 0 {
		t.Fatalf("unexpected inserts %v", res.Inserted)
	}
	var types []warehouse.FraudType
	if err := db.Order("fraud_type_id").Find(&types).Error; err != nil {
		t.Fatal(err)
	}
	if len(types) != len(TypeLabels) || types[0].Label != TypeLabels[TypePassport] {
		t.Fatalf("unexpected fraud types %+v", types)
	}
}

func TestEngine_OverrideNarrowsWindowAndReportKeepsOutsideRows(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	mustCreate(t, db, txn("X", latest.Add(-10*time.Minute), "P-MSK", "PAYMENT", 10, "SUCCESS"))
	mustCreate(t, db, txn("Y", at(0, 20), "P-KZN", "PAYMENT", 10, "SUCCESS"))
	mustCreate(t, db, txn("Z", at(12, 0), "P-MSK", "PAYMENT", 10, "SUCCESS"))
	old := warehouse.FraudReportEntry{EventDate: time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC), EventType: "older"}
	mustCreate(t, db, &old)

	path := writeOverride(t, `{"is_active": "1", "start_dt": "2021-03-03 00:00:00", "end_dt": "2021-03-03 06:00:00"}`)
	res, err := newTestEngine(db, path).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Overridden || !res.Window.End.Equal(at(6, 0)) {
		t.Fatalf("expected override window, got %s", res.Window)
	}
	// X lies before the window but still feeds the sequence; Z lies after it.
	if res.Inserted["different_cities"] != 1 || res.ReportRows != 1 {
		t.Fatalf("unexpected inserts %v", res.Inserted)
	}
	var count int64
	if err := db.Model(&warehouse.FraudReportEntry{}).Where("event_type = ?", "older").Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("report rows outside the window must survive, got %d", count)
	}
}

func TestEngine_InvalidOverrideFallsBack(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	mustCreate(t, db, txn("X", at(10, 0), "P-MSK", "PAYMENT", 10, "SUCCESS"))

	path := writeOverride(t, `{"is_active": "1", "start_dt": "2021-03-05 00:00:00", "end_dt": "2021-03-06 00:00:00"}`)
	res, err := newTestEngine(db, path).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Overridden || !res.Window.Start.Equal(latest) {
		t.Fatalf("expected default window, got %s", res.Window)
	}
}

func TestFullName(t *testing.T) {
	c := warehouse.Client{LastName: " Petrova ", FirstName: "Anna", Patronymic: "Sergeevna"}
	if got := FullName(c); got != "Petrova Anna Sergeevna" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := FullName(warehouse.Client{FirstName: "Anna"}); got != "Anna" {
		t.Fatalf("unexpected name %q", got)
	}
}

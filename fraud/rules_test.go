package fraud

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func at(h, m int) time.Time { return time.Date(2021, 3, 3, h, m, 0, 0, time.UTC) }

func cityTxn(id string, ts time.Time, account, city string) Txn {
	return Txn{TransID: id, TransDate: ts, HasAccount: true, Account: account, HasCity: city != "", City: city}
}

func cashTxn(id string, ts time.Time, account, operType string, amount int64, result string) Txn {
	return Txn{
		TransID: id, TransDate: ts, HasAccount: true, Account: account,
		OperType: operType, Amount: decimal.NewFromInt(amount), OperResult: result,
	}
}

func ids(txns []Txn) []string {
	out := make([]string, 0, len(txns))
	for _, t := range txns {
		out = append(out, t.TransID)
	}
	return out
}

func assertIDs(t *testing.T, got []Txn, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

func TestDifferentCities_FlagsSecondCity(t *testing.T) {
	h := &History{Window: DefaultWindow(latest), Txns: []Txn{
		cityTxn("X", at(10, 0), "A", "Moscow"),
		cityTxn("Y", at(10, 30), "A", "Kazan"),
		cityTxn("Z", at(10, 40), "B", "Moscow"),
	}}
	assertIDs(t, differentCities(h), "Y")
}

func TestDifferentCities_GapAndUnresolvedTerminal(t *testing.T) {
	h := &History{Window: DefaultWindow(latest), Txns: []Txn{
		cityTxn("1", at(8, 0), "A", "Moscow"),
		cityTxn("2", at(9, 1), "A", "Kazan"), // 61 minutes later
		cityTxn("3", at(9, 10), "A", ""),     // no terminal version
		cityTxn("4", at(10, 0), "A", "Kazan"),
		cityTxn("5", at(10, 1), "A", "Perm"),
	}}
	assertIDs(t, differentCities(h), "5")
}

func TestDifferentCities_LookbackRowsFeedButAreNotFlagged(t *testing.T) {
	h := &History{Window: DefaultWindow(latest), Txns: []Txn{
		cityTxn("1", latest.Add(-50*time.Minute), "A", "Moscow"),
		cityTxn("2", latest.Add(-40*time.Minute), "A", "Kazan"),
		cityTxn("3", latest.Add(10*time.Minute), "A", "Moscow"),
	}}
	assertIDs(t, differentCities(h), "3")
}

func TestAmountGuessing_FlagsThirdOnly(t *testing.T) {
	h := &History{Window: DefaultWindow(latest), Txns: []Txn{
		cashTxn("1", at(12, 0), "A", "PAYMENT", 100, "REJECT"),
		cashTxn("2", at(12, 7), "A", "PAYMENT", 80, "REJECT"),
		cashTxn("3", at(12, 15), "A", "PAYMENT", 50, "SUCCESS"),
	}}
	assertIDs(t, amountGuessing(h), "3")
}

func TestAmountGuessing_Negatives(t *testing.T) {
	tests := []struct {
		name string
		txns []Txn
	}{
		{name: "too slow", txns: []Txn{
			cashTxn("1", at(12, 0), "A", "WITHDRAW", 100, "REJECT"),
			cashTxn("2", at(12, 10), "A", "WITHDRAW", 80, "REJECT"),
			cashTxn("3", at(12, 21), "A", "WITHDRAW", 50, "SUCCESS"),
		}},
		{name: "not decreasing", txns: []Txn{
			cashTxn("1", at(12, 0), "A", "PAYMENT", 100, "REJECT"),
			cashTxn("2", at(12, 1), "A", "PAYMENT", 100, "REJECT"),
			cashTxn("3", at(12, 2), "A", "PAYMENT", 50, "SUCCESS"),
		}},
		{name: "wrong results", txns: []Txn{
			cashTxn("1", at(12, 0), "A", "PAYMENT", 100, "REJECT"),
			cashTxn("2", at(12, 1), "A", "PAYMENT", 80, "SUCCESS"),
			cashTxn("3", at(12, 2), "A", "PAYMENT", 50, "SUCCESS"),
		}},
		{name: "different accounts", txns: []Txn{
			cashTxn("1", at(12, 0), "A", "PAYMENT", 100, "REJECT"),
			cashTxn("2", at(12, 1), "B", "PAYMENT", 80, "REJECT"),
			cashTxn("3", at(12, 2), "A", "PAYMENT", 50, "SUCCESS"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &History{Window: DefaultWindow(latest), Txns: tt.txns}
			assertIDs(t, amountGuessing(h))
		})
	}
}

func TestAmountGuessing_IgnoresOtherOperations(t *testing.T) {
	h := &History{Window: DefaultWindow(latest), Txns: []Txn{
		cashTxn("1", at(12, 0), "A", "PAYMENT", 100, "REJECT"),
		cashTxn("2", at(12, 1), "A", "PAYMENT", 80, "REJECT"),
		cashTxn("x", at(12, 2), "A", "DEPOSIT", 1000, "SUCCESS"),
		cashTxn("3", at(12, 3), "A", "PAYMENT", 50, "SUCCESS"),
	}}
	assertIDs(t, amountGuessing(h), "3")
}

func TestExpiryRules_ValidThroughLastDay(t *testing.T) {
	validTo := time.Date(2021, 3, 2, 0, 0, 0, 0, time.UTC)
	w := Window{Start: time.Date(2021, 3, 2, 0, 0, 0, 0, time.UTC), End: time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)}
	h := &History{Window: w, Txns: []Txn{
		{TransID: "last-day", TransDate: time.Date(2021, 3, 2, 23, 59, 59, 0, time.UTC), HasClient: true, PassportValidTo: &validTo, HasContract: true, AccountValidTo: validTo},
		{TransID: "expired", TransDate: time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC), HasClient: true, PassportValidTo: &validTo, HasContract: true, AccountValidTo: validTo},
		{TransID: "no-date", TransDate: time.Date(2021, 3, 3, 1, 0, 0, 0, time.UTC), HasClient: true},
	}}
	assertIDs(t, passportExpired(h), "expired")
	assertIDs(t, contractExpired(h), "expired")
}

func TestPassportBlacklisted(t *testing.T) {
	h := &History{Window: DefaultWindow(latest), Txns: []Txn{
		{TransID: "1", TransDate: at(1, 0), HasClient: true, Blacklisted: true},
		{TransID: "2", TransDate: at(2, 0), HasClient: true},
		{TransID: "3", TransDate: latest.Add(-time.Minute), HasClient: true, Blacklisted: true},
	}}
	assertIDs(t, passportBlacklisted(h), "1")
}

func TestMaxLookback(t *testing.T) {
	if got := MaxLookback(DefaultRules()); got != time.Hour {
		t.Fatalf("expected 1h, got %v", got)
	}
}

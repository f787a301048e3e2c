package ingest

import (
	"testing"
	"time"

	"fraudwatch/warehouse"
)

func TestParseFileName(t *testing.T) {
	cases := []struct {
		name   string
		ok     bool
		info   warehouse.InfoType
		token  string
		format string
	}{
		{"transactions_01032021.txt", true, warehouse.InfoTransactions, "01032021", "txt"},
		{"passport_blacklist_01032021.xlsx", true, warehouse.InfoPassportBlacklist, "01032021", "xlsx"},
		{"terminals_15012024.csv", true, warehouse.InfoTerminals, "15012024", "csv"},
		{"transactions_31022024.txt", true, warehouse.InfoTransactions, "31022024", "txt"},
		{"transactions_0103202.txt", false, "", "", ""},
		{"transactions_01032021.json", false, "", "", ""},
		{"cards_01032021.txt", false, "", "", ""},
		{"xtransactions_01032021.txt", false, "", "", ""},
		{"transactions_01032021.txt.backup", false, "", "", ""},
	}
	for _, c := range cases {
		got, ok := ParseFileName(c.name)
		if ok != c.ok {
			t.Fatalf("%s: expected ok=%v, got %v", c.name, c.ok, ok)
		}
		if !ok {
			continue
		}
		if got.Name != c.name || got.InfoType != c.info || got.DateToken != c.token || got.Format != c.format {
			t.Fatalf("%s: unexpected parse %+v", c.name, got)
		}
	}
}

func TestParseFileDate(t *testing.T) {
	got, err := ParseFileDate("15012024")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %s", got)
	}
	for _, bad := range []string{"31022024", "00012024", "01132024", "29022023"} {
		if _, err := ParseFileDate(bad); err == nil {
			t.Fatalf("expected %s to be rejected", bad)
		}
	}
	if _, err := ParseFileDate("29022024"); err != nil {
		t.Fatalf("leap day rejected: %v", err)
	}
}

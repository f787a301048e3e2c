package ingest

import (
	"regexp"
	"time"

	"fraudwatch/warehouse"
)

var fileNamePattern = regexp.MustCompile(`^(transactions|passport_blacklist|terminals)_(\d{8})\.(txt|csv|xlsx)$`)

const fileDateLayout = "02012006"

// FileName is a parsed input file name <info_type>_<DDMMYYYY>.<ext>.
type FileName struct {
	Name      string
	InfoType  warehouse.InfoType
	DateToken string
	Format    string
}

// ParseFileName reports whether name follows the input naming convention.
// The date token is not validated here.
func ParseFileName(name string) (FileName, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return FileName{}, false
	}
	return FileName{Name: m[0], InfoType: warehouse.InfoType(m[1]), DateToken: m[2], Format: m[3]}, true
}

// ParseFileDate parses a DDMMYYYY token as a UTC calendar date.
func ParseFileDate(token string) (time.Time, error) {
	return time.ParseInLocation(fileDateLayout, token, time.UTC)
}

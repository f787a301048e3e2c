// Package dimension maintains the historized terminal dimension.
//
// Every terminal has a chain of versions with non-overlapping validity
// intervals. The current version is open: its effective_to is OpenEnd.
// A terminal that disappears from the feed gets a final open version with the
// deleted flag set.
package dimension

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"fraudwatch/warehouse"
)

// OpenEnd is the effective_to of the version currently in effect.
var OpenEnd = time.Date(2999, 12, 31, 23, 59, 59, 0, time.UTC)

type Attributes struct {
	Type    string
	City    string
	Address string
}

type Record struct {
	TerminalID string
	Attributes
}

// Plan is the three-way partition of one feed against the dimension.
type Plan struct {
	New     []Record
	Changed []Record
	Deleted []Record

	// closeIDs are the open versions superseded by Changed and Deleted.
	closeIDs []uint
}

func (p Plan) Empty() bool {
	return len(p.New) == 0 && len(p.Changed) == 0 && len(p.Deleted) == 0
}

// Classify partitions staged terminals against the existing versions. It reads
// only the pre-mutation state, so it must run before any version is touched.
// When a terminal id occurs more than once in staged, the last row wins.
func Classify(staged []Record, versions []warehouse.TerminalVersion) Plan {
	known := make(map[string]struct{}, len(versions))
	open := make(map[string]warehouse.TerminalVersion)
	for _, v := range versions {
		known[v.TerminalID] = struct{}{}
		if v.EffectiveTo.Equal(OpenEnd) {
			open[v.TerminalID] = v
		}
	}

	feed := make(map[string]Record, len(staged))
	for _, r := range staged {
		feed[r.TerminalID] = r
	}
	ids := make([]string, 0, len(feed))
	for id := range feed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var p Plan
	for _, id := range ids {
		r := feed[id]
		if _, ok := known[id]; !ok {
			p.New = append(p.New, r)
			continue
		}
		cur, ok := open[id]
		if !ok {
			continue
		}
		if cur.Deleted || attributesOf(cur) != r.Attributes {
			p.Changed = append(p.Changed, r)
			p.closeIDs = append(p.closeIDs, cur.ID)
		}
	}

	openIDs := make([]string, 0, len(open))
	for id := range open {
		openIDs = append(openIDs, id)
	}
	sort.Strings(openIDs)
	for _, id := range openIDs {
		cur := open[id]
		if cur.Deleted {
			continue
		}
		if _, ok := feed[id]; ok {
			continue
		}
		p.Deleted = append(p.Deleted, Record{TerminalID: id, Attributes: attributesOf(cur)})
		p.closeIDs = append(p.closeIDs, cur.ID)
	}
	return p
}

func attributesOf(v warehouse.TerminalVersion) Attributes {
	return Attributes{Type: v.TerminalType, City: v.TerminalCity, Address: v.Address}
}

// Apply merges one terminal feed dated fileDate into the dimension. Superseded
// versions are closed one second before fileDate before the new versions are
// opened, so no terminal is ever seen with two open versions.
func Apply(tx *gorm.DB, staged []Record, fileDate time.Time) (Plan, error) {
	var versions []warehouse.TerminalVersion
	if err := tx.Order("terminal_id").Order("effective_from").Find(&versions).Error; err != nil {
		return Plan{}, fmt.Errorf("load terminal versions: %w", err)
	}
	plan := Classify(staged, versions)
	if plan.Empty() {
		return plan, nil
	}

	from := fileDate.UTC()
	if len(plan.closeIDs) > 0 {
		err := tx.Model(&warehouse.TerminalVersion{}).
			Where("id IN ?", plan.closeIDs).
			Update("effective_to", from.Add(-time.Second)).Error
		if err != nil {
			return Plan{}, fmt.Errorf("close terminal versions: %w", err)
		}
	}

	rows := make([]warehouse.TerminalVersion, 0, len(plan.New)+len(plan.Changed)+len(plan.Deleted))
	for _, r := range plan.New {
		rows = append(rows, newVersion(r, from, false))
	}
	for _, r := range plan.Changed {
		rows = append(rows, newVersion(r, from, false))
	}
	for _, r := range plan.Deleted {
		rows = append(rows, newVersion(r, from, true))
	}
	if err := tx.CreateInBatches(rows, 500).Error; err != nil {
		return Plan{}, fmt.Errorf("open terminal versions: %w", err)
	}
	return plan, nil
}

func newVersion(r Record, from time.Time, deleted bool) warehouse.TerminalVersion {
	return warehouse.TerminalVersion{
		TerminalID:    r.TerminalID,
		TerminalType:  r.Type,
		TerminalCity:  r.City,
		Address:       r.Address,
		EffectiveFrom: from,
		EffectiveTo:   OpenEnd,
		Deleted:       deleted,
	}
}

// VersionAt returns the version of a terminal in effect at ts, if any.
func VersionAt(versions []warehouse.TerminalVersion, ts time.Time) (warehouse.TerminalVersion, bool) {
	for _, v := range versions {
		if !ts.Before(v.EffectiveFrom) && !ts.After(v.EffectiveTo) {
			return v, true
		}
	}
	return warehouse.TerminalVersion{}, false
}

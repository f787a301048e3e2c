package fraud

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"fraudwatch/warehouse"
)

// FullName joins the non-empty name parts with single spaces.
func FullName(c warehouse.Client) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.LastName, c.FirstName, c.Patronymic} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// rebuildReport replaces the report rows of window w with the projection of
// every fraud event in w. Events whose transaction, client or fraud type
// cannot be resolved are left out.
func rebuildReport(tx *gorm.DB, w Window, now time.Time) (int, error) {
	err := tx.Where("event_dt >= ? AND event_dt < ?", w.Start, w.End).
		Delete(&warehouse.FraudReportEntry{}).Error
	if err != nil {
		return 0, err
	}

	var events []warehouse.FraudEvent
	err = tx.Where("trans_date >= ? AND trans_date < ?", w.Start, w.End).
		Order("trans_date asc").
		Order("id asc").
		Find(&events).Error
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	transIDs := make([]string, 0, len(events))
	for _, e := range events {
		transIDs = append(transIDs, e.TransID)
	}
	txns, err := findIn[warehouse.Transaction](tx, "trans_id", uniq(transIDs))
	if err != nil {
		return 0, err
	}
	byID := make(map[string]warehouse.Transaction, len(txns))
	cardNums := make([]string, 0, len(txns))
	for _, t := range txns {
		byID[t.TransID] = t
		cardNums = append(cardNums, t.CardNum)
	}
	r, err := loadRefs(tx, cardNums)
	if err != nil {
		return 0, err
	}

	var types []warehouse.FraudType
	if err := tx.Find(&types).Error; err != nil {
		return 0, err
	}
	labels := make(map[int]string, len(types))
	for _, ft := range types {
		labels[ft.ID] = ft.Label
	}

	entries := make([]warehouse.FraudReportEntry, 0, len(events))
	for _, e := range events {
		t, ok := byID[e.TransID]
		if !ok {
			continue
		}
		c, ok := r.client(t.CardNum)
		if !ok {
			continue
		}
		label, ok := labels[e.FraudTypeID]
		if !ok {
			continue
		}
		entries = append(entries, warehouse.FraudReportEntry{
			EventDate:  t.TransDate.UTC(),
			Passport:   c.PassportNum,
			FullName:   FullName(c),
			Phone:      c.Phone,
			EventType:  label,
			ReportDate: now,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := tx.CreateInBatches(entries, inChunk).Error; err != nil {
		return 0, err
	}
	return len(entries), nil
}

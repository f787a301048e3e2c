package fraud

import (
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"fraudwatch/dimension"
	"fraudwatch/warehouse"
)

// inChunk bounds the number of bind parameters per IN (...) query.
const inChunk = 500

// LatestTransactionDay returns MAX(trans_date) truncated to midnight UTC.
// ok is false when there are no transactions.
func LatestTransactionDay(db *gorm.DB) (day time.Time, ok bool, err error) {
	var t warehouse.Transaction
	err = db.Order("trans_date desc").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts := t.TransDate.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), true, nil
}

func findIn[T any](db *gorm.DB, column string, keys []string) ([]T, error) {
	var out []T
	for i := 0; i < len(keys); i += inChunk {
		end := min(i+inChunk, len(keys))
		var part []T
		if err := db.Where(column+" IN ?", keys[i:end]).Find(&part).Error; err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func uniq(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// refs is the reference data reachable from a set of cards.
type refs struct {
	cards       map[string]warehouse.Card
	accounts    map[string]warehouse.Account
	clients     map[string]warehouse.Client
	blacklisted map[string]bool
}

func loadRefs(db *gorm.DB, cardNums []string) (*refs, error) {
	r := &refs{
		cards:       make(map[string]warehouse.Card),
		accounts:    make(map[string]warehouse.Account),
		clients:     make(map[string]warehouse.Client),
		blacklisted: make(map[string]bool),
	}
	cards, err := findIn[warehouse.Card](db, "card_num", uniq(cardNums))
	if err != nil {
		return nil, err
	}
	accountIDs := make([]string, 0, len(cards))
	for _, c := range cards {
		r.cards[c.CardNum] = c
		accountIDs = append(accountIDs, c.Account)
	}

	accounts, err := findIn[warehouse.Account](db, "account", uniq(accountIDs))
	if err != nil {
		return nil, err
	}
	clientIDs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		r.accounts[a.Account] = a
		clientIDs = append(clientIDs, a.Client)
	}

	clients, err := findIn[warehouse.Client](db, "client_id", uniq(clientIDs))
	if err != nil {
		return nil, err
	}
	passports := make([]string, 0, len(clients))
	for _, c := range clients {
		r.clients[c.ClientID] = c
		passports = append(passports, c.PassportNum)
	}

	listed, err := findIn[warehouse.BlacklistedPassport](db, "passport_num", uniq(passports))
	if err != nil {
		return nil, err
	}
	for _, p := range listed {
		r.blacklisted[p.PassportNum] = true
	}
	return r, nil
}

// client resolves card -> account -> client.
func (r *refs) client(cardNum string) (warehouse.Client, bool) {
	card, ok := r.cards[cardNum]
	if !ok {
		return warehouse.Client{}, false
	}
	acc, ok := r.accounts[card.Account]
	if !ok {
		return warehouse.Client{}, false
	}
	c, ok := r.clients[acc.Client]
	return c, ok
}

// loadHistory loads the transactions in [w.Start-lookback, w.End) and joins
// them to their reference data and terminal versions.
func loadHistory(db *gorm.DB, w Window, lookback time.Duration) (*History, error) {
	var rows []warehouse.Transaction
	err := db.Where("trans_date >= ? AND trans_date < ?", w.Start.Add(-lookback), w.End).
		Order("trans_date asc").
		Order("trans_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	cardNums := make([]string, 0, len(rows))
	terminalIDs := make([]string, 0, len(rows))
	for _, t := range rows {
		cardNums = append(cardNums, t.CardNum)
		terminalIDs = append(terminalIDs, t.Terminal)
	}
	r, err := loadRefs(db, cardNums)
	if err != nil {
		return nil, err
	}
	versions, err := findIn[warehouse.TerminalVersion](db, "terminal_id", uniq(terminalIDs))
	if err != nil {
		return nil, err
	}
	byTerminal := make(map[string][]warehouse.TerminalVersion)
	for _, v := range versions {
		v.EffectiveFrom = v.EffectiveFrom.UTC()
		v.EffectiveTo = v.EffectiveTo.UTC()
		byTerminal[v.TerminalID] = append(byTerminal[v.TerminalID], v)
	}

	h := &History{Window: w, Txns: make([]Txn, 0, len(rows))}
	for _, t := range rows {
		x := Txn{
			TransID:    t.TransID,
			TransDate:  t.TransDate.UTC(),
			CardNum:    t.CardNum,
			OperType:   t.OperType,
			Amount:     t.Amount,
			OperResult: t.OperResult,
			Terminal:   t.Terminal,
		}
		if card, ok := r.cards[t.CardNum]; ok {
			x.HasAccount = true
			x.Account = card.Account
			if acc, ok := r.accounts[card.Account]; ok {
				x.HasContract = true
				x.AccountValidTo = acc.ValidTo.UTC()
			}
		}
		if c, ok := r.client(t.CardNum); ok {
			x.HasClient = true
			x.PassportNum = c.PassportNum
			if c.PassportValidTo != nil {
				validTo := c.PassportValidTo.UTC()
				x.PassportValidTo = &validTo
			}
			x.Blacklisted = r.blacklisted[c.PassportNum]
		}
		if v, ok := dimension.VersionAt(byTerminal[t.Terminal], x.TransDate); ok {
			x.HasCity = true
			x.City = v.TerminalCity
		}
		h.Txns = append(h.Txns, x)
	}
	return h, nil
}

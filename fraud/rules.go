package fraud

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Fraud type ids as stored in meta_fraud_types. The expired and blacklisted
// passport rules share one id.
const (
	TypePassport      = 1
	TypeContract      = 2
	TypeCities        = 3
	TypeAmountGuessed = 4
)

// TypeLabels seed meta_fraud_types.
var TypeLabels = map[int]string{
	TypePassport:      "expired or blocked passport",
	TypeContract:      "expired contract",
	TypeCities:        "transactions in different cities within one hour",
	TypeAmountGuessed: "amount guessing",
}

const (
	citiesInterval = 60 * time.Minute
	guessInterval  = 20 * time.Minute
)

// Txn is one transaction joined to its card, account, client and the
// terminal version valid at the transaction time. Missing references leave
// the corresponding Has* flag unset.
type Txn struct {
	TransID    string
	TransDate  time.Time
	CardNum    string
	OperType   string
	Amount     decimal.Decimal
	OperResult string
	Terminal   string

	// HasAccount is set when the card resolves to an account; HasContract
	// when that account's row exists.
	HasAccount     bool
	Account        string
	HasContract    bool
	AccountValidTo time.Time

	HasClient       bool
	PassportNum     string
	PassportValidTo *time.Time
	Blacklisted     bool

	HasCity bool
	City    string
}

// History is every transaction from the earliest lookback before the window
// up to the window end, ordered by (TransDate, TransID).
type History struct {
	Window Window
	Txns   []Txn
}

// from returns the history suffix starting lookback before the window.
func (h *History) from(lookback time.Duration) []Txn {
	start := h.Window.Start.Add(-lookback)
	for i, t := range h.Txns {
		if !t.TransDate.Before(start) {
			return h.Txns[i:]
		}
	}
	return nil
}

// byAccount groups txns per account, keeping order. Txns without an account
// are dropped.
func byAccount(txns []Txn, keep func(Txn) bool) map[string][]Txn {
	out := make(map[string][]Txn)
	for _, t := range txns {
		if !t.HasAccount || (keep != nil && !keep(t)) {
			continue
		}
		out[t.Account] = append(out[t.Account], t)
	}
	return out
}

// inOrder returns the groups sorted by account.
func inOrder(groups map[string][]Txn) [][]Txn {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]Txn, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

// Rule flags transactions of a history. Only transactions inside the window
// may be returned; lookback rows only feed the sequences.
type Rule struct {
	Name     string
	TypeID   int
	Lookback time.Duration
	Detect   func(h *History) []Txn
}

// DefaultRules returns the five detection rules in run order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "passport_expired", TypeID: TypePassport, Detect: passportExpired},
		{Name: "passport_blacklisted", TypeID: TypePassport, Detect: passportBlacklisted},
		{Name: "contract_expired", TypeID: TypeContract, Detect: contractExpired},
		{Name: "different_cities", TypeID: TypeCities, Lookback: citiesInterval, Detect: differentCities},
		{Name: "amount_guessing", TypeID: TypeAmountGuessed, Lookback: guessInterval, Detect: amountGuessing},
	}
}

// MaxLookback is the widest lookback of rules.
func MaxLookback(rules []Rule) time.Duration {
	var widest time.Duration
	for _, r := range rules {
		if r.Lookback > widest {
			widest = r.Lookback
		}
	}
	return widest
}

func inWindow(h *History, keep func(Txn) bool) []Txn {
	var out []Txn
	for _, t := range h.from(0) {
		if h.Window.Contains(t.TransDate) && keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// A document stays valid through its valid-to day.
func expired(validTo time.Time, ts time.Time) bool {
	return !ts.Before(validTo.AddDate(0, 0, 1))
}

func passportExpired(h *History) []Txn {
	return inWindow(h, func(t Txn) bool {
		return t.HasClient && t.PassportValidTo != nil && expired(*t.PassportValidTo, t.TransDate)
	})
}

func passportBlacklisted(h *History) []Txn {
	return inWindow(h, func(t Txn) bool {
		return t.HasClient && t.Blacklisted
	})
}

func contractExpired(h *History) []Txn {
	return inWindow(h, func(t Txn) bool {
		return t.HasContract && expired(t.AccountValidTo, t.TransDate)
	})
}

// differentCities flags a transaction whose city differs from the account's
// previous transaction at most an hour earlier. Transactions with no valid
// terminal version are not part of the sequence.
func differentCities(h *History) []Txn {
	var out []Txn
	for _, seq := range inOrder(byAccount(h.from(citiesInterval), func(t Txn) bool { return t.HasCity })) {
		for i := 1; i < len(seq); i++ {
			prev, cur := seq[i-1], seq[i]
			if cur.City == prev.City || cur.TransDate.Sub(prev.TransDate) > citiesInterval {
				continue
			}
			if h.Window.Contains(cur.TransDate) {
				out = append(out, cur)
			}
		}
	}
	return out
}

// amountGuessing flags the third of three consecutive payments or
// withdrawals of one account within 20 minutes, with strictly decreasing
// amounts, where two rejects are followed by a success.
func amountGuessing(h *History) []Txn {
	cash := func(t Txn) bool { return t.OperType == "PAYMENT" || t.OperType == "WITHDRAW" }
	var out []Txn
	for _, seq := range inOrder(byAccount(h.from(guessInterval), cash)) {
		for i := 2; i < len(seq); i++ {
			a, b, c := seq[i-2], seq[i-1], seq[i]
			if c.TransDate.Sub(a.TransDate) > guessInterval {
				continue
			}
			if !a.Amount.GreaterThan(b.Amount) || !b.Amount.GreaterThan(c.Amount) {
				continue
			}
			if a.OperResult != "REJECT" || b.OperResult != "REJECT" || c.OperResult != "SUCCESS" {
				continue
			}
			if h.Window.Contains(c.TransDate) {
				out = append(out, c)
			}
		}
	}
	return out
}

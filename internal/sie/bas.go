package sie

import "strconv"

// BAS account ranges used by the KPI engine. Balance-sheet items come from
// IB/UB rows, income-statement items from RES rows. SIE stores credits
// negative: liabilities and revenue carry negative signs in the raw rows.
const (
	basAssetsLo = 1000
	basAssetsHi = 1999

	basFixedAssetsLo = 1000
	basFixedAssetsHi = 1399

	basInventoryLo = 1400
	basInventoryHi = 1499

	// Current assets: inventory, receivables, prepaid, cash.
	basCurrentAssetsLo = 1400
	basCurrentAssetsHi = 1999

	basCustomerReceivablesLo = 1500
	basCustomerReceivablesHi = 1599

	basCashLo = 1900
	basCashHi = 1999

	basEquityLo = 2080
	basEquityHi = 2099

	basUntaxedReservesLo = 2100
	basUntaxedReservesHi = 2199

	basProvisionsLo = 2200
	basProvisionsHi = 2299

	basLongTermLiabLo = 2300
	basLongTermLiabHi = 2399

	// Loans to credit institutions, bonds and similar within the long-term range.
	basInterestBearingLTLo = 2310
	basInterestBearingLTHi = 2369

	basCurrentLiabLo = 2400
	basCurrentLiabHi = 2999

	// Short-term loans to credit institutions.
	basInterestBearingSTLo = 2410
	basInterestBearingSTHi = 2419

	basAccountsPayableLo = 2440
	basAccountsPayableHi = 2449

	basRevenueLo = 3000
	basRevenueHi = 3799

	basDiscountsLo = 3700
	basDiscountsHi = 3799

	basCOGSLo = 4000
	basCOGSHi = 4999

	basOpexLo = 5000
	basOpexHi = 6999

	basPersonnelLo = 7000
	basPersonnelHi = 7699

	basDepreciationLo = 7700
	basDepreciationHi = 7899

	basFinancialIncomeLo = 8000
	basFinancialIncomeHi = 8399

	basInterestExpenseLo = 8400
	basInterestExpenseHi = 8499

	basOtherFinExpenseLo = 8500
	basOtherFinExpenseHi = 8799

	basTaxesLo = 8900
	basTaxesHi = 8999

	basResultLo = 3000
	basResultHi = 8999
)

// CorporateTaxRate is the Swedish corporate tax rate used for untaxed-reserve
// adjustments.
const CorporateTaxRate = 0.206

// balanceSet aggregates one year's rows by kind for ranged sums.
type balanceSet struct {
	ib  map[int]float64 // account number -> amount
	ub  map[int]float64
	res map[int]float64
}

func newBalanceSet() *balanceSet {
	return &balanceSet{
		ib:  make(map[int]float64),
		ub:  make(map[int]float64),
		res: make(map[int]float64),
	}
}

// collectBalances splits the document's balance rows by year index.
func collectBalances(doc *Document) map[int]*balanceSet {
	sets := make(map[int]*balanceSet)
	for _, b := range doc.Balances {
		set, ok := sets[b.YearIndex]
		if !ok {
			set = newBalanceSet()
			sets[b.YearIndex] = set
		}
		acct, err := strconv.Atoi(b.AccountNumber)
		if err != nil {
			continue
		}
		switch b.Kind {
		case BalanceOpening:
			set.ib[acct] += b.Amount
		case BalanceClosing:
			set.ub[acct] += b.Amount
		case BalanceResult:
			set.res[acct] += b.Amount
		}
	}
	return sets
}

func sumRange(m map[int]float64, lo, hi int) float64 {
	var total float64
	for acct, amount := range m {
		if acct >= lo && acct <= hi {
			total += amount
		}
	}
	return total
}

func hasRange(m map[int]float64, lo, hi int) bool {
	for acct := range m {
		if acct >= lo && acct <= hi {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

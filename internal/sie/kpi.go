package sie

import "time"

// KPIReport is the full KPI vector computed over one SIE file. Ratio and
// growth fields are nil when their denominators are zero/negative or when the
// prior year is absent. Flow aggregates are annualized for partial-year
// files; margin ratios and balance-sheet stocks are not.
type KPIReport struct {
	FiscalYear          int     `json:"fiscal_year"`
	Days                int     `json:"days"`
	Partial             bool    `json:"partial"`
	AnnualizationFactor float64 `json:"annualization_factor"`

	// Annualized flows (SEK).
	NetSales        float64 `json:"net_sales"`
	GrossProfit     float64 `json:"gross_profit"`
	EBITDA          float64 `json:"ebitda"`
	EBIT            float64 `json:"ebit"`
	ProfitBeforeTax float64 `json:"profit_before_tax"`
	NetIncome       float64 `json:"net_income"`

	// Balance-sheet stocks (SEK, closing; never annualized).
	TotalAssets          float64 `json:"total_assets"`
	AdjustedEquity       float64 `json:"adjusted_equity"`
	DeferredTaxLiability float64 `json:"deferred_tax_liability"`
	YTDResult            float64 `json:"ytd_result"`
	WorkingCapital       float64 `json:"working_capital"`

	// Margins (% of net sales; dimensionless, not annualized).
	GrossMargin     *float64 `json:"gross_margin"`
	EBITDAMargin    *float64 `json:"ebitda_margin"`
	OperatingMargin *float64 `json:"operating_margin"`
	ProfitMargin    *float64 `json:"profit_margin"`
	NetMargin       *float64 `json:"net_margin"`

	// Returns (%).
	ROA  *float64 `json:"roa"`
	ROE  *float64 `json:"roe"`
	ROCE *float64 `json:"roce"`

	// Capital structure.
	EquityRatio                 *float64 `json:"equity_ratio"`
	DebtToEquity                *float64 `json:"debt_to_equity"`
	InterestBearingDebtToEquity *float64 `json:"interest_bearing_debt_to_equity"`
	InterestCoverage            *float64 `json:"interest_coverage"`

	// Liquidity.
	CashRatio           *float64 `json:"cash_ratio"`
	QuickRatio          *float64 `json:"quick_ratio"`
	CurrentRatio        *float64 `json:"current_ratio"`
	WorkingCapitalRatio *float64 `json:"working_capital_ratio"`

	// Efficiency (days / turns; annualized flows in numerators).
	DIO           *float64 `json:"dio"`
	DSO           *float64 `json:"dso"`
	DPO           *float64 `json:"dpo"`
	CCC           *float64 `json:"ccc"`
	AssetTurnover *float64 `json:"asset_turnover"`

	// Growth (YoY %, nil without prior-year rows).
	RevenueGrowth        *float64 `json:"revenue_growth"`
	AssetGrowth          *float64 `json:"asset_growth"`
	AdjustedEquityGrowth *float64 `json:"adjusted_equity_growth"`
}

func ptr(v float64) *float64 { return &v }

// ComputeKPIs evaluates the KPI vector over the document's current-year
// balances, with access to year -1 for growth metrics.
func ComputeKPIs(doc *Document) *KPIReport {
	sets := collectBalances(doc)
	cur := sets[0]
	if cur == nil {
		cur = newBalanceSet()
	}
	prior := sets[-1]

	r := &KPIReport{FiscalYear: doc.Metadata.FiscalYearStart.Year()}

	// Annualization: a filing covering fewer than ~350 or more than ~380
	// days is scaled to a 365-day year for flow KPIs.
	r.Days = coverageDays(&doc.Metadata)
	r.AnnualizationFactor = 1.0
	if r.Days > 0 && (r.Days < 350 || r.Days > 380) {
		r.Partial = true
		r.AnnualizationFactor = 365.0 / float64(r.Days)
	}
	factor := r.AnnualizationFactor

	// Raw income-statement flows. RES rows are signed opposite to natural
	// reading: revenue negative, expenses positive.
	netSales := -sumRange(cur.res, basRevenueLo, basRevenueHi)
	cogs := sumRange(cur.res, basCOGSLo, basCOGSHi)
	opex := sumRange(cur.res, basOpexLo, basOpexHi)
	personnel := sumRange(cur.res, basPersonnelLo, basPersonnelHi)
	depreciation := sumRange(cur.res, basDepreciationLo, basDepreciationHi)
	financialIncome := -sumRange(cur.res, basFinancialIncomeLo, basFinancialIncomeHi)
	interestExpense := sumRange(cur.res, basInterestExpenseLo, basInterestExpenseHi)
	otherFinExpense := sumRange(cur.res, basOtherFinExpenseLo, basOtherFinExpenseHi)
	taxes := sumRange(cur.res, basTaxesLo, basTaxesHi)

	grossProfit := netSales - cogs
	ebit := grossProfit - opex - personnel - depreciation
	ebitda := ebit + depreciation
	profitBeforeTax := ebit + financialIncome - interestExpense - otherFinExpense
	netIncome := profitBeforeTax - taxes

	r.NetSales = netSales * factor
	r.GrossProfit = grossProfit * factor
	r.EBIT = ebit * factor
	r.EBITDA = ebitda * factor
	r.ProfitBeforeTax = profitBeforeTax * factor
	r.NetIncome = netIncome * factor

	// Stocks from closing balances.
	totalAssets := sumRange(cur.ub, basAssetsLo, basAssetsHi)
	inventory := sumRange(cur.ub, basInventoryLo, basInventoryHi)
	currentAssets := sumRange(cur.ub, basCurrentAssetsLo, basCurrentAssetsHi)
	receivables := sumRange(cur.ub, basCustomerReceivablesLo, basCustomerReceivablesHi)
	cash := sumRange(cur.ub, basCashLo, basCashHi)
	equity := sumRange(cur.ub, basEquityLo, basEquityHi)
	reserves := sumRange(cur.ub, basUntaxedReservesLo, basUntaxedReservesHi)
	longTermLiab := abs(sumRange(cur.ub, basLongTermLiabLo, basLongTermLiabHi))
	currentLiab := abs(sumRange(cur.ub, basCurrentLiabLo, basCurrentLiabHi))
	payables := abs(sumRange(cur.ub, basAccountsPayableLo, basAccountsPayableHi))
	ibDebt := abs(sumRange(cur.ub, basInterestBearingLTLo, basInterestBearingLTHi)) +
		abs(sumRange(cur.ub, basInterestBearingSTLo, basInterestBearingSTHi))

	// YTD result: the negated sum of current-year RES rows over 3000-8999.
	ytdResult := -sumRange(cur.res, basResultLo, basResultHi)
	adjEquity := abs(equity) + abs(reserves)*(1-CorporateTaxRate) + ytdResult

	r.TotalAssets = totalAssets
	r.YTDResult = ytdResult
	r.AdjustedEquity = adjEquity
	r.DeferredTaxLiability = abs(reserves) * CorporateTaxRate
	r.WorkingCapital = currentAssets - currentLiab

	// Averages for return ratios: (IB+UB)/2 when both sides exist, else
	// whichever is present.
	avgTotalAssets := average(
		sumRange(cur.ib, basAssetsLo, basAssetsHi), hasRange(cur.ib, basAssetsLo, basAssetsHi),
		totalAssets, hasRange(cur.ub, basAssetsLo, basAssetsHi))
	openingAdjEquity := abs(sumRange(cur.ib, basEquityLo, basEquityHi)) +
		abs(sumRange(cur.ib, basUntaxedReservesLo, basUntaxedReservesHi))*(1-CorporateTaxRate)
	avgAdjEquity := average(
		openingAdjEquity, hasRange(cur.ib, basEquityLo, basEquityHi),
		adjEquity, hasRange(cur.ub, basEquityLo, basEquityHi))
	openingIBDebt := abs(sumRange(cur.ib, basInterestBearingLTLo, basInterestBearingLTHi)) +
		abs(sumRange(cur.ib, basInterestBearingSTLo, basInterestBearingSTHi))
	avgIBDebt := average(
		openingIBDebt, hasRange(cur.ib, basLongTermLiabLo, basCurrentLiabHi),
		ibDebt, hasRange(cur.ub, basLongTermLiabLo, basCurrentLiabHi))
	avgInventory := average(
		sumRange(cur.ib, basInventoryLo, basInventoryHi), hasRange(cur.ib, basInventoryLo, basInventoryHi),
		inventory, hasRange(cur.ub, basInventoryLo, basInventoryHi))
	avgReceivables := average(
		sumRange(cur.ib, basCustomerReceivablesLo, basCustomerReceivablesHi), hasRange(cur.ib, basCustomerReceivablesLo, basCustomerReceivablesHi),
		receivables, hasRange(cur.ub, basCustomerReceivablesLo, basCustomerReceivablesHi))
	avgPayables := average(
		abs(sumRange(cur.ib, basAccountsPayableLo, basAccountsPayableHi)), hasRange(cur.ib, basAccountsPayableLo, basAccountsPayableHi),
		payables, hasRange(cur.ub, basAccountsPayableLo, basAccountsPayableHi))

	// Margins: ratios to net sales, percent, never annualized.
	if netSales != 0 {
		r.GrossMargin = ptr(grossProfit / netSales * 100)
		r.EBITDAMargin = ptr(ebitda / netSales * 100)
		r.OperatingMargin = ptr(ebit / netSales * 100)
		r.ProfitMargin = ptr(profitBeforeTax / netSales * 100)
		r.NetMargin = ptr(netIncome / netSales * 100)
	}

	// Returns.
	if avgTotalAssets > 0 {
		r.ROA = ptr(ebit * factor / avgTotalAssets * 100)
	}
	if avgAdjEquity > 0 {
		r.ROE = ptr(netIncome * factor / avgAdjEquity * 100)
	}
	if denom := avgAdjEquity + avgIBDebt; denom > 0 {
		r.ROCE = ptr(ebit * factor / denom * 100)
	}

	// Capital structure.
	if totalAssets > 0 {
		r.EquityRatio = ptr(adjEquity / totalAssets * 100)
	}
	if adjEquity > 0 {
		totalLiab := longTermLiab + currentLiab + abs(sumRange(cur.ub, basProvisionsLo, basProvisionsHi))
		r.DebtToEquity = ptr(totalLiab / adjEquity)
		r.InterestBearingDebtToEquity = ptr(ibDebt / adjEquity)
	}
	if interestExpense > 0 {
		r.InterestCoverage = ptr((ebit + financialIncome) * factor / (interestExpense * factor))
	}

	// Liquidity.
	if currentLiab > 0 {
		r.CashRatio = ptr(cash / currentLiab)
		r.QuickRatio = ptr((currentAssets - inventory) / currentLiab)
		r.CurrentRatio = ptr(currentAssets / currentLiab)
	}
	if r.NetSales > 0 {
		r.WorkingCapitalRatio = ptr(r.WorkingCapital / r.NetSales * 100)
	}

	// Efficiency: annualized flows wherever a flow enters the formula.
	annualCOGS := cogs * factor
	annualNetSales := netSales * factor
	if annualCOGS > 0 {
		r.DIO = ptr(avgInventory / annualCOGS * 365)
		r.DPO = ptr(avgPayables / annualCOGS * 365)
	}
	if annualNetSales > 0 {
		r.DSO = ptr(avgReceivables / annualNetSales * 365)
	}
	if r.DIO != nil && r.DSO != nil && r.DPO != nil {
		r.CCC = ptr(*r.DIO + *r.DSO - *r.DPO)
	}
	if avgTotalAssets > 0 {
		r.AssetTurnover = ptr(annualNetSales / avgTotalAssets)
	}

	// Growth: requires prior-year rows; absent prior year leaves nils.
	if prior != nil {
		priorNetSales := -sumRange(prior.res, basRevenueLo, basRevenueHi)
		if priorNetSales != 0 && hasRange(prior.res, basRevenueLo, basRevenueHi) {
			r.RevenueGrowth = ptr((netSales - priorNetSales) / abs(priorNetSales) * 100)
		}
		priorAssets := sumRange(prior.ub, basAssetsLo, basAssetsHi)
		if priorAssets != 0 && hasRange(prior.ub, basAssetsLo, basAssetsHi) {
			r.AssetGrowth = ptr((totalAssets - priorAssets) / abs(priorAssets) * 100)
		}
		priorYTD := -sumRange(prior.res, basResultLo, basResultHi)
		priorAdjEquity := abs(sumRange(prior.ub, basEquityLo, basEquityHi)) +
			abs(sumRange(prior.ub, basUntaxedReservesLo, basUntaxedReservesHi))*(1-CorporateTaxRate) +
			priorYTD
		if priorAdjEquity != 0 && hasRange(prior.ub, basEquityLo, basEquityHi) {
			r.AdjustedEquityGrowth = ptr((adjEquity - priorAdjEquity) / abs(priorAdjEquity) * 100)
		}
	}

	return r
}

// coverageDays is the day span the file covers: OMFATTN-fiscalYearStart+1
// for partial filings, else the full fiscal year.
func coverageDays(m *Metadata) int {
	if m.FiscalYearStart.IsZero() {
		return 0
	}
	end := m.FiscalYearEnd
	if m.OmfattnDate != nil {
		end = *m.OmfattnDate
	}
	if end.Before(m.FiscalYearStart) {
		return 0
	}
	return int(end.Sub(m.FiscalYearStart)/(24*time.Hour)) + 1
}

func average(opening float64, hasOpening bool, closing float64, hasClosing bool) float64 {
	switch {
	case hasOpening && hasClosing:
		return (opening + closing) / 2
	case hasOpening:
		return opening
	default:
		return closing
	}
}

package sie

import (
	"fmt"
	"math"
)

// Validation issue codes.
const (
	IssueNoClosingBalances = "NO_UB_ROWS"
	IssueNoResultRows      = "NO_RES_ROWS"
	IssueNoCurrentYear     = "NO_CURRENT_YEAR"
	IssueNoOpeningBalances = "NO_IB_ROWS"
	IssueNoPriorYear       = "NO_PRIOR_YEAR"
	IssueUnbalancedVoucher = "UNBALANCED_VOUCHER"
)

// ValidateBalances checks a parsed document for the balance rows the KPI
// engine needs. Missing UB, RES or current-year rows are hard errors; missing
// IB or prior-year rows are warnings (growth metrics go nil, nothing fails).
func ValidateBalances(doc *Document) ValidationResult {
	var res ValidationResult

	var curUB, curIB, curRES, prior bool
	for _, b := range doc.Balances {
		switch {
		case b.YearIndex == 0 && b.Kind == BalanceClosing:
			curUB = true
		case b.YearIndex == 0 && b.Kind == BalanceOpening:
			curIB = true
		case b.YearIndex == 0 && b.Kind == BalanceResult:
			curRES = true
		case b.YearIndex == -1:
			prior = true
		}
	}

	if !curUB && !curIB && !curRES {
		res.Errors = append(res.Errors, ValidationIssue{
			Code:    IssueNoCurrentYear,
			Message: "no current-year (year index 0) balance rows",
		})
		// The specific row checks below would only repeat the same finding.
		if !prior {
			res.Warnings = append(res.Warnings, ValidationIssue{
				Code:    IssueNoPriorYear,
				Message: "no prior-year rows; growth metrics unavailable",
			})
		}
		return res
	}

	if !curUB {
		res.Errors = append(res.Errors, ValidationIssue{
			Code:    IssueNoClosingBalances,
			Message: "no closing (#UB) rows for the current year",
		})
	}
	if !curRES {
		res.Errors = append(res.Errors, ValidationIssue{
			Code:    IssueNoResultRows,
			Message: "no income-statement (#RES) rows for the current year",
		})
	}
	if !curIB {
		res.Warnings = append(res.Warnings, ValidationIssue{
			Code:    IssueNoOpeningBalances,
			Message: "no opening (#IB) rows; return ratios use closing balances only",
		})
	}
	if !prior {
		res.Warnings = append(res.Warnings, ValidationIssue{
			Code:    IssueNoPriorYear,
			Message: "no prior-year rows; growth metrics unavailable",
		})
	}

	res.Errors = append(res.Errors, validateVouchers(doc)...)
	return res
}

// validateVouchers checks that each verification balances to zero (debits
// equal credits within rounding tolerance).
func validateVouchers(doc *Document) []ValidationIssue {
	sums := make(map[verKey]float64)
	var order []verKey
	for _, tx := range doc.Transactions {
		k := verKey{tx.Series, tx.VerificationNumber}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] += tx.Amount
	}

	var issues []ValidationIssue
	for _, k := range order {
		if math.Abs(sums[k]) > 0.005 {
			issues = append(issues, ValidationIssue{
				Code:    IssueUnbalancedVoucher,
				Message: fmt.Sprintf("verification %s %s does not balance: net %.2f", k.series, k.number, sums[k]),
			})
		}
	}
	return issues
}

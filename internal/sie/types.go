// Package sie implements the Swedish accounting interchange format (SIE):
// byte-level decoding, parsing into a structured document, re-export, balance
// validation and the KPI engine over a BAS chart of accounts.
package sie

import "time"

// Document is the parsed form of one SIE file.
type Document struct {
	Metadata     Metadata      `json:"metadata"`
	Accounts     []Account     `json:"accounts"`
	Dimensions   []Dimension   `json:"dimensions"`
	Transactions []Transaction `json:"transactions"`
	Balances     []Balance     `json:"balances"`
	// RawContent preserves the normalized source text for re-export.
	RawContent string `json:"raw_content,omitempty"`
}

// Metadata carries the file-level header fields.
type Metadata struct {
	CompanyName string `json:"company_name"`
	OrgNumber   string `json:"org_number,omitempty"`
	Currency    string `json:"currency"`
	SIEType     string `json:"sie_type"`
	Program     string `json:"program,omitempty"`
	GeneratedAt string `json:"generated_at,omitempty"`

	FiscalYearStart time.Time `json:"fiscal_year_start"`
	FiscalYearEnd   time.Time `json:"fiscal_year_end"`
	// OmfattnDate is the last-transaction date (#OMFATTN); set for
	// partial-year files.
	OmfattnDate *time.Time `json:"omfattn_date,omitempty"`

	// PriorYearStart/End come from the #RAR -1 row when present.
	PriorYearStart *time.Time `json:"prior_year_start,omitempty"`
	PriorYearEnd   *time.Time `json:"prior_year_end,omitempty"`
}

// Account is one chart-of-accounts row. Group is the first digit of the
// account number (BAS class).
type Account struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Group  string `json:"group,omitempty"`
}

// Dimension is one #DIM row.
type Dimension struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// Transaction is one flattened verification row: the verification header
// fields repeated per account entry.
type Transaction struct {
	Series             string            `json:"series"`
	VerificationNumber string            `json:"verification_number"`
	Date               string            `json:"date"` // YYYYMMDD as written
	Text               string            `json:"text,omitempty"`
	AccountNumber      string            `json:"account_number"`
	Amount             float64           `json:"amount"`
	Dimensions         map[string]string `json:"dimensions,omitempty"`
}

// BalanceKind tags the balance row type.
type BalanceKind string

const (
	BalanceOpening BalanceKind = "IB"  // opening balance
	BalanceClosing BalanceKind = "UB"  // closing balance
	BalanceResult  BalanceKind = "RES" // income-statement balance
)

// Balance is one #IB/#UB/#RES row. YearIndex 0 is the current year, -1 the
// previous.
type Balance struct {
	Kind          BalanceKind `json:"kind"`
	YearIndex     int         `json:"year_index"`
	AccountNumber string      `json:"account_number"`
	Amount        float64     `json:"amount"`
}

// ValidationIssue is one structured finding from ValidateBalances.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult separates hard errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// OK reports whether the document passed without hard errors.
func (v ValidationResult) OK() bool { return len(v.Errors) == 0 }

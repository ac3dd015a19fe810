package sie

import (
	"fmt"
	"sort"
	"strings"
)

// Write renders a Document back to SIE text. Verification rows are regrouped
// from the flattened transactions by (series, number). The output round-trips
// through Parse.
func Write(doc *Document) string {
	var b strings.Builder

	b.WriteString("#FLAGGA 0\n")
	if doc.Metadata.Program != "" {
		fmt.Fprintf(&b, "#PROGRAM %s\n", doc.Metadata.Program)
	}
	b.WriteString("#FORMAT PC8\n")
	if doc.Metadata.GeneratedAt != "" {
		fmt.Fprintf(&b, "#GEN %s\n", doc.Metadata.GeneratedAt)
	}
	if doc.Metadata.SIEType != "" {
		fmt.Fprintf(&b, "#SIETYP %s\n", doc.Metadata.SIEType)
	}
	if doc.Metadata.CompanyName != "" {
		fmt.Fprintf(&b, "#FNAMN %s\n", quote(doc.Metadata.CompanyName))
	}
	if doc.Metadata.OrgNumber != "" {
		fmt.Fprintf(&b, "#ORGNR %s\n", doc.Metadata.OrgNumber)
	}
	fmt.Fprintf(&b, "#VALUTA %s\n", doc.Metadata.Currency)
	if !doc.Metadata.FiscalYearStart.IsZero() {
		fmt.Fprintf(&b, "#RAR 0 %s %s\n",
			doc.Metadata.FiscalYearStart.Format("20060102"),
			doc.Metadata.FiscalYearEnd.Format("20060102"))
	}
	if doc.Metadata.PriorYearStart != nil && doc.Metadata.PriorYearEnd != nil {
		fmt.Fprintf(&b, "#RAR -1 %s %s\n",
			doc.Metadata.PriorYearStart.Format("20060102"),
			doc.Metadata.PriorYearEnd.Format("20060102"))
	}
	if doc.Metadata.OmfattnDate != nil {
		fmt.Fprintf(&b, "#OMFATTN %s\n", doc.Metadata.OmfattnDate.Format("20060102"))
	}

	for _, a := range doc.Accounts {
		fmt.Fprintf(&b, "#KONTO %s %s\n", a.Number, quote(a.Name))
	}
	for _, d := range doc.Dimensions {
		fmt.Fprintf(&b, "#DIM %s %s\n", d.Number, quote(d.Name))
	}
	for _, bal := range doc.Balances {
		fmt.Fprintf(&b, "#%s %d %s %s\n", bal.Kind, bal.YearIndex, bal.AccountNumber, formatAmount(bal.Amount))
	}

	writeVerifications(&b, doc.Transactions)
	return b.String()
}

type verKey struct {
	series string
	number string
}

func writeVerifications(b *strings.Builder, txs []Transaction) {
	groups := make(map[verKey][]Transaction)
	var order []verKey
	for _, tx := range txs {
		k := verKey{tx.Series, tx.VerificationNumber}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], tx)
	}
	// Preserve first-seen order; it matches the source file after a parse.
	for _, k := range order {
		rows := groups[k]
		head := rows[0]
		fmt.Fprintf(b, "#VER %s %s %s %s\n{\n", head.Series, head.VerificationNumber, head.Date, quote(head.Text))
		for _, tx := range rows {
			fmt.Fprintf(b, "   #TRANS %s %s %s\n", tx.AccountNumber, formatDimensionList(tx.Dimensions), formatAmount(tx.Amount))
		}
		b.WriteString("}\n")
	}
}

func formatDimensionList(dims map[string]string) string {
	if len(dims) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k, quote(dims[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	// SIE omits a trailing .00 for whole amounts in most emitters; keep the
	// two-decimal form for determinism.
	return s
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

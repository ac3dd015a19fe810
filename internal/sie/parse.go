package sie

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse reads normalized SIE text into a Document. The format is
// line-oriented: each line starts with a #LABEL followed by whitespace-
// separated fields, with quoting for embedded spaces and {}-blocks for
// verification rows and dimension lists.
func Parse(text string) (*Document, error) {
	doc := &Document{
		Metadata:   Metadata{Currency: "SEK"},
		RawContent: text,
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "#") {
			continue
		}
		fields := tokenize(line)
		if len(fields) == 0 {
			continue
		}
		label := strings.ToUpper(fields[0])
		args := fields[1:]

		switch label {
		case "#FNAMN":
			if len(args) > 0 {
				doc.Metadata.CompanyName = args[0]
			}
		case "#ORGNR":
			if len(args) > 0 {
				doc.Metadata.OrgNumber = args[0]
			}
		case "#VALUTA":
			if len(args) > 0 {
				doc.Metadata.Currency = args[0]
			}
		case "#SIETYP":
			if len(args) > 0 {
				doc.Metadata.SIEType = args[0]
			}
		case "#PROGRAM":
			doc.Metadata.Program = strings.Join(args, " ")
		case "#GEN":
			if len(args) > 0 {
				doc.Metadata.GeneratedAt = args[0]
			}
		case "#RAR":
			if err := parseRAR(doc, args); err != nil {
				return nil, fmt.Errorf("sie: line %d: %w", i+1, err)
			}
		case "#OMFATTN":
			if len(args) > 0 {
				d, err := parseDate(args[0])
				if err != nil {
					return nil, fmt.Errorf("sie: line %d: #OMFATTN: %w", i+1, err)
				}
				doc.Metadata.OmfattnDate = &d
			}
		case "#KONTO":
			if len(args) >= 2 {
				doc.Accounts = append(doc.Accounts, Account{
					Number: args[0],
					Name:   args[1],
					Group:  accountGroup(args[0]),
				})
			}
		case "#DIM":
			if len(args) >= 2 {
				doc.Dimensions = append(doc.Dimensions, Dimension{Number: args[0], Name: args[1]})
			}
		case "#IB", "#UB", "#RES":
			bal, err := parseBalance(BalanceKind(strings.TrimPrefix(label, "#")), args)
			if err != nil {
				return nil, fmt.Errorf("sie: line %d: %w", i+1, err)
			}
			doc.Balances = append(doc.Balances, bal)
		case "#VER":
			consumed, err := parseVerification(doc, args, lines, i)
			if err != nil {
				return nil, fmt.Errorf("sie: line %d: %w", i+1, err)
			}
			i += consumed
		}
	}

	if doc.Metadata.FiscalYearStart.IsZero() {
		return nil, fmt.Errorf("sie: missing #RAR fiscal year row")
	}
	return doc, nil
}

func parseRAR(doc *Document, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("#RAR needs yearIndex, start, end")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("#RAR year index %q: %w", args[0], err)
	}
	start, err := parseDate(args[1])
	if err != nil {
		return fmt.Errorf("#RAR start: %w", err)
	}
	end, err := parseDate(args[2])
	if err != nil {
		return fmt.Errorf("#RAR end: %w", err)
	}
	switch idx {
	case 0:
		doc.Metadata.FiscalYearStart = start
		doc.Metadata.FiscalYearEnd = end
	case -1:
		doc.Metadata.PriorYearStart = &start
		doc.Metadata.PriorYearEnd = &end
	}
	return nil
}

func parseBalance(kind BalanceKind, args []string) (Balance, error) {
	if len(args) < 3 {
		return Balance{}, fmt.Errorf("#%s needs yearIndex, account, amount", kind)
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return Balance{}, fmt.Errorf("#%s year index %q: %w", kind, args[0], err)
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return Balance{}, fmt.Errorf("#%s amount: %w", kind, err)
	}
	return Balance{Kind: kind, YearIndex: idx, AccountNumber: args[1], Amount: amount}, nil
}

// parseVerification reads a #VER header and its {...} block of #TRANS rows,
// appending one flattened Transaction per row. Returns the number of extra
// lines consumed.
func parseVerification(doc *Document, args []string, lines []string, start int) (int, error) {
	if len(args) < 3 {
		return 0, fmt.Errorf("#VER needs series, number, date")
	}
	// A bare { at the end of the header line is the block opener, not a field.
	if n := len(args); n > 3 && args[n-1] == "{" {
		args = args[:n-1]
	}
	series, number, date := args[0], args[1], args[2]
	text := ""
	if len(args) > 3 {
		text = args[3]
	}
	if _, err := parseDate(date); err != nil {
		return 0, fmt.Errorf("#VER date: %w", err)
	}

	consumed := 0
	i := start
	// The opening brace may trail the #VER line or sit on its own line.
	if !strings.HasSuffix(strings.TrimSpace(lines[i]), "{") {
		i++
		consumed++
		if i >= len(lines) || strings.TrimSpace(lines[i]) != "{" {
			return 0, fmt.Errorf("#VER %s %s: expected '{'", series, number)
		}
	}

	for {
		i++
		consumed++
		if i >= len(lines) {
			return 0, fmt.Errorf("#VER %s %s: unterminated block", series, number)
		}
		line := strings.TrimSpace(lines[i])
		if line == "}" {
			return consumed, nil
		}
		if line == "" {
			continue
		}
		fields := tokenize(line)
		if len(fields) == 0 {
			continue
		}
		label := strings.ToUpper(fields[0])
		// #RTRANS/#BTRANS are correction bookkeeping rows; only #TRANS
		// contributes to the flattened view.
		if label != "#TRANS" {
			continue
		}
		targs := fields[1:]
		if len(targs) < 3 {
			return 0, fmt.Errorf("#TRANS needs account, {dims}, amount")
		}
		amount, err := parseAmount(targs[2])
		if err != nil {
			return 0, fmt.Errorf("#TRANS amount: %w", err)
		}
		tx := Transaction{
			Series:             series,
			VerificationNumber: number,
			Date:               date,
			Text:               text,
			AccountNumber:      targs[0],
			Amount:             amount,
			Dimensions:         parseDimensionList(targs[1]),
		}
		// Optional per-row date and text override the header.
		if len(targs) > 3 && targs[3] != "" {
			if _, err := parseDate(targs[3]); err == nil {
				tx.Date = targs[3]
			}
		}
		if len(targs) > 4 && targs[4] != "" {
			tx.Text = targs[4]
		}
		doc.Transactions = append(doc.Transactions, tx)
	}
}

// parseDimensionList reads the {dim obj dim obj ...} field of a #TRANS row.
func parseDimensionList(field string) map[string]string {
	field = strings.TrimSpace(field)
	field = strings.TrimPrefix(field, "{")
	field = strings.TrimSuffix(field, "}")
	parts := tokenize(field)
	if len(parts) < 2 {
		return nil
	}
	dims := make(map[string]string, len(parts)/2)
	for j := 0; j+1 < len(parts); j += 2 {
		dims[parts[j]] = parts[j+1]
	}
	return dims
}

// tokenize splits a SIE line into fields, honoring double quotes and keeping
// {...} groups as single fields.
func tokenize(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	braceDepth := 0

	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && braceDepth == 0:
			if inQuote {
				// Closing quote: emit the field even if empty.
				fields = append(fields, cur.String())
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case inQuote:
			if c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\') {
				i++
				cur.WriteByte(line[i])
			} else {
				cur.WriteByte(c)
			}
		case c == '{':
			if braceDepth == 0 {
				flush()
			}
			braceDepth++
			cur.WriteByte(c)
		case c == '}':
			braceDepth--
			cur.WriteByte(c)
			if braceDepth == 0 {
				flush()
			}
		case braceDepth > 0:
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}

// accountGroup is the first digit of the account number (BAS class).
func accountGroup(number string) string {
	if number == "" {
		return ""
	}
	return number[:1]
}

// parseDate reads the SIE YYYYMMDD date form.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q", s)
	}
	return t, nil
}

// parseAmount reads a SIE decimal, tolerating a comma decimal separator.
func parseAmount(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}

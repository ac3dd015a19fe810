package sie

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSIE = `#FLAGGA 0
#PROGRAM "Testbok" 1.0
#FORMAT PC8
#SIETYP 4
#FNAMN "Kaffe & Bulle AB"
#ORGNR 5561234567
#VALUTA SEK
#RAR 0 20240101 20241231
#RAR -1 20230101 20231231
#KONTO 1510 "Kundfordringar"
#KONTO 1910 "Kassa"
#KONTO 2081 "Aktiekapital"
#KONTO 2440 "Leverantörsskulder"
#KONTO 3010 "Försäljning"
#KONTO 4010 "Inköp varor"
#DIM 1 "Kostnadsställe"
#IB 0 1510 80000.00
#IB 0 1910 120000.00
#IB 0 2081 -100000.00
#UB 0 1510 100000.00
#UB 0 1910 180000.00
#UB 0 2081 -100000.00
#UB 0 2440 -60000.00
#UB -1 1510 80000.00
#UB -1 1910 120000.00
#UB -1 2081 -100000.00
#RES 0 3010 -500000.00
#RES 0 4010 300000.00
#RES -1 3010 -400000.00
#RES -1 4010 250000.00
#VER A 1 20240215 "Kundfaktura"
{
   #TRANS 1510 {} 12500.00
   #TRANS 3010 {} -10000.00
   #TRANS 2611 {} -2500.00
}
#VER A 2 20240301 "Inköp"
{
   #TRANS 4010 {1 "100"} 4000.00
   #TRANS 1910 {} -4000.00
}
`

func TestParseSample(t *testing.T) {
	doc, err := Parse(sampleSIE)
	require.NoError(t, err)

	assert.Equal(t, "Kaffe & Bulle AB", doc.Metadata.CompanyName)
	assert.Equal(t, "5561234567", doc.Metadata.OrgNumber)
	assert.Equal(t, "SEK", doc.Metadata.Currency)
	assert.Equal(t, "4", doc.Metadata.SIEType)
	assert.Equal(t, 2024, doc.Metadata.FiscalYearStart.Year())
	require.NotNil(t, doc.Metadata.PriorYearStart)
	assert.Equal(t, 2023, doc.Metadata.PriorYearStart.Year())

	require.Len(t, doc.Accounts, 6)
	assert.Equal(t, "1", doc.Accounts[0].Group)
	assert.Equal(t, "Kundfordringar", doc.Accounts[0].Name)

	require.Len(t, doc.Dimensions, 1)
	assert.Equal(t, "Kostnadsställe", doc.Dimensions[0].Name)

	// Current year: 3 IB + 4 UB + 2 RES; prior year: 3 UB + 2 RES.
	assert.Len(t, doc.Balances, 14)

	// Flattened transactions: 3 + 2 rows.
	require.Len(t, doc.Transactions, 5)
	first := doc.Transactions[0]
	assert.Equal(t, "A", first.Series)
	assert.Equal(t, "1", first.VerificationNumber)
	assert.Equal(t, "20240215", first.Date)
	assert.Equal(t, "Kundfaktura", first.Text)
	assert.Equal(t, "1510", first.AccountNumber)
	assert.Equal(t, 12500.0, first.Amount)

	withDim := doc.Transactions[3]
	assert.Equal(t, map[string]string{"1": "100"}, withDim.Dimensions)
}

func TestParseVerificationBraceOnHeaderLine(t *testing.T) {
	doc, err := Parse(`#RAR 0 20240101 20241231
#VER A 1 20240101 {
   #TRANS 1910 {} 100.00
   #TRANS 3010 {} -100.00
}
#VER A 2 20240102 "Hyra" {
   #TRANS 5010 {} 100.00
   #TRANS 1910 {} -100.00
}
`)
	require.NoError(t, err)
	require.Len(t, doc.Transactions, 4)
	assert.Equal(t, "", doc.Transactions[0].Text)
	assert.Equal(t, "Hyra", doc.Transactions[2].Text)
}

func TestParseRejectsMissingFiscalYear(t *testing.T) {
	_, err := Parse("#FNAMN Bolag\n#UB 0 1910 100.00\n")
	assert.Error(t, err)
}

func TestVerificationsBalance(t *testing.T) {
	doc, err := Parse(sampleSIE)
	require.NoError(t, err)

	res := ValidateBalances(doc)
	assert.True(t, res.OK(), "errors: %v", res.Errors)

	// Per-voucher debits equal credits.
	sums := map[string]float64{}
	for _, tx := range doc.Transactions {
		sums[tx.Series+tx.VerificationNumber] += tx.Amount
	}
	for ver, sum := range sums {
		assert.InDelta(t, 0, sum, 0.005, "voucher %s", ver)
	}
}

func TestValidateFindsUnbalancedVoucher(t *testing.T) {
	broken := strings.Replace(sampleSIE, "#TRANS 2611 {} -2500.00", "#TRANS 2611 {} -2000.00", 1)
	doc, err := Parse(broken)
	require.NoError(t, err)

	res := ValidateBalances(doc)
	require.False(t, res.OK())
	assert.Equal(t, IssueUnbalancedVoucher, res.Errors[0].Code)
}

func TestValidateMissingRows(t *testing.T) {
	doc, err := Parse("#FNAMN X\n#RAR 0 20240101 20241231\n#IB 0 1910 5.00\n")
	require.NoError(t, err)

	res := ValidateBalances(doc)
	require.False(t, res.OK())
	codes := map[string]bool{}
	for _, e := range res.Errors {
		codes[e.Code] = true
	}
	assert.True(t, codes[IssueNoClosingBalances])
	assert.True(t, codes[IssueNoResultRows])
	warnCodes := map[string]bool{}
	for _, w := range res.Warnings {
		warnCodes[w.Code] = true
	}
	assert.True(t, warnCodes[IssueNoPriorYear])
}

func TestDecodeCP437(t *testing.T) {
	// "#FNAMN Sötmjölk" with ö=0x94 in CP437.
	raw := []byte("#FNAMN S\x94tmj\x94lk\n#RAR 0 20240101 20241231\n")
	text, err := Decode(raw)
	require.NoError(t, err)
	assert.Contains(t, text, "Sötmjölk")
}

func TestDecodeUTF8BOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("#FNAMN Sötmjölk\n")...)
	text, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "#FNAMN"))
	assert.Contains(t, text, "Sötmjölk")
}

func TestDecodeRejectsNULBytes(t *testing.T) {
	_, err := Decode([]byte{'#', 0x00, 'F'})
	assert.Error(t, err)
}

func TestDecodeRejectsEmpty(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	doc, err := Parse(sampleSIE)
	require.NoError(t, err)

	out := Write(doc)
	doc2, err := Parse(out)
	require.NoError(t, err)

	assert.Equal(t, doc.Metadata.CompanyName, doc2.Metadata.CompanyName)
	assert.Equal(t, doc.Metadata.OrgNumber, doc2.Metadata.OrgNumber)
	assert.Equal(t, doc.Metadata.FiscalYearStart, doc2.Metadata.FiscalYearStart)
	assert.Equal(t, len(doc.Accounts), len(doc2.Accounts))
	assert.Equal(t, len(doc.Balances), len(doc2.Balances))
	require.Equal(t, len(doc.Transactions), len(doc2.Transactions))
	for i := range doc.Transactions {
		assert.Equal(t, doc.Transactions[i].AccountNumber, doc2.Transactions[i].AccountNumber)
		assert.Equal(t, doc.Transactions[i].Amount, doc2.Transactions[i].Amount)
	}
}

func TestKPIFullYear(t *testing.T) {
	doc, err := Parse(sampleSIE)
	require.NoError(t, err)

	k := ComputeKPIs(doc)
	assert.False(t, k.Partial)
	assert.Equal(t, 1.0, k.AnnualizationFactor)

	assert.InDelta(t, 500000, k.NetSales, 0.01)
	assert.InDelta(t, 200000, k.GrossProfit, 0.01)
	// YTD result: -( -500000 + 300000 ) = 200000
	assert.InDelta(t, 200000, k.YTDResult, 0.01)
	// Adjusted equity: |−100000| + 0 + 200000
	assert.InDelta(t, 300000, k.AdjustedEquity, 0.01)
	assert.InDelta(t, 280000, k.TotalAssets, 0.01)

	require.NotNil(t, k.GrossMargin)
	assert.InDelta(t, 40.0, *k.GrossMargin, 0.001)

	// Growth against year -1: (500000-400000)/400000.
	require.NotNil(t, k.RevenueGrowth)
	assert.InDelta(t, 25.0, *k.RevenueGrowth, 0.001)
	require.NotNil(t, k.AssetGrowth)
	assert.InDelta(t, 40.0, *k.AssetGrowth, 0.001)
}

func TestKPIPartialYearAnnualization(t *testing.T) {
	partial := strings.Replace(sampleSIE,
		"#RAR -1 20230101 20231231",
		"#RAR -1 20230101 20231231\n#OMFATTN 20240630", 1)
	doc, err := Parse(partial)
	require.NoError(t, err)

	k := ComputeKPIs(doc)
	require.True(t, k.Partial)
	assert.Equal(t, 182, k.Days)
	assert.InDelta(t, 365.0/182.0, k.AnnualizationFactor, 0.0001)

	// Flow KPIs annualized.
	assert.InDelta(t, 500000*365.0/182.0, k.NetSales, 0.5)
	// Margins are not annualized.
	require.NotNil(t, k.GrossMargin)
	assert.InDelta(t, 40.0, *k.GrossMargin, 0.001)
	// Stocks are not annualized.
	assert.InDelta(t, 280000, k.TotalAssets, 0.01)

	// Efficiency denominators use annualized net sales.
	require.NotNil(t, k.AssetTurnover)
	avgAssets := (200000.0 + 280000.0) / 2
	assert.InDelta(t, 500000*(365.0/182.0)/avgAssets, *k.AssetTurnover, 0.001)
}

func TestKPIGrowthNullWithoutPriorYear(t *testing.T) {
	var lines []string
	for _, line := range strings.Split(sampleSIE, "\n") {
		if strings.Contains(line, " -1 ") {
			continue
		}
		lines = append(lines, line)
	}
	doc, err := Parse(strings.Join(lines, "\n"))
	require.NoError(t, err)

	k := ComputeKPIs(doc)
	assert.Nil(t, k.RevenueGrowth)
	assert.Nil(t, k.AssetGrowth)
	assert.Nil(t, k.AdjustedEquityGrowth)
	// Non-growth KPIs still compute.
	require.NotNil(t, k.GrossMargin)
	require.NotNil(t, k.ROA)
}

func TestAccountGroupDerivation(t *testing.T) {
	doc, err := Parse(sampleSIE)
	require.NoError(t, err)
	for _, a := range doc.Accounts {
		assert.Equal(t, a.Number[:1], a.Group)
	}
}

package core

// ResourceType is the closed enum of canonical business resources the gateway
// exposes on the data plane. Each maps to a vendor-specific endpoint through
// the resource registry.
type ResourceType string

const (
	ResourceSalesInvoices      ResourceType = "sales-invoices"
	ResourceSupplierInvoices   ResourceType = "supplier-invoices"
	ResourceCustomers          ResourceType = "customers"
	ResourceSuppliers          ResourceType = "suppliers"
	ResourceJournals           ResourceType = "journals"
	ResourceAccountingAccounts ResourceType = "accounting-accounts"
	ResourceCompanyInformation ResourceType = "company-information"
	ResourcePayments           ResourceType = "payments"
	ResourceAttachments        ResourceType = "attachments"
	ResourceBalanceSheet       ResourceType = "balance-sheet"
	ResourceIncomeStatement    ResourceType = "income-statement"
	ResourceTrialBalances      ResourceType = "trial-balances"
)

// Money is the canonical monetary shape. CurrencyCode defaults to SEK when
// the vendor omits it.
type Money struct {
	Value        float64 `json:"value"`
	CurrencyCode string  `json:"currencyCode"`
}

// SEK wraps an amount in the default currency.
func SEK(v float64) Money { return Money{Value: v, CurrencyCode: "SEK"} }

// InvoiceStatus values shared by sales and supplier invoices. Derivation from
// vendor flags follows a fixed precedence: cancelled > credited > paid >
// booked > sent > draft.
const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusSent      = "sent"
	InvoiceStatusBooked    = "booked"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusUnpaid    = "unpaid"
	InvoiceStatusCredited  = "credited"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusUnknown   = "unknown"
)

// SalesInvoice is the canonical customer-invoice DTO.
type SalesInvoice struct {
	ID             string                 `json:"id"`
	InvoiceNumber  string                 `json:"invoiceNumber,omitempty"`
	CustomerNumber string                 `json:"customerNumber,omitempty"`
	CustomerName   string                 `json:"customerName,omitempty"`
	InvoiceDate    string                 `json:"invoiceDate,omitempty"`
	DueDate        string                 `json:"dueDate,omitempty"`
	Total          Money                  `json:"total"`
	Balance        *Money                 `json:"balance,omitempty"`
	Status         string                 `json:"status"`
	Raw            map[string]interface{} `json:"_raw,omitempty"`
}

// SupplierInvoice is the canonical supplier-invoice DTO. Status derives from
// the remaining balance: paid when zero, unpaid when positive, else unknown.
type SupplierInvoice struct {
	ID             string                 `json:"id"`
	InvoiceNumber  string                 `json:"invoiceNumber,omitempty"`
	SupplierNumber string                 `json:"supplierNumber,omitempty"`
	SupplierName   string                 `json:"supplierName,omitempty"`
	InvoiceDate    string                 `json:"invoiceDate,omitempty"`
	DueDate        string                 `json:"dueDate,omitempty"`
	Total          Money                  `json:"total"`
	Balance        *Money                 `json:"balance,omitempty"`
	Status         string                 `json:"status"`
	Raw            map[string]interface{} `json:"_raw,omitempty"`
}

// CustomerType discriminates company and private customers.
const (
	CustomerTypeCompany = "company"
	CustomerTypePrivate = "private"
)

// Customer is the canonical customer DTO.
type Customer struct {
	ID             string                 `json:"id"`
	CustomerNumber string                 `json:"customerNumber,omitempty"`
	Name           string                 `json:"name"`
	Type           string                 `json:"type,omitempty"` // company | private
	OrgNumber      string                 `json:"orgNumber,omitempty"`
	Email          string                 `json:"email,omitempty"`
	Phone          string                 `json:"phone,omitempty"`
	Address        string                 `json:"address,omitempty"`
	City           string                 `json:"city,omitempty"`
	ZipCode        string                 `json:"zipCode,omitempty"`
	CountryCode    string                 `json:"countryCode,omitempty"`
	Raw            map[string]interface{} `json:"_raw,omitempty"`
}

// Supplier is the canonical supplier DTO.
type Supplier struct {
	ID             string                 `json:"id"`
	SupplierNumber string                 `json:"supplierNumber,omitempty"`
	Name           string                 `json:"name"`
	OrgNumber      string                 `json:"orgNumber,omitempty"`
	Email          string                 `json:"email,omitempty"`
	BankAccount    string                 `json:"bankAccount,omitempty"`
	Bankgiro       string                 `json:"bankgiro,omitempty"`
	Plusgiro       string                 `json:"plusgiro,omitempty"`
	Raw            map[string]interface{} `json:"_raw,omitempty"`
}

// JournalEntry is one balanced row of a journal voucher.
type JournalEntry struct {
	AccountNumber   string  `json:"accountNumber"`
	AccountName     string  `json:"accountName,omitempty"`
	Debit           float64 `json:"debit"`
	Credit          float64 `json:"credit"`
	TransactionDate string  `json:"transactionDate,omitempty"`
	Description     string  `json:"description,omitempty"`
}

// Journal is a voucher header plus its entries. Invariant: the sum of debits
// equals the sum of credits.
type Journal struct {
	ID          string                 `json:"id"`
	Series      string                 `json:"series,omitempty"`
	Number      string                 `json:"number,omitempty"`
	Date        string                 `json:"date,omitempty"`
	Description string                 `json:"description,omitempty"`
	FiscalYear  int                    `json:"fiscalYear,omitempty"`
	Entries     []JournalEntry         `json:"entries"`
	Raw         map[string]interface{} `json:"_raw,omitempty"`
}

// Account classes derived from the first BAS digit.
const (
	AccountTypeAsset     = "asset"
	AccountTypeLiability = "liability"
	AccountTypeRevenue   = "revenue"
	AccountTypeExpense   = "expense"
)

// AccountingAccount is one row of the chart of accounts.
type AccountingAccount struct {
	Number      string                 `json:"number"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type,omitempty"` // from first BAS digit
	Active      bool                   `json:"active"`
	VATCode     string                 `json:"vatCode,omitempty"`
	YearBalance *float64               `json:"yearBalance,omitempty"`
	Raw         map[string]interface{} `json:"_raw,omitempty"`
}

// AccountTypeFromBAS derives the canonical account type from the first digit
// of a BAS account number: 1 asset, 2 liability, 3 revenue, 4-7 expense.
// Anything else yields the empty string.
func AccountTypeFromBAS(number string) string {
	if number == "" {
		return ""
	}
	switch number[0] {
	case '1':
		return AccountTypeAsset
	case '2':
		return AccountTypeLiability
	case '3':
		return AccountTypeRevenue
	case '4', '5', '6', '7':
		return AccountTypeExpense
	default:
		return ""
	}
}

// CompanyInformation is the canonical company-info DTO.
type CompanyInformation struct {
	Name      string                 `json:"name"`
	OrgNumber string                 `json:"orgNumber,omitempty"`
	Address   string                 `json:"address,omitempty"`
	City      string                 `json:"city,omitempty"`
	ZipCode   string                 `json:"zipCode,omitempty"`
	Country   string                 `json:"country,omitempty"`
	Email     string                 `json:"email,omitempty"`
	Phone     string                 `json:"phone,omitempty"`
	VATNumber string                 `json:"vatNumber,omitempty"`
	Raw       map[string]interface{} `json:"_raw,omitempty"`
}

// Payment is the canonical payment DTO covering both customer and supplier
// invoice payments.
type Payment struct {
	ID          string                 `json:"id"`
	InvoiceID   string                 `json:"invoiceId,omitempty"`
	PaymentDate string                 `json:"paymentDate,omitempty"`
	Amount      Money                  `json:"amount"`
	Booked      bool                   `json:"booked"`
	Raw         map[string]interface{} `json:"_raw,omitempty"`
}

// PaginatedResponse is the wire shape of every collection response.
type PaginatedResponse struct {
	Data       []interface{} `json:"data"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalCount int           `json:"totalCount"`
	TotalPages int           `json:"totalPages,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

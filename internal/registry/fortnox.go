package registry

import (
	"fmt"
	"strings"

	"github.com/nordledger/gateway/internal/core"
)

func fortnoxDescriptors() map[core.ResourceType]*Descriptor {
	return map[core.ResourceType]*Descriptor{
		core.ResourceSalesInvoices: {
			Resource:             core.ResourceSalesInvoices,
			ListPath:             "/invoices",
			DetailPath:           "/invoices/{id}",
			ListKey:              "Invoices",
			DetailKey:            "Invoice",
			IDField:              "DocumentNumber",
			Map:                  mapFortnoxSalesInvoice,
			Paginated:            true,
			SupportsLastModified: true,
			Writable:             true,
		},
		core.ResourceSupplierInvoices: {
			Resource:             core.ResourceSupplierInvoices,
			ListPath:             "/supplierinvoices",
			DetailPath:           "/supplierinvoices/{id}",
			ListKey:              "SupplierInvoices",
			DetailKey:            "SupplierInvoice",
			IDField:              "GivenNumber",
			Map:                  mapFortnoxSupplierInvoice,
			Paginated:            true,
			SupportsLastModified: true,
		},
		core.ResourceCustomers: {
			Resource:             core.ResourceCustomers,
			ListPath:             "/customers",
			DetailPath:           "/customers/{id}",
			ListKey:              "Customers",
			DetailKey:            "Customer",
			IDField:              "CustomerNumber",
			Map:                  mapFortnoxCustomer,
			Paginated:            true,
			SupportsLastModified: true,
			Writable:             true,
		},
		core.ResourceSuppliers: {
			Resource:   core.ResourceSuppliers,
			ListPath:   "/suppliers",
			DetailPath: "/suppliers/{id}",
			ListKey:    "Suppliers",
			DetailKey:  "Supplier",
			IDField:    "SupplierNumber",
			Map:        mapFortnoxSupplier,
			Paginated:  true,
		},
		core.ResourceJournals: {
			Resource:   core.ResourceJournals,
			ListPath:   "/vouchers",
			DetailPath: "/vouchers/{id}",
			ListKey:    "Vouchers",
			DetailKey:  "Voucher",
			IDField:    "VoucherNumber",
			Map:        mapFortnoxJournal,
			Paginated:  true,
			// List shape lacks VoucherRows; detail fetches fill the entries.
			SupportsEntryHydration: true,
			ResolveDetailPath:      fortnoxVoucherDetailPath,
		},
		core.ResourceAccountingAccounts: {
			Resource:   core.ResourceAccountingAccounts,
			ListPath:   "/accounts",
			DetailPath: "/accounts/{id}",
			ListKey:    "Accounts",
			DetailKey:  "Account",
			IDField:    "Number",
			Map:        mapFortnoxAccount,
			Paginated:  true,
		},
		core.ResourceCompanyInformation: {
			Resource:   core.ResourceCompanyInformation,
			DetailPath: "/companyinformation",
			DetailKey:  "CompanyInformation",
			Map:        mapFortnoxCompanyInformation,
			Singleton:  true,
		},
		core.ResourcePayments: {
			Resource:   core.ResourcePayments,
			ListPath:   "/invoicepayments",
			DetailPath: "/invoicepayments/{id}",
			ListKey:    "InvoicePayments",
			DetailKey:  "InvoicePayment",
			IDField:    "Number",
			Map:        mapFortnoxPayment,
			Paginated:  true,
		},
	}
}

// fortnoxVoucherDetailPath resolves a dash-joined composite id into the
// series/number path Fortnox addresses vouchers by.
func fortnoxVoucherDetailPath(id string) (string, error) {
	series, number, ok := strings.Cut(id, "-")
	if !ok || series == "" || number == "" {
		return "", fmt.Errorf("voucher id %q: want <series>-<number>", id)
	}
	return "/vouchers/" + series + "/" + number, nil
}

// fortnoxInvoiceStatus derives canonical status from the vendor flags with
// the fixed precedence cancelled > credited > paid > booked > sent > draft.
// paid is FullyPaid or a present zero balance.
func fortnoxInvoiceStatus(raw map[string]interface{}) string {
	balance, hasBalance := num(raw, "Balance")
	switch {
	case boolField(raw, "Cancelled"):
		return core.InvoiceStatusCancelled
	case boolField(raw, "Credited") || str(raw, "CreditInvoiceReference") != "":
		return core.InvoiceStatusCredited
	case boolField(raw, "FullyPaid") || (hasBalance && balance == 0):
		return core.InvoiceStatusPaid
	case boolField(raw, "Booked"):
		return core.InvoiceStatusBooked
	case boolField(raw, "Sent"):
		return core.InvoiceStatusSent
	default:
		return core.InvoiceStatusDraft
	}
}

func mapFortnoxSalesInvoice(raw map[string]interface{}) interface{} {
	return &core.SalesInvoice{
		ID:             str(raw, "DocumentNumber"),
		InvoiceNumber:  str(raw, "DocumentNumber"),
		CustomerNumber: str(raw, "CustomerNumber"),
		CustomerName:   str(raw, "CustomerName"),
		InvoiceDate:    str(raw, "InvoiceDate"),
		DueDate:        str(raw, "DueDate"),
		Total:          money(raw, "Total", "Currency"),
		Balance:        moneyPtr(raw, "Balance", "Currency"),
		Status:         fortnoxInvoiceStatus(raw),
		Raw:            raw,
	}
}

func mapFortnoxSupplierInvoice(raw map[string]interface{}) interface{} {
	remaining, known := num(raw, "Balance")
	return &core.SupplierInvoice{
		ID:             str(raw, "GivenNumber"),
		InvoiceNumber:  str(raw, "InvoiceNumber"),
		SupplierNumber: str(raw, "SupplierNumber"),
		SupplierName:   str(raw, "SupplierName"),
		InvoiceDate:    str(raw, "InvoiceDate"),
		DueDate:        str(raw, "DueDate"),
		Total:          money(raw, "Total", "Currency"),
		Balance:        moneyPtr(raw, "Balance", "Currency"),
		Status:         supplierInvoiceStatus(remaining, known),
		Raw:            raw,
	}
}

func mapFortnoxCustomer(raw map[string]interface{}) interface{} {
	custType := core.CustomerTypeCompany
	if strings.EqualFold(str(raw, "Type"), "PRIVATE") {
		custType = core.CustomerTypePrivate
	}
	return &core.Customer{
		ID:             str(raw, "CustomerNumber"),
		CustomerNumber: str(raw, "CustomerNumber"),
		Name:           str(raw, "Name"),
		Type:           custType,
		OrgNumber:      str(raw, "OrganisationNumber"),
		Email:          str(raw, "Email"),
		Phone:          str(raw, "Phone"),
		Address:        str(raw, "Address1"),
		City:           str(raw, "City"),
		ZipCode:        str(raw, "ZipCode"),
		CountryCode:    str(raw, "CountryCode"),
		Raw:            raw,
	}
}

func mapFortnoxSupplier(raw map[string]interface{}) interface{} {
	return &core.Supplier{
		ID:             str(raw, "SupplierNumber"),
		SupplierNumber: str(raw, "SupplierNumber"),
		Name:           str(raw, "Name"),
		OrgNumber:      str(raw, "OrganisationNumber"),
		Email:          str(raw, "Email"),
		BankAccount:    str(raw, "BankAccountNumber"),
		Bankgiro:       str(raw, "BG"),
		Plusgiro:       str(raw, "PG"),
		Raw:            raw,
	}
}

func mapFortnoxJournal(raw map[string]interface{}) interface{} {
	series := str(raw, "VoucherSeries")
	number := str(raw, "VoucherNumber")
	j := &core.Journal{
		ID:          series + "-" + number,
		Series:      series,
		Number:      number,
		Date:        str(raw, "TransactionDate"),
		Description: str(raw, "Description"),
		Raw:         raw,
	}
	if year, ok := num(raw, "Year"); ok {
		j.FiscalYear = int(year)
	}
	for _, row := range objList(raw, "VoucherRows") {
		j.Entries = append(j.Entries, core.JournalEntry{
			AccountNumber:   str(row, "Account"),
			AccountName:     str(row, "Description"),
			Debit:           numOr(row, "Debit", 0),
			Credit:          numOr(row, "Credit", 0),
			TransactionDate: str(row, "TransactionDate"),
			Description:     str(row, "Description"),
		})
	}
	return j
}

func mapFortnoxAccount(raw map[string]interface{}) interface{} {
	number := str(raw, "Number")
	acct := &core.AccountingAccount{
		Number:  number,
		Name:    str(raw, "Description"),
		Type:    core.AccountTypeFromBAS(number),
		Active:  boolField(raw, "Active"),
		VATCode: str(raw, "VATCode"),
		Raw:     raw,
	}
	if balance, ok := num(raw, "BalanceCarriedForward"); ok {
		acct.YearBalance = &balance
	}
	return acct
}

func mapFortnoxCompanyInformation(raw map[string]interface{}) interface{} {
	return &core.CompanyInformation{
		Name:      str(raw, "CompanyName"),
		OrgNumber: str(raw, "OrganizationNumber"),
		Address:   str(raw, "Address"),
		City:      str(raw, "City"),
		ZipCode:   str(raw, "ZipCode"),
		Country:   str(raw, "CountryCode"),
		Raw:       raw,
	}
}

func mapFortnoxPayment(raw map[string]interface{}) interface{} {
	return &core.Payment{
		ID:          str(raw, "Number"),
		InvoiceID:   str(raw, "InvoiceNumber"),
		PaymentDate: str(raw, "PaymentDate"),
		Amount:      money(raw, "Amount", "Currency"),
		Booked:      boolField(raw, "Booked"),
		Raw:         raw,
	}
}

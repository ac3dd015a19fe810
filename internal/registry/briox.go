package registry

import "github.com/nordledger/gateway/internal/core"

func brioxDescriptors() map[core.ResourceType]*Descriptor {
	return map[core.ResourceType]*Descriptor{
		core.ResourceSalesInvoices: {
			Resource:   core.ResourceSalesInvoices,
			ListPath:   "/invoices",
			DetailPath: "/invoices/{id}",
			ListKey:    "invoices",
			DetailKey:  "invoice",
			IDField:    "id",
			Map:        mapBrioxSalesInvoice,
			Paginated:  true,
		},
		core.ResourceSupplierInvoices: {
			Resource:   core.ResourceSupplierInvoices,
			ListPath:   "/supplierinvoices",
			DetailPath: "/supplierinvoices/{id}",
			ListKey:    "supplierInvoices",
			DetailKey:  "supplierInvoice",
			IDField:    "id",
			Map:        mapBrioxSupplierInvoice,
			Paginated:  true,
		},
		core.ResourceCustomers: {
			Resource:   core.ResourceCustomers,
			ListPath:   "/customers",
			DetailPath: "/customers/{id}",
			ListKey:    "customers",
			DetailKey:  "customer",
			IDField:    "customerNumber",
			Map:        mapBrioxCustomer,
			Paginated:  true,
		},
		core.ResourceJournals: {
			Resource: core.ResourceJournals,
			// Briox scopes journals under the fiscal year; the gateway fills
			// {year} with the caller's or the current one.
			ListPath:   "/journals/{year}",
			DetailPath: "/journals/{year}/{id}",
			ListKey:    "journals",
			DetailKey:  "journal",
			IDField:    "id",
			Map:        mapBrioxJournal,
			Paginated:  true,
			YearScoped: true,
		},
		core.ResourceAccountingAccounts: {
			Resource:   core.ResourceAccountingAccounts,
			ListPath:   "/accounts",
			DetailPath: "/accounts/{id}",
			ListKey:    "accounts",
			DetailKey:  "account",
			IDField:    "number",
			Map:        mapBrioxAccount,
			Paginated:  true,
		},
		core.ResourceCompanyInformation: {
			Resource:   core.ResourceCompanyInformation,
			DetailPath: "/settings/company",
			DetailKey:  "company",
			Map:        mapBrioxCompanyInformation,
			Singleton:  true,
		},
	}
}

func mapBrioxSalesInvoice(raw map[string]interface{}) interface{} {
	remaining, hasRemaining := num(raw, "balance")
	status := core.InvoiceStatusDraft
	switch {
	case boolField(raw, "cancelled"):
		status = core.InvoiceStatusCancelled
	case boolField(raw, "credited"):
		status = core.InvoiceStatusCredited
	case hasRemaining && remaining == 0:
		status = core.InvoiceStatusPaid
	case boolField(raw, "booked"):
		status = core.InvoiceStatusBooked
	case boolField(raw, "sent"):
		status = core.InvoiceStatusSent
	}
	return &core.SalesInvoice{
		ID:             str(raw, "id"),
		InvoiceNumber:  str(raw, "invoiceNumber"),
		CustomerNumber: str(raw, "customerNumber"),
		CustomerName:   str(raw, "customerName"),
		InvoiceDate:    str(raw, "invoiceDate"),
		DueDate:        str(raw, "dueDate"),
		Total:          money(raw, "total", "currency"),
		Balance:        moneyPtr(raw, "balance", "currency"),
		Status:         status,
		Raw:            raw,
	}
}

func mapBrioxSupplierInvoice(raw map[string]interface{}) interface{} {
	remaining, known := num(raw, "balance")
	return &core.SupplierInvoice{
		ID:             str(raw, "id"),
		InvoiceNumber:  str(raw, "invoiceNumber"),
		SupplierNumber: str(raw, "supplierNumber"),
		SupplierName:   str(raw, "supplierName"),
		InvoiceDate:    str(raw, "invoiceDate"),
		DueDate:        str(raw, "dueDate"),
		Total:          money(raw, "total", "currency"),
		Balance:        moneyPtr(raw, "balance", "currency"),
		Status:         supplierInvoiceStatus(remaining, known),
		Raw:            raw,
	}
}

func mapBrioxCustomer(raw map[string]interface{}) interface{} {
	custType := core.CustomerTypeCompany
	if str(raw, "type") == "private" {
		custType = core.CustomerTypePrivate
	}
	return &core.Customer{
		ID:             str(raw, "customerNumber"),
		CustomerNumber: str(raw, "customerNumber"),
		Name:           str(raw, "name"),
		Type:           custType,
		OrgNumber:      str(raw, "orgNumber"),
		Email:          str(raw, "email"),
		Phone:          str(raw, "phone"),
		Address:        str(raw, "address"),
		City:           str(raw, "city"),
		ZipCode:        str(raw, "zipCode"),
		CountryCode:    str(raw, "countryCode"),
		Raw:            raw,
	}
}

func mapBrioxJournal(raw map[string]interface{}) interface{} {
	j := &core.Journal{
		ID:          str(raw, "id"),
		Series:      str(raw, "series"),
		Number:      str(raw, "number"),
		Date:        str(raw, "date"),
		Description: str(raw, "description"),
		Raw:         raw,
	}
	if year, ok := num(raw, "fiscalYear"); ok {
		j.FiscalYear = int(year)
	}
	for _, row := range objList(raw, "rows") {
		j.Entries = append(j.Entries, core.JournalEntry{
			AccountNumber:   str(row, "account"),
			AccountName:     str(row, "accountName"),
			Debit:           numOr(row, "debit", 0),
			Credit:          numOr(row, "credit", 0),
			TransactionDate: str(row, "date"),
			Description:     str(row, "text"),
		})
	}
	return j
}

func mapBrioxAccount(raw map[string]interface{}) interface{} {
	number := str(raw, "number")
	acct := &core.AccountingAccount{
		Number:  number,
		Name:    str(raw, "name"),
		Type:    core.AccountTypeFromBAS(number),
		Active:  boolField(raw, "active"),
		VATCode: str(raw, "vatCode"),
		Raw:     raw,
	}
	if balance, ok := num(raw, "balance"); ok {
		acct.YearBalance = &balance
	}
	return acct
}

func mapBrioxCompanyInformation(raw map[string]interface{}) interface{} {
	return &core.CompanyInformation{
		Name:      str(raw, "name"),
		OrgNumber: str(raw, "orgNumber"),
		Address:   str(raw, "address"),
		City:      str(raw, "city"),
		ZipCode:   str(raw, "zipCode"),
		Country:   str(raw, "country"),
		Email:     str(raw, "email"),
		Phone:     str(raw, "phone"),
		VATNumber: str(raw, "vatNumber"),
		Raw:       raw,
	}
}

package registry

import "github.com/nordledger/gateway/internal/core"

func bjornLundenDescriptors() map[core.ResourceType]*Descriptor {
	return map[core.ResourceType]*Descriptor{
		core.ResourceSalesInvoices: {
			Resource:   core.ResourceSalesInvoices,
			ListPath:   "/sales",
			DetailPath: "/sales/{id}",
			ListKey:    "sales",
			IDField:    "id",
			Map:        mapBLSalesInvoice,
			Paginated:  true,
		},
		core.ResourceSupplierInvoices: {
			Resource:   core.ResourceSupplierInvoices,
			ListPath:   "/supplierinvoices",
			DetailPath: "/supplierinvoices/{id}",
			ListKey:    "supplierInvoices",
			IDField:    "id",
			Map:        mapBLSupplierInvoice,
			Paginated:  true,
		},
		core.ResourceCustomers: {
			Resource:   core.ResourceCustomers,
			ListPath:   "/customer",
			DetailPath: "/customer/{id}",
			ListKey:    "customers",
			IDField:    "id",
			Map:        mapBLCustomer,
			Paginated:  true,
		},
		core.ResourceSuppliers: {
			Resource:   core.ResourceSuppliers,
			ListPath:   "/supplier",
			DetailPath: "/supplier/{id}",
			ListKey:    "suppliers",
			IDField:    "id",
			Map:        mapBLSupplier,
			Paginated:  true,
		},
		core.ResourceJournals: {
			Resource:   core.ResourceJournals,
			ListPath:   "/journal",
			DetailPath: "/journal/{id}",
			ListKey:    "journals",
			IDField:    "id",
			Map:        mapBLJournal,
			Paginated:  true,
		},
		core.ResourceAccountingAccounts: {
			Resource:   core.ResourceAccountingAccounts,
			ListPath:   "/account",
			DetailPath: "/account/{id}",
			ListKey:    "accounts",
			IDField:    "number",
			Map:        mapBLAccount,
			Paginated:  true,
		},
		core.ResourceCompanyInformation: {
			Resource:   core.ResourceCompanyInformation,
			DetailPath: "/company",
			Map:        mapBLCompanyInformation,
			Singleton:  true,
		},
	}
}

func mapBLSalesInvoice(raw map[string]interface{}) interface{} {
	remaining, hasRemaining := num(raw, "remainingAmount")
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
		Total:          money(raw, "totalAmount", "currencyCode"),
		Balance:        moneyPtr(raw, "remainingAmount", "currencyCode"),
		Status:         status,
		Raw:            raw,
	}
}

func mapBLSupplierInvoice(raw map[string]interface{}) interface{} {
	remaining, known := num(raw, "remainingAmount")
	return &core.SupplierInvoice{
		ID:             str(raw, "id"),
		InvoiceNumber:  str(raw, "invoiceNumber"),
		SupplierNumber: str(raw, "supplierNumber"),
		SupplierName:   str(raw, "supplierName"),
		InvoiceDate:    str(raw, "invoiceDate"),
		DueDate:        str(raw, "dueDate"),
		Total:          money(raw, "totalAmount", "currencyCode"),
		Balance:        moneyPtr(raw, "remainingAmount", "currencyCode"),
		Status:         supplierInvoiceStatus(remaining, known),
		Raw:            raw,
	}
}

func mapBLCustomer(raw map[string]interface{}) interface{} {
	custType := core.CustomerTypeCompany
	if boolField(raw, "privatePerson") {
		custType = core.CustomerTypePrivate
	}
	return &core.Customer{
		ID:             str(raw, "id"),
		CustomerNumber: str(raw, "customerNumber"),
		Name:           str(raw, "name"),
		Type:           custType,
		OrgNumber:      str(raw, "orgNo"),
		Email:          str(raw, "email"),
		Phone:          str(raw, "phone"),
		Address:        str(raw, "street"),
		City:           str(raw, "city"),
		ZipCode:        str(raw, "zipCode"),
		CountryCode:    str(raw, "countryCode"),
		Raw:            raw,
	}
}

func mapBLSupplier(raw map[string]interface{}) interface{} {
	return &core.Supplier{
		ID:             str(raw, "id"),
		SupplierNumber: str(raw, "supplierNumber"),
		Name:           str(raw, "name"),
		OrgNumber:      str(raw, "orgNo"),
		Email:          str(raw, "email"),
		BankAccount:    str(raw, "bankAccount"),
		Bankgiro:       str(raw, "bankgiro"),
		Plusgiro:       str(raw, "plusgiro"),
		Raw:            raw,
	}
}

func mapBLJournal(raw map[string]interface{}) interface{} {
	j := &core.Journal{
		ID:          str(raw, "id"),
		Series:      str(raw, "journalSeries"),
		Number:      str(raw, "journalNo"),
		Date:        str(raw, "journalDate"),
		Description: str(raw, "journalText"),
		Raw:         raw,
	}
	if year, ok := num(raw, "fiscalYear"); ok {
		j.FiscalYear = int(year)
	}
	for _, row := range objList(raw, "ledgerEntries") {
		j.Entries = append(j.Entries, core.JournalEntry{
			AccountNumber:   str(row, "accountNo"),
			AccountName:     str(row, "accountName"),
			Debit:           numOr(row, "debit", 0),
			Credit:          numOr(row, "credit", 0),
			TransactionDate: str(row, "entryDate"),
			Description:     str(row, "text"),
		})
	}
	return j
}

func mapBLAccount(raw map[string]interface{}) interface{} {
	number := str(raw, "number")
	acct := &core.AccountingAccount{
		Number:  number,
		Name:    str(raw, "name"),
		Type:    core.AccountTypeFromBAS(number),
		Active:  !boolField(raw, "blocked"),
		VATCode: str(raw, "vatCode"),
		Raw:     raw,
	}
	if balance, ok := num(raw, "balance"); ok {
		acct.YearBalance = &balance
	}
	return acct
}

func mapBLCompanyInformation(raw map[string]interface{}) interface{} {
	return &core.CompanyInformation{
		Name:      str(raw, "name"),
		OrgNumber: str(raw, "orgNo"),
		Address:   str(raw, "street"),
		City:      str(raw, "city"),
		ZipCode:   str(raw, "zipCode"),
		Country:   str(raw, "country"),
		Email:     str(raw, "email"),
		Phone:     str(raw, "phone"),
		VATNumber: str(raw, "vatNo"),
		Raw:       raw,
	}
}
